package postgres

// migration is a named, ordered set of DDL statements. Applied
// migrations are recorded in prfactory_migrations and never re-run.
type migration struct {
	name       string
	statements []string
}

var migrations = []migration{
	{
		name: "001_create_work_items",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS prfactory_work_items (
				id            TEXT PRIMARY KEY,
				tenant_id     TEXT NOT NULL,
				external_key  TEXT NOT NULL,
				phase         TEXT NOT NULL DEFAULT 'triggered',
				retry_count   INTEGER NOT NULL DEFAULT 0,
				last_error    TEXT NOT NULL DEFAULT '',
				archived      BOOLEAN NOT NULL DEFAULT FALSE,
				archived_at   TIMESTAMPTZ,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			// One live work item per ticket within a tenant; archived
			// items free the key for re-triggering.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_prfactory_work_items_external_key
				ON prfactory_work_items (tenant_id, external_key)
				WHERE archived = FALSE`,
			`CREATE INDEX IF NOT EXISTS idx_prfactory_work_items_list
				ON prfactory_work_items (tenant_id, created_at DESC)`,
		},
	},
	{
		name: "002_create_checkpoints",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS prfactory_checkpoints (
				id            TEXT PRIMARY KEY,
				tenant_id     TEXT NOT NULL,
				work_item_id  TEXT NOT NULL REFERENCES prfactory_work_items (id),
				graph_id      TEXT NOT NULL,
				label         TEXT NOT NULL,
				state_json    BYTEA NOT NULL,
				next_step     TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL DEFAULT 'active',
				resumed_at    TIMESTAMPTZ,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			// At most one active checkpoint per (work item, graph).
			// SaveCheckpoint upserts against this index.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_prfactory_checkpoints_active
				ON prfactory_checkpoints (work_item_id, graph_id)
				WHERE status = 'active'`,
			`CREATE INDEX IF NOT EXISTS idx_prfactory_checkpoints_history
				ON prfactory_checkpoints (tenant_id, work_item_id, updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_prfactory_checkpoints_sweep
				ON prfactory_checkpoints (created_at)
				WHERE status = 'active'`,
		},
	},
	{
		name: "003_create_requests",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS prfactory_requests (
				id            TEXT PRIMARY KEY,
				tenant_id     TEXT NOT NULL,
				work_item_id  TEXT NOT NULL REFERENCES prfactory_work_items (id),
				graph_id      TEXT NOT NULL,
				kind          TEXT NOT NULL,
				payload       BYTEA,
				state         TEXT NOT NULL DEFAULT 'pending',
				attempt       INTEGER NOT NULL DEFAULT 0,
				run_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				claimed_by    TEXT NOT NULL DEFAULT '',
				claimed_at    TIMESTAMPTZ,
				completed_at  TIMESTAMPTZ,
				last_error    TEXT NOT NULL DEFAULT '',
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			// A work item holds at most one open request. Enqueue relies
			// on this index to reject concurrent attachments.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_prfactory_requests_open
				ON prfactory_requests (work_item_id)
				WHERE state IN ('pending', 'claimed', 'retrying')`,
			`CREATE INDEX IF NOT EXISTS idx_prfactory_requests_poll
				ON prfactory_requests (kind, run_at ASC)
				WHERE state IN ('pending', 'retrying')`,
		},
	},
}
