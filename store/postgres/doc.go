// Package postgres provides the PostgreSQL persistence backend built on
// pgx/v5. It implements the item, checkpoint, and queue store contracts
// and relies on the database for the two invariants the system cannot
// enforce in memory:
//
//   - a partial unique index keeps at most one active checkpoint per
//     (work item, graph) pair, making SaveCheckpoint an atomic upsert
//   - a partial unique index keeps at most one open request per work
//     item, so EnqueueRequest rejects concurrent attachments
//
// Request claiming uses FOR UPDATE SKIP LOCKED so multiple worker
// processes can poll the same tables without claiming the same request
// twice. Schema setup is code-driven through [Store.Migrate]; applied
// migrations are tracked in the prfactory_migrations table.
package postgres
