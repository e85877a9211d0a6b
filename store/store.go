// Package store defines the aggregate persistence interface. Each
// subsystem (item, checkpoint, queue) defines its own store interface;
// the composite Store composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	item.Store
	checkpoint.Store
	queue.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
