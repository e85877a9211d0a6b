// Package prfactory provides a checkpointed workflow execution engine that
// drives long-running, multi-phase work items (ticket, analysis, plan,
// implementation) through suspend/resume points triggered by asynchronous
// external events, using a database-backed polling queue.
//
// PRFactory is designed as a library, not a service. Import it, configure a
// store, register phase graphs, and start the worker loop.
//
// # Quick Start
//
//	f, err := prfactory.New(
//	    prfactory.WithStore(pgStore),
//	    prfactory.WithConcurrency(10),
//	)
//
// # Architecture
//
// PRFactory follows a composable store pattern where each subsystem (item,
// checkpoint, queue) defines its own store interface. A single backend
// implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package prfactory
