// Package graph defines phase graphs, their execution context, and the
// runner that drives them.
//
// A [Graph] is an ordered list of named steps. The [Runner] executes
// steps in order, persisting a checkpoint after every step — including
// the last — so a crash never repeats completed work. A step may branch
// by naming the next step in its [Decision], or suspend the run to wait
// for external input; a suspended run is picked back up by Resume from
// its latest active checkpoint.
//
// Steps carry their working state in the execution's state bag, a
// JSON-serializable key/value store that round-trips through the
// checkpoint store byte for byte.
package graph
