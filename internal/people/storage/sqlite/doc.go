// Package sqlite contains SQLite repository implementations for the people
// tracking domain types.
//
// All database read/write operations for sessions, zone events, activity
// observations and zone summaries belong here rather than in the layer
// packages (l2track, l3zones, l4activity). EventStore implements
// pipeline.Sink so an orchestrator can persist its output directly.
package sqlite
