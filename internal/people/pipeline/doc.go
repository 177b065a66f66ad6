// Package pipeline provides the per-frame orchestrator for the people
// tracking core and a runner for parallel independent streams.
//
// This package is the composition root: it imports from layer packages
// (l1detect, l2track, l3zones, l4activity) and hands outputs to a Sink,
// but none of those packages import pipeline/. Each stream owns one
// Orchestrator; frames within a stream are processed strictly in order on
// a single goroutine.
package pipeline
