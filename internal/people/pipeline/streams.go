package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
	"golang.org/x/sync/errgroup"
)

// Stream is one independent detection source with its own sink.
type Stream struct {
	Name   string
	Source l1detect.Source
	Sink   Sink
}

// StreamResult is the outcome of one stream in RunStreams.
type StreamResult struct {
	Name    string
	Stats   Stats
	Summary []l3zones.ZoneSummary
	Err     error
}

// RunStreams runs each stream on its own orchestrator, at most workers at
// a time (workers ≤ 0 means unlimited). A failing stream does not cancel
// the others; results come back in input order and the returned error is
// the first stream failure, if any.
func RunStreams(ctx context.Context, tuning *config.TuningConfig, zones []l3zones.ZoneDefinition, streams []Stream, workers int) ([]StreamResult, error) {
	orchs := make([]*Orchestrator, len(streams))
	for i, s := range streams {
		o, err := New(Config{StreamName: s.Name, Tuning: tuning, Zones: zones, Sink: s.Sink})
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", s.Name, err)
		}
		orchs[i] = o
	}

	results := make([]StreamResult, len(streams))
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, s := range streams {
		g.Go(func() error {
			o := orchs[i]
			stats, err := o.Run(ctx, s.Source)
			results[i] = StreamResult{Name: o.Name(), Stats: stats, Summary: o.Summary(), Err: err}
			if err != nil {
				return fmt.Errorf("stream %q: %w", o.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	diagf("%d streams finished", len(streams))
	return results, err
}

// MemorySink collects outputs in memory. Safe for concurrent use.
type MemorySink struct {
	mu           sync.Mutex
	events       []l3zones.ZoneEvent
	observations []l4activity.Observation
}

// RecordZoneEvents appends events.
func (m *MemorySink) RecordZoneEvents(events []l3zones.ZoneEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// RecordObservations appends observations.
func (m *MemorySink) RecordObservations(obs []l4activity.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs...)
	return nil
}

// Events returns a copy of the recorded zone events.
func (m *MemorySink) Events() []l3zones.ZoneEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]l3zones.ZoneEvent(nil), m.events...)
}

// Observations returns a copy of the recorded observations.
func (m *MemorySink) Observations() []l4activity.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]l4activity.Observation(nil), m.observations...)
}
