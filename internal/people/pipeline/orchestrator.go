package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/banshee-data/occupancy.report/internal/people/l2track"
	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
)

var (
	// ErrFrameOutOfOrder is returned when a frame index does not strictly
	// increase, is negative, or its timestamp goes backwards.
	ErrFrameOutOfOrder = errors.New("frame out of order")

	// ErrStreamFailed is returned for every frame after a fatal error.
	ErrStreamFailed = errors.New("stream failed")

	// ErrStopped is returned once Stop or Flush has taken effect.
	ErrStopped = errors.New("orchestrator stopped")
)

// Sink receives the ordered outputs of a stream.
type Sink interface {
	RecordZoneEvents(events []l3zones.ZoneEvent) error
	RecordObservations(obs []l4activity.Observation) error
}

// Config holds the dependencies for one stream.
type Config struct {
	StreamName string
	Tuning     *config.TuningConfig
	Zones      []l3zones.ZoneDefinition
	Sink       Sink // Optional
}

// FrameResult is the output of one Advance call.
type FrameResult struct {
	Frame        int64
	Time         time.Duration
	Tracks       l2track.Update
	Events       []l3zones.ZoneEvent
	Zones        []l3zones.ZoneStatus
	Observations []l4activity.Observation
}

// FlushResult is the end-of-stream output.
type FlushResult struct {
	Retired      []l2track.Track
	Events       []l3zones.ZoneEvent
	Observations []l4activity.Observation
}

// Stats counts what a stream has produced so far.
type Stats struct {
	Frames       int64
	Identities   int64
	ZoneEvents   int64
	Observations int64
	Dropped      int64
}

// Orchestrator runs Associator → Zone Engine → Activity Classifier → Sink
// for one stream. Advance and Flush must be called from a single
// goroutine; Stop may be called from any goroutine.
type Orchestrator struct {
	name     string
	tuning   *config.TuningConfig
	assoc    *l2track.Associator
	zones    *l3zones.Engine
	activity *l4activity.Classifier
	sink     Sink

	started   bool
	lastFrame int64
	lastTime  time.Duration
	failed    error
	flushed   bool
	stopped   atomic.Bool

	stats Stats
}

// New validates the tuning and zones and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	engine, err := l3zones.NewEngine(l3zones.EngineConfigFromTuning(tuning), cfg.Zones)
	if err != nil {
		return nil, err
	}
	name := cfg.StreamName
	if name == "" {
		name = "default"
	}
	return &Orchestrator{
		name:     name,
		tuning:   tuning,
		assoc:    l2track.NewAssociator(l2track.AssociatorConfigFromTuning(tuning)),
		zones:    engine,
		activity: l4activity.NewClassifier(l4activity.ClassifierConfigFromTuning(tuning)),
		sink:     cfg.Sink,
	}, nil
}

// Name returns the stream name.
func (o *Orchestrator) Name() string {
	return o.name
}

// Advance processes one frame. Detections must already be confidence
// filtered.
func (o *Orchestrator) Advance(frameIndex int64, ts time.Duration, dets []l1detect.RawDetection) (FrameResult, error) {
	if o.failed != nil {
		return FrameResult{}, fmt.Errorf("%w: %w", ErrStreamFailed, o.failed)
	}
	if o.flushed || o.stopped.Load() {
		return FrameResult{}, ErrStopped
	}
	if err := o.checkOrder(frameIndex, ts); err != nil {
		return FrameResult{}, o.fail(err)
	}
	o.started = true
	o.lastFrame = frameIndex
	o.lastTime = ts

	up, err := o.assoc.Update(l1detect.Frame{Index: frameIndex, Timestamp: ts, Detections: dets})
	if err != nil {
		return FrameResult{}, o.fail(err)
	}

	res := FrameResult{Frame: frameIndex, Time: ts, Tracks: up}

	// Retired tracks close at their last seen frame, ahead of this frame's
	// transitions.
	for _, tr := range up.Retired {
		res.Events = append(res.Events, o.zones.Retire(tr.ID, tr.LastSeenFrame, tr.LastSeenTime)...)
		o.activity.Forget(tr.ID)
	}

	occupants := make([]l3zones.Occupant, len(up.Active))
	for i, tr := range up.Active {
		occupants[i] = l3zones.Occupant{ID: tr.ID, BBox: tr.BBox, Keypoints: tr.Keypoints}
	}
	holding := make([]int64, len(up.Ghosts))
	for i, tr := range up.Ghosts {
		holding[i] = tr.ID
	}
	fz := o.zones.Update(frameIndex, ts, occupants, holding)
	res.Events = append(res.Events, fz.Events...)
	res.Zones = fz.Status

	for _, tr := range up.Active {
		if len(fz.Inside[tr.ID]) == 0 {
			continue
		}
		res.Observations = append(res.Observations,
			o.activity.Observe(frameIndex, ts, tr.ID, tr.BBox, tr.Keypoints))
	}

	if err := o.emit(res.Events, res.Observations); err != nil {
		return res, o.fail(err)
	}

	o.stats.Frames++
	o.stats.Identities = o.assoc.NextID() - 1
	o.stats.Dropped += int64(up.Dropped)
	tracef("[%s] frame %d: active=%d ghosts=%d events=%d observations=%d",
		o.name, frameIndex, len(up.Active), len(up.Ghosts), len(res.Events), len(res.Observations))
	return res, nil
}

func (o *Orchestrator) checkOrder(frameIndex int64, ts time.Duration) error {
	switch {
	case frameIndex < 0:
		return fmt.Errorf("%w: negative frame index %d", ErrFrameOutOfOrder, frameIndex)
	case !o.started:
		return nil
	case frameIndex <= o.lastFrame:
		return fmt.Errorf("%w: frame %d after %d", ErrFrameOutOfOrder, frameIndex, o.lastFrame)
	case ts < o.lastTime:
		return fmt.Errorf("%w: frame %d time %s before %s", ErrFrameOutOfOrder, frameIndex, ts, o.lastTime)
	}
	return nil
}

func (o *Orchestrator) fail(err error) error {
	o.failed = err
	opsf("[%s] stream failed: %v", o.name, err)
	return err
}

func (o *Orchestrator) emit(events []l3zones.ZoneEvent, obs []l4activity.Observation) error {
	o.stats.ZoneEvents += int64(len(events))
	o.stats.Observations += int64(len(obs))
	if o.sink == nil {
		return nil
	}
	if len(events) > 0 {
		if err := o.sink.RecordZoneEvents(events); err != nil {
			return fmt.Errorf("record zone events: %w", err)
		}
	}
	if len(obs) > 0 {
		if err := o.sink.RecordObservations(obs); err != nil {
			return fmt.Errorf("record observations: %w", err)
		}
	}
	return nil
}

// Flush ends the stream: a final activity observation for every person
// with classifier state, a forced exit for every open zone record, and
// retirement of every track. Later calls are no-ops.
func (o *Orchestrator) Flush() (FlushResult, error) {
	if o.flushed {
		return FlushResult{}, nil
	}
	o.flushed = true

	var res FlushResult
	for _, id := range o.activity.Tracked() {
		if obs, ok := o.activity.Final(id, o.lastFrame, o.lastTime); ok {
			res.Observations = append(res.Observations, obs)
		}
	}
	res.Retired = o.assoc.RetireAll()
	for _, tr := range res.Retired {
		res.Events = append(res.Events, o.zones.Retire(tr.ID, tr.LastSeenFrame, tr.LastSeenTime)...)
		o.activity.Forget(tr.ID)
	}
	for _, id := range o.activity.Tracked() {
		o.activity.Forget(id)
	}

	err := o.emit(res.Events, res.Observations)
	if err != nil {
		opsf("[%s] flush: %v", o.name, err)
	}
	diagf("[%s] flushed after %d frames: retired=%d events=%d final=%d",
		o.name, o.stats.Frames, len(res.Retired), len(res.Events), len(res.Observations))
	return res, err
}

// Stop asks the orchestrator to refuse frames from the next boundary on.
// Safe for concurrent use.
func (o *Orchestrator) Stop() {
	if !o.stopped.Swap(true) {
		diagf("[%s] stop requested", o.name)
	}
}

// Stopped reports whether Stop has been called.
func (o *Orchestrator) Stopped() bool {
	return o.stopped.Load()
}

// Stats returns the running counters.
func (o *Orchestrator) Stats() Stats {
	return o.stats
}

// Summary returns the per-zone summaries for the stream so far.
func (o *Orchestrator) Summary() []l3zones.ZoneSummary {
	return o.zones.Summary()
}

// Run drives src until it is exhausted, Stop is called, or ctx is
// cancelled, then flushes. Frame errors end the run after the flush and
// are returned.
func (o *Orchestrator) Run(ctx context.Context, src l1detect.Source) (Stats, error) {
	diagf("[%s] run started", o.name)
	runErr := o.drive(ctx, src)
	if _, err := o.Flush(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		opsf("[%s] run ended: %v", o.name, runErr)
	} else {
		diagf("[%s] run complete: %d frames, %d identities", o.name, o.stats.Frames, o.stats.Identities)
	}
	return o.stats, runErr
}

func (o *Orchestrator) drive(ctx context.Context, src l1detect.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.stopped.Load() {
			return nil
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if _, err := o.Advance(frame.Index, frame.Timestamp, frame.Detections); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
}
