package l3zones

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/stat"
)

// OccupancyLevel is the instantaneous crowding band of a zone.
type OccupancyLevel string

const (
	LevelLow    OccupancyLevel = "low"
	LevelMedium OccupancyLevel = "medium"
	LevelHigh   OccupancyLevel = "high"
)

// EventKind distinguishes entry and exit events.
type EventKind string

const (
	EventEntry EventKind = "entry"
	EventExit  EventKind = "exit"
)

// ZoneEvent is one append-only entry or exit. Duration is set on exits
// only. Forced exits are emitted on track retirement at the track's last
// seen frame and time.
type ZoneEvent struct {
	PersonID int64
	ZoneID   int
	Kind     EventKind
	Frame    int64
	Time     time.Duration
	Duration *time.Duration
	Forced   bool
}

func (e ZoneEvent) String() string {
	if e.Kind == EventExit && e.Duration != nil {
		forced := ""
		if e.Forced {
			forced = " (forced)"
		}
		return fmt.Sprintf("person %d exit zone %d at frame %d after %s%s", e.PersonID, e.ZoneID, e.Frame, *e.Duration, forced)
	}
	return fmt.Sprintf("person %d %s zone %d at frame %d", e.PersonID, e.Kind, e.ZoneID, e.Frame)
}

// ZoneOccupancyRecord is the open visit of one person in one zone.
type ZoneOccupancyRecord struct {
	PersonID        int64
	ZoneID          int
	EntryFrame      int64
	EntryTime       time.Duration
	CurrentDuration time.Duration
	LastSeenTime    time.Duration
}

// ZoneStatus is the per-frame occupancy of one zone. Occupants includes
// ghost tracks still holding a record.
type ZoneStatus struct {
	ZoneID    int
	Name      string
	Count     int
	Level     OccupancyLevel
	Occupants []int64
}

// Occupant is a visible person presented to the engine for one frame.
type Occupant struct {
	ID        int64
	BBox      l1detect.BBox
	Keypoints l1detect.Keypoints
}

// FrameZones is the engine output for one frame.
type FrameZones struct {
	Events []ZoneEvent
	Status []ZoneStatus

	// Inside maps each visible person to the zones containing its anchor.
	Inside map[int64][]int
}

// EngineConfig selects the reference point used for the inside test.
type EngineConfig struct {
	Anchor                string // config.AnchorCenter or config.AnchorFoot
	KeypointConfidenceMin float64
}

// EngineConfigFromTuning builds an EngineConfig from a loaded TuningConfig.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	return EngineConfig{
		Anchor:                cfg.GetZoneAnchor(),
		KeypointConfidenceMin: cfg.GetKeypointConfidenceMin(),
	}
}

type record struct {
	entryFrame   int64
	entryTime    time.Duration
	lastSeenTime time.Duration
}

type zoneState struct {
	def     ZoneDefinition
	bounds  r2.Rect
	records map[int64]*record

	entries int
	exits   int
	peak    int
	dwell   map[int64]time.Duration // Completed visit time per person
}

// Engine tracks zone membership for one stream. It is not safe for
// concurrent use.
type Engine struct {
	cfg   EngineConfig
	zones []*zoneState
}

// NewEngine validates the zones and returns an engine with no open records.
func NewEngine(cfg EngineConfig, zones []ZoneDefinition) (*Engine, error) {
	if err := ValidateZones(zones); err != nil {
		return nil, err
	}
	if cfg.Anchor == "" {
		cfg.Anchor = config.AnchorCenter
	}
	if cfg.Anchor != config.AnchorCenter && cfg.Anchor != config.AnchorFoot {
		return nil, fmt.Errorf("unknown zone anchor %q", cfg.Anchor)
	}
	e := &Engine{cfg: cfg, zones: make([]*zoneState, len(zones))}
	for i, z := range zones {
		poly := append([]r2.Point(nil), z.Polygon...)
		z.Polygon = poly
		e.zones[i] = &zoneState{
			def:     z,
			bounds:  bounds(poly),
			records: make(map[int64]*record),
			dwell:   make(map[int64]time.Duration),
		}
	}
	return e, nil
}

// Zones returns the zone definitions in configuration order.
func (e *Engine) Zones() []ZoneDefinition {
	out := make([]ZoneDefinition, len(e.zones))
	for i, zs := range e.zones {
		out[i] = zs.def
	}
	return out
}

// Anchor returns the reference point tested against zone polygons.
func (e *Engine) Anchor(o Occupant) r2.Point {
	if e.cfg.Anchor == config.AnchorFoot {
		if p, ok := o.Keypoints.Midpoint(l1detect.LeftAnkle, l1detect.RightAnkle, e.cfg.KeypointConfidenceMin); ok {
			return p
		}
		return o.BBox.BottomCenter()
	}
	return o.BBox.Center()
}

// Update applies one frame. Visible occupants are tested against every
// zone; ids in holding (ghost tracks) keep their records untouched.
// Occupants are processed in the order given, zones in configuration order.
func (e *Engine) Update(frame int64, now time.Duration, active []Occupant, holding []int64) FrameZones {
	out := FrameZones{Inside: make(map[int64][]int, len(active))}

	for _, o := range active {
		anchor := e.Anchor(o)
		for _, zs := range e.zones {
			inside := zs.bounds.ContainsPoint(anchor) && Contains(zs.def.Polygon, anchor)
			rec, open := zs.records[o.ID]
			switch {
			case inside && !open:
				zs.records[o.ID] = &record{entryFrame: frame, entryTime: now, lastSeenTime: now}
				zs.entries++
				out.Events = append(out.Events, ZoneEvent{
					PersonID: o.ID, ZoneID: zs.def.ID, Kind: EventEntry, Frame: frame, Time: now,
				})
				diagf("frame %d: person %d entered zone %d", frame, o.ID, zs.def.ID)
			case inside && open:
				rec.lastSeenTime = now
			case !inside && open:
				out.Events = append(out.Events, zs.close(o.ID, rec, frame, now, false))
				diagf("frame %d: person %d exited zone %d", frame, o.ID, zs.def.ID)
			}
			if inside {
				out.Inside[o.ID] = append(out.Inside[o.ID], zs.def.ID)
			}
		}
	}

	out.Status = e.status()
	for _, st := range out.Status {
		tracef("frame %d: zone %d count=%d level=%s held=%d", frame, st.ZoneID, st.Count, st.Level, len(holding))
	}
	return out
}

// Retire force-closes every record of a retired track at its last seen
// frame and time.
func (e *Engine) Retire(personID int64, lastSeenFrame int64, lastSeenTime time.Duration) []ZoneEvent {
	var events []ZoneEvent
	for _, zs := range e.zones {
		rec, open := zs.records[personID]
		if !open {
			continue
		}
		at := lastSeenTime
		if at < rec.entryTime {
			opsf("person %d retired at %s before zone %d entry at %s, clamping", personID, lastSeenTime, zs.def.ID, rec.entryTime)
			at = rec.entryTime
		}
		events = append(events, zs.close(personID, rec, lastSeenFrame, at, true))
		diagf("person %d force-exited zone %d at frame %d", personID, zs.def.ID, lastSeenFrame)
	}
	return events
}

func (zs *zoneState) close(personID int64, rec *record, frame int64, at time.Duration, forced bool) ZoneEvent {
	d := at - rec.entryTime
	delete(zs.records, personID)
	zs.exits++
	zs.dwell[personID] += d
	return ZoneEvent{
		PersonID: personID,
		ZoneID:   zs.def.ID,
		Kind:     EventExit,
		Frame:    frame,
		Time:     at,
		Duration: &d,
		Forced:   forced,
	}
}

func (e *Engine) status() []ZoneStatus {
	out := make([]ZoneStatus, len(e.zones))
	for i, zs := range e.zones {
		ids := zs.occupants()
		if len(ids) > zs.peak {
			zs.peak = len(ids)
		}
		out[i] = ZoneStatus{
			ZoneID:    zs.def.ID,
			Name:      zs.def.Name,
			Count:     len(ids),
			Level:     zs.def.Level(len(ids)),
			Occupants: ids,
		}
	}
	return out
}

func (zs *zoneState) occupants() []int64 {
	ids := make([]int64, 0, len(zs.records))
	for id := range zs.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Records returns the open visits as of now, ordered by zone then person.
func (e *Engine) Records(now time.Duration) []ZoneOccupancyRecord {
	var out []ZoneOccupancyRecord
	for _, zs := range e.zones {
		for _, id := range zs.occupants() {
			rec := zs.records[id]
			out = append(out, ZoneOccupancyRecord{
				PersonID:        id,
				ZoneID:          zs.def.ID,
				EntryFrame:      rec.entryFrame,
				EntryTime:       rec.entryTime,
				CurrentDuration: now - rec.entryTime,
				LastSeenTime:    rec.lastSeenTime,
			})
		}
	}
	return out
}

// ZoneSummary aggregates a zone's activity over the stream so far.
// AverageDwell is the mean of per-person completed dwell totals.
type ZoneSummary struct {
	ZoneID           int
	Name             string
	CurrentOccupancy int
	CurrentPeople    []int64
	PeakOccupancy    int
	TotalEntries     int
	TotalExits       int
	AverageDwell     time.Duration
	DwellByPerson    map[int64]time.Duration
}

// Summary returns one summary per zone in configuration order.
func (e *Engine) Summary() []ZoneSummary {
	out := make([]ZoneSummary, len(e.zones))
	for i, zs := range e.zones {
		ids := zs.occupants()
		byPerson := make(map[int64]time.Duration, len(zs.dwell))
		secs := make([]float64, 0, len(zs.dwell))
		for id, d := range zs.dwell {
			byPerson[id] = d
			secs = append(secs, d.Seconds())
		}
		var avg time.Duration
		if len(secs) > 0 {
			avg = l1detect.SecondsToDuration(stat.Mean(secs, nil))
		}
		out[i] = ZoneSummary{
			ZoneID:           zs.def.ID,
			Name:             zs.def.Name,
			CurrentOccupancy: len(ids),
			CurrentPeople:    ids,
			PeakOccupancy:    zs.peak,
			TotalEntries:     zs.entries,
			TotalExits:       zs.exits,
			AverageDwell:     avg,
			DwellByPerson:    byPerson,
		}
	}
	return out
}
