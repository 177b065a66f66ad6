package l2track

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/golang/geo/r2"
)

// ErrFrameRegression is returned when Update receives a frame whose index
// does not strictly follow the previous one.
var ErrFrameRegression = errors.New("frame index did not advance")

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackActive  TrackState = "active"  // Matched on the current frame
	TrackGhost   TrackState = "ghost"   // Lost, waiting for re-identification
	TrackRetired TrackState = "retired" // Ghost window expired; id is never reused
)

// MatchKind tags which ghost test accepted a re-identification.
type MatchKind uint8

const (
	MatchNone MatchKind = iota
	MatchIoU
	MatchDistance
	MatchBoth
)

func (k MatchKind) String() string {
	switch k {
	case MatchIoU:
		return "iou"
	case MatchDistance:
		return "distance"
	case MatchBoth:
		return "iou+distance"
	default:
		return "none"
	}
}

// AssociatorConfig holds the association and ghost parameters.
type AssociatorConfig struct {
	AssociationIoU           float64 // Minimum IoU for active track matching
	GhostIoU                 float64 // Ghost re-identification IoU threshold
	GhostDistance            float64 // Ghost re-identification centre distance (px)
	GhostWindowFrames        int64   // Frames a ghost survives after last seen
	MinimumConsecutiveFrames int     // Frames a candidate needs before it gets an id
	MaxTracks                int     // Cap on Active+Ghost tracks
}

// DefaultAssociatorConfig returns associator configuration loaded from the
// canonical tuning defaults file. Panics if the file cannot be found.
func DefaultAssociatorConfig() AssociatorConfig {
	return AssociatorConfigFromTuning(config.MustLoadDefaultConfig())
}

// AssociatorConfigFromTuning builds an AssociatorConfig from a loaded TuningConfig.
func AssociatorConfigFromTuning(cfg *config.TuningConfig) AssociatorConfig {
	return AssociatorConfig{
		AssociationIoU:           cfg.GetAssociationIoUThreshold(),
		GhostIoU:                 cfg.GetGhostIoUThreshold(),
		GhostDistance:            cfg.GetGhostDistanceThreshold(),
		GhostWindowFrames:        cfg.GhostWindowFrames(),
		MinimumConsecutiveFrames: cfg.GetMinimumConsecutiveFrames(),
		MaxTracks:                cfg.GetMaxTracks(),
	}
}

// Track is one confirmed person identity. Values handed out by the
// Associator are copies; only the Associator mutates its own tracks.
type Track struct {
	ID    int64
	State TrackState

	BBox        l1detect.BBox
	Keypoints   l1detect.Keypoints
	BaseTrackID int64
	Velocity    r2.Point // px/s, centre displacement over stream time

	ConsecutiveFrames int

	FirstSeenFrame int64
	FirstSeenTime  time.Duration
	LastSeenFrame  int64
	LastSeenTime   time.Duration
	LostFrame      int64 // Frame the track went Ghost; 0 while Active
}

// Reidentification records a ghost brought back by an unmatched detection.
type Reidentification struct {
	TrackID     int64
	Kind        MatchKind
	IoU         float64
	Distance    float64
	GhostFrames int64 // Frames between last seen and recovery
}

// Update is the result of associating one frame. Track slices are sorted
// by id.
type Update struct {
	Frame int64
	Time  time.Duration

	Active  []Track
	Ghosts  []Track
	Retired []Track

	Created      []int64 // Ids confirmed on this frame
	Lost         []int64 // Ids that went Ghost on this frame
	Reidentified []Reidentification

	Dropped    int // Malformed detections discarded
	Candidates int // Provisional candidates still pending
}

type candidate struct {
	bbox        l1detect.BBox
	keypoints   l1detect.Keypoints
	baseTrackID int64
	frames      int
	firstFrame  int64
	firstTime   time.Duration
	lastTime    time.Duration
	velocity    r2.Point
}

// Associator assigns stable person ids to per-frame detections. It is not
// safe for concurrent use; each stream owns one.
type Associator struct {
	cfg        AssociatorConfig
	tracks     map[int64]*Track
	candidates []*candidate
	nextID     int64

	started   bool
	lastFrame int64
}

// NewAssociator creates an associator with no tracks. Ids start at 1.
func NewAssociator(cfg AssociatorConfig) *Associator {
	return &Associator{
		cfg:    cfg,
		tracks: make(map[int64]*Track),
		nextID: 1,
	}
}

// Update associates one frame of detections.
func (a *Associator) Update(frame l1detect.Frame) (Update, error) {
	if a.started && frame.Index <= a.lastFrame {
		return Update{}, fmt.Errorf("%w: frame %d after %d", ErrFrameRegression, frame.Index, a.lastFrame)
	}
	a.started = true
	a.lastFrame = frame.Index

	out := Update{Frame: frame.Index, Time: frame.Timestamp}

	dets := make([]l1detect.RawDetection, 0, len(frame.Detections))
	for i, d := range frame.Detections {
		if !d.BBox.Valid() {
			diagf("frame %d: dropping detection %d with malformed bbox %+v", frame.Index, i, d.BBox)
			out.Dropped++
			continue
		}
		dets = append(dets, d)
	}

	claimed := make([]bool, len(dets))

	// 1. Active tracks by Hungarian assignment.
	active := a.sortedTracks(TrackActive)
	if len(active) > 0 && len(dets) > 0 {
		cost := make([][]float64, len(dets))
		for i, d := range dets {
			cost[i] = make([]float64, len(active))
			for j, tr := range active {
				cost[i][j] = a.activeCost(d, tr)
			}
		}
		for i, j := range HungarianAssign(cost) {
			if j < 0 {
				continue
			}
			a.observe(active[j], dets[i], frame)
			active[j].ConsecutiveFrames++
			claimed[i] = true
		}
	}

	// 2. Unmatched active tracks go Ghost.
	for _, tr := range active {
		if tr.LastSeenFrame == frame.Index {
			continue
		}
		tr.State = TrackGhost
		tr.LostFrame = frame.Index
		tr.ConsecutiveFrames = 0
		out.Lost = append(out.Lost, tr.ID)
		diagf("frame %d: track %d lost", frame.Index, tr.ID)
	}

	// 3. Expired ghosts retire before re-identification.
	for _, tr := range a.sortedTracks(TrackGhost) {
		if frame.Index-tr.LastSeenFrame > a.cfg.GhostWindowFrames {
			tr.State = TrackRetired
			out.Retired = append(out.Retired, *tr)
			delete(a.tracks, tr.ID)
			diagf("frame %d: track %d retired after %d frames unseen", frame.Index, tr.ID, frame.Index-tr.LastSeenFrame)
		}
	}

	// 4. Ghost re-identification.
	out.Reidentified = a.reidentify(dets, claimed, frame)

	// 5. Provisional candidates.
	out.Created = a.advanceCandidates(dets, claimed, frame)
	out.Candidates = len(a.candidates)

	for _, tr := range a.sortedTracks("") {
		switch tr.State {
		case TrackActive:
			out.Active = append(out.Active, *tr)
		case TrackGhost:
			out.Ghosts = append(out.Ghosts, *tr)
		}
	}

	tracef("frame %d: dets=%d active=%d ghosts=%d retired=%d created=%d reid=%d candidates=%d",
		frame.Index, len(dets), len(out.Active), len(out.Ghosts), len(out.Retired),
		len(out.Created), len(out.Reidentified), out.Candidates)
	return out, nil
}

// activeCost is 1−IoU for admissible pairs, 0 for a matching upstream
// hint within the ghost distance, Forbidden otherwise.
func (a *Associator) activeCost(d l1detect.RawDetection, tr *Track) float64 {
	if d.BaseTrackID != 0 && d.BaseTrackID == tr.BaseTrackID &&
		l1detect.CenterDistance(d.BBox, tr.BBox) <= a.cfg.GhostDistance {
		return 0
	}
	iou := l1detect.IoU(d.BBox, tr.BBox)
	if iou < a.cfg.AssociationIoU || iou <= 0 {
		return Forbidden
	}
	return 1 - iou
}

// ghostMatch evaluates the OR-of-thresholds ghost test.
func (a *Associator) ghostMatch(d l1detect.RawDetection, tr *Track) (MatchKind, float64, float64) {
	iou := l1detect.IoU(d.BBox, tr.BBox)
	dist := l1detect.CenterDistance(d.BBox, tr.BBox)
	byIoU := iou >= a.cfg.GhostIoU
	byDist := dist <= a.cfg.GhostDistance
	switch {
	case byIoU && byDist:
		return MatchBoth, iou, dist
	case byIoU:
		return MatchIoU, iou, dist
	case byDist:
		return MatchDistance, iou, dist
	}
	return MatchNone, iou, dist
}

type ghostPair struct {
	det   int
	track *Track
	kind  MatchKind
	iou   float64
	dist  float64
}

func (a *Associator) reidentify(dets []l1detect.RawDetection, claimed []bool, frame l1detect.Frame) []Reidentification {
	ghosts := a.sortedTracks(TrackGhost)
	if len(ghosts) == 0 {
		return nil
	}

	var pairs []ghostPair
	for i, d := range dets {
		if claimed[i] {
			continue
		}
		for _, g := range ghosts {
			kind, iou, dist := a.ghostMatch(d, g)
			if kind == MatchNone {
				continue
			}
			pairs = append(pairs, ghostPair{det: i, track: g, kind: kind, iou: iou, dist: dist})
		}
	}

	// Smallest distance, then most recently lost, then detection order.
	sort.SliceStable(pairs, func(i, j int) bool {
		pi, pj := pairs[i], pairs[j]
		if pi.dist != pj.dist {
			return pi.dist < pj.dist
		}
		if pi.track.LostFrame != pj.track.LostFrame {
			return pi.track.LostFrame > pj.track.LostFrame
		}
		if pi.det != pj.det {
			return pi.det < pj.det
		}
		return pi.track.ID < pj.track.ID
	})

	var out []Reidentification
	for _, p := range pairs {
		if claimed[p.det] || p.track.State != TrackGhost {
			continue
		}
		gap := frame.Index - p.track.LastSeenFrame
		a.observe(p.track, dets[p.det], frame)
		p.track.State = TrackActive
		p.track.LostFrame = 0
		p.track.ConsecutiveFrames = 1
		claimed[p.det] = true
		out = append(out, Reidentification{
			TrackID:     p.track.ID,
			Kind:        p.kind,
			IoU:         p.iou,
			Distance:    p.dist,
			GhostFrames: gap,
		})
		diagf("frame %d: track %d re-identified by %s (iou=%.3f dist=%.1f) after %d frames",
			frame.Index, p.track.ID, p.kind, p.iou, p.dist, gap)
	}
	return out
}

func (a *Associator) advanceCandidates(dets []l1detect.RawDetection, claimed []bool, frame l1detect.Frame) []int64 {
	var free []int
	for i := range dets {
		if !claimed[i] {
			free = append(free, i)
		}
	}

	next := make([]*candidate, 0, len(free))
	matched := make([]bool, len(free))

	if len(free) > 0 && len(a.candidates) > 0 {
		cost := make([][]float64, len(free))
		for r, di := range free {
			cost[r] = make([]float64, len(a.candidates))
			for c, cand := range a.candidates {
				iou := l1detect.IoU(dets[di].BBox, cand.bbox)
				if iou < a.cfg.AssociationIoU || iou <= 0 {
					cost[r][c] = Forbidden
				} else {
					cost[r][c] = 1 - iou
				}
			}
		}
		for r, c := range HungarianAssign(cost) {
			if c < 0 {
				continue
			}
			cand := a.candidates[c]
			d := dets[free[r]]
			if dt := (frame.Timestamp - cand.lastTime).Seconds(); dt > 0 {
				cand.velocity = d.BBox.Center().Sub(cand.bbox.Center()).Mul(1 / dt)
			}
			cand.bbox = d.BBox
			cand.keypoints = d.Keypoints
			cand.baseTrackID = d.BaseTrackID
			cand.lastTime = frame.Timestamp
			cand.frames++
			matched[r] = true
			next = append(next, cand)
		}
	}

	// Candidates that missed this frame are dropped.
	for r, di := range free {
		if matched[r] {
			continue
		}
		d := dets[di]
		next = append(next, &candidate{
			bbox:        d.BBox,
			keypoints:   d.Keypoints,
			baseTrackID: d.BaseTrackID,
			frames:      1,
			firstFrame:  frame.Index,
			firstTime:   frame.Timestamp,
			lastTime:    frame.Timestamp,
		})
	}

	var created []int64
	pending := next[:0]
	for _, cand := range next {
		if cand.frames < a.cfg.MinimumConsecutiveFrames {
			pending = append(pending, cand)
			continue
		}
		if a.cfg.MaxTracks > 0 && len(a.tracks) >= a.cfg.MaxTracks {
			opsf("frame %d: track limit %d reached, candidate held", frame.Index, a.cfg.MaxTracks)
			pending = append(pending, cand)
			continue
		}
		tr := &Track{
			ID:                a.nextID,
			State:             TrackActive,
			BBox:              cand.bbox,
			Keypoints:         cand.keypoints,
			BaseTrackID:       cand.baseTrackID,
			Velocity:          cand.velocity,
			ConsecutiveFrames: cand.frames,
			FirstSeenFrame:    cand.firstFrame,
			FirstSeenTime:     cand.firstTime,
			LastSeenFrame:     frame.Index,
			LastSeenTime:      frame.Timestamp,
		}
		a.nextID++
		a.tracks[tr.ID] = tr
		created = append(created, tr.ID)
		diagf("frame %d: track %d confirmed after %d frames", frame.Index, tr.ID, cand.frames)
	}
	a.candidates = pending
	return created
}

// observe moves a track onto a detection and refreshes its velocity.
func (a *Associator) observe(tr *Track, d l1detect.RawDetection, frame l1detect.Frame) {
	if dt := (frame.Timestamp - tr.LastSeenTime).Seconds(); dt > 0 {
		tr.Velocity = d.BBox.Center().Sub(tr.BBox.Center()).Mul(1 / dt)
	}
	tr.BBox = d.BBox
	tr.Keypoints = d.Keypoints
	if d.BaseTrackID != 0 {
		tr.BaseTrackID = d.BaseTrackID
	}
	tr.LastSeenFrame = frame.Index
	tr.LastSeenTime = frame.Timestamp
}

// sortedTracks returns live tracks in the given state ordered by id. An
// empty state returns every live track.
func (a *Associator) sortedTracks(state TrackState) []*Track {
	out := make([]*Track, 0, len(a.tracks))
	for _, tr := range a.tracks {
		if state == "" || tr.State == state {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Track returns a copy of a live track.
func (a *Associator) Track(id int64) (Track, bool) {
	tr, ok := a.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Tracks returns copies of every live (Active or Ghost) track ordered by id.
func (a *Associator) Tracks() []Track {
	live := a.sortedTracks("")
	out := make([]Track, len(live))
	for i, tr := range live {
		out[i] = *tr
	}
	return out
}

// RetireAll retires every live track and drops pending candidates, for
// end-of-stream flush. Returned tracks keep their last-seen frame and time.
func (a *Associator) RetireAll() []Track {
	live := a.sortedTracks("")
	out := make([]Track, len(live))
	for i, tr := range live {
		tr.State = TrackRetired
		out[i] = *tr
		delete(a.tracks, tr.ID)
	}
	a.candidates = nil
	if len(out) > 0 {
		diagf("retired %d tracks at flush", len(out))
	}
	return out
}

// Counts returns the number of active, ghost and pending candidate tracks.
func (a *Associator) Counts() (active, ghosts, candidates int) {
	for _, tr := range a.tracks {
		if tr.State == TrackActive {
			active++
		} else {
			ghosts++
		}
	}
	return active, ghosts, len(a.candidates)
}

// NextID returns the id the next confirmed track will receive.
func (a *Associator) NextID() int64 {
	return a.nextID
}
