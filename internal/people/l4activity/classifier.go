package l4activity

import (
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
)

// ClassifierConfig holds the history, speed and posture parameters.
type ClassifierConfig struct {
	HistoryLength         int           // Keypoint samples kept per person
	WarmupFrames          int           // Samples needed before labelling
	VelocityWindow        time.Duration // Δt for centroid speed
	KeypointConfidenceMin float64       // Minimum landmark confidence

	// Speed breakpoints in px/s, strictly increasing.
	StandingSpeed    float64
	WalkingSlowSpeed float64
	WalkingSpeed     float64
	FastWalkingSpeed float64
	RunningSpeed     float64

	SittingHipAngleMax  float64 // Degrees; at or below reads as sitting
	ReadingHeadAngleMin float64 // Degrees; at or above reads as reading

	SmoothingWindow int // Raw labels in the mode window
}

// DefaultClassifierConfig returns classifier configuration loaded from the
// canonical tuning defaults file. Panics if the file cannot be found.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfigFromTuning(config.MustLoadDefaultConfig())
}

// ClassifierConfigFromTuning builds a ClassifierConfig from a loaded TuningConfig.
func ClassifierConfigFromTuning(cfg *config.TuningConfig) ClassifierConfig {
	return ClassifierConfig{
		HistoryLength:         cfg.GetKeypointHistoryLength(),
		WarmupFrames:          cfg.GetActivityWarmupFrames(),
		VelocityWindow:        l1detect.SecondsToDuration(cfg.GetVelocityWindowSeconds()),
		KeypointConfidenceMin: cfg.GetKeypointConfidenceMin(),
		StandingSpeed:         cfg.GetStandingSpeedThreshold(),
		WalkingSlowSpeed:      cfg.GetWalkingSlowThreshold(),
		WalkingSpeed:          cfg.GetWalkingThreshold(),
		FastWalkingSpeed:      cfg.GetFastWalkingThreshold(),
		RunningSpeed:          cfg.GetRunningSpeedThreshold(),
		SittingHipAngleMax:    cfg.GetSittingHipAngleMax(),
		ReadingHeadAngleMin:   cfg.GetReadingHeadAngleMin(),
		SmoothingWindow:       cfg.GetSmoothingWindow(),
	}
}

// Features are the per-observation inputs to the label rules.
type Features struct {
	PoseAvailable bool
	HistoryLen    int
	Speed         float64 // px/s
	HipAngle      float64 // Degrees
	HeadTilt      float64 // Degrees
}

// Observation is one classified frame for one person.
type Observation struct {
	PersonID      int64
	Frame         int64
	Time          time.Duration
	RawLabel      Label
	SmoothedLabel Label
	Speed         float64
	HipAngle      float64
	HeadTilt      float64
	Final         bool // Emitted at end of stream rather than on a frame
}

type personState struct {
	history *KeypointHistory
	labels  *labelWindow
	last    Observation
}

// Classifier labels activity per person. State lives in an arena keyed by
// track id; callers must Forget retired ids. Not safe for concurrent use.
type Classifier struct {
	cfg   ClassifierConfig
	arena map[int64]*personState
}

// NewClassifier creates a classifier with an empty arena.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg, arena: make(map[int64]*personState)}
}

// Classify applies the label rules in order; the first match wins.
func (c *Classifier) Classify(f Features) Label {
	switch {
	case !f.PoseAvailable:
		return LabelNoPose
	case f.HistoryLen < c.cfg.WarmupFrames:
		return LabelInitializing
	}

	reading := f.HeadTilt >= c.cfg.ReadingHeadAngleMin
	if f.HipAngle <= c.cfg.SittingHipAngleMax {
		if reading {
			return LabelReading
		}
		return LabelSitting
	}

	switch s := f.Speed; {
	case s <= c.cfg.StandingSpeed:
		if reading {
			return LabelReadingStanding
		}
		return LabelStanding
	case s <= c.cfg.WalkingSlowSpeed:
		return LabelWalkingSlow
	case s <= c.cfg.WalkingSpeed:
		return LabelWalking
	case s <= c.cfg.FastWalkingSpeed:
		return LabelWalkingFast
	case s <= c.cfg.RunningSpeed:
		return LabelJogging
	default:
		return LabelRunning
	}
}

// Observe records one frame for a confirmed track and returns its raw and
// smoothed labels. Frames without a full skeleton are labelled no_pose
// and vote in smoothing without entering the keypoint history.
func (c *Classifier) Observe(frame int64, ts time.Duration, personID int64, bbox l1detect.BBox, kps l1detect.Keypoints) Observation {
	ps, ok := c.arena[personID]
	if !ok {
		ps = &personState{
			history: NewKeypointHistory(c.cfg.HistoryLength),
			labels:  newLabelWindow(c.cfg.SmoothingWindow),
		}
		c.arena[personID] = ps
		diagf("person %d: history created at frame %d", personID, frame)
	}

	f := Features{PoseAvailable: kps.Available()}
	if f.PoseAvailable {
		centroid, hips := Centroid(bbox, kps, c.cfg.KeypointConfidenceMin)
		ps.history.Add(Sample{
			Frame:       frame,
			Time:        ts,
			Keypoints:   kps,
			Centroid:    centroid,
			HipCentroid: hips,
		})
		f.HistoryLen = ps.history.Len()
		f.Speed = ps.history.Speed(c.cfg.VelocityWindow)
		f.HipAngle = HipAngle(kps, c.cfg.KeypointConfidenceMin)
		f.HeadTilt = HeadTilt(kps, c.cfg.KeypointConfidenceMin)
	}

	raw := c.Classify(f)
	prev := ps.last.SmoothedLabel
	ps.labels.add(raw)
	obs := Observation{
		PersonID:      personID,
		Frame:         frame,
		Time:          ts,
		RawLabel:      raw,
		SmoothedLabel: ps.labels.mode(),
		Speed:         f.Speed,
		HipAngle:      f.HipAngle,
		HeadTilt:      f.HeadTilt,
	}
	ps.last = obs

	if prev != "" && prev != obs.SmoothedLabel {
		diagf("person %d: %s -> %s at frame %d", personID, prev, obs.SmoothedLabel, frame)
	}
	tracef("person %d frame %d: raw=%s smoothed=%s speed=%.1f hip=%.1f head=%.1f",
		personID, frame, raw, obs.SmoothedLabel, f.Speed, f.HipAngle, f.HeadTilt)
	return obs
}

// Final returns the closing observation for a person: the last raw label
// and the current smoothed label, marked Final. ok is false for unknown ids.
func (c *Classifier) Final(personID int64, frame int64, ts time.Duration) (Observation, bool) {
	ps, ok := c.arena[personID]
	if !ok {
		return Observation{}, false
	}
	obs := ps.last
	if raw, ok := ps.labels.latest(); ok {
		obs.RawLabel = raw
	}
	obs.SmoothedLabel = ps.labels.mode()
	obs.Frame = frame
	obs.Time = ts
	obs.Final = true
	return obs, true
}

// Smoothed returns the current smoothed label for a person.
func (c *Classifier) Smoothed(personID int64) (Label, bool) {
	ps, ok := c.arena[personID]
	if !ok || ps.labels.size == 0 {
		return "", false
	}
	return ps.labels.mode(), true
}

// History returns a copy of a person's keypoint samples, oldest first.
func (c *Classifier) History(personID int64) []Sample {
	ps, ok := c.arena[personID]
	if !ok {
		return nil
	}
	return ps.history.All()
}

// Forget discards all state for a person.
func (c *Classifier) Forget(personID int64) {
	if _, ok := c.arena[personID]; ok {
		delete(c.arena, personID)
		diagf("person %d: history discarded", personID)
	}
}

// Tracked returns the ids with classifier state, ascending.
func (c *Classifier) Tracked() []int64 {
	ids := make([]int64, 0, len(c.arena))
	for id := range c.arena {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
