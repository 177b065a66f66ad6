package l4activity

import (
	"time"

	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/golang/geo/r2"
)

// Sample is one pose observation kept in a person's history.
type Sample struct {
	Frame     int64
	Time      time.Duration
	Keypoints l1detect.Keypoints
	Centroid  r2.Point

	// HipCentroid is set when Centroid is the hip midpoint rather than
	// the bbox centre.
	HipCentroid bool
}

// KeypointHistory is a fixed-capacity ring of samples, oldest overwritten
// first.
type KeypointHistory struct {
	samples  []Sample
	capacity int
	head     int // Next write position
	size     int
}

// NewKeypointHistory creates a history with the given capacity.
func NewKeypointHistory(capacity int) *KeypointHistory {
	if capacity < 1 {
		capacity = 30
	}
	return &KeypointHistory{
		samples:  make([]Sample, capacity),
		capacity: capacity,
	}
}

// Add stores a sample, overwriting the oldest at capacity.
func (h *KeypointHistory) Add(s Sample) {
	h.samples[h.head] = s
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Previous returns the sample n steps back; Previous(1) is the newest.
func (h *KeypointHistory) Previous(n int) (Sample, bool) {
	if n < 1 || n > h.size {
		return Sample{}, false
	}
	return h.samples[(h.head-n+h.capacity)%h.capacity], true
}

// Len returns the number of stored samples.
func (h *KeypointHistory) Len() int {
	return h.size
}

// Capacity returns the maximum number of samples.
func (h *KeypointHistory) Capacity() int {
	return h.capacity
}

// All returns the samples from oldest to newest.
func (h *KeypointHistory) All() []Sample {
	out := make([]Sample, h.size)
	for i := range out {
		out[i] = h.samples[(h.head-h.size+i+h.capacity)%h.capacity]
	}
	return out
}

// Speed returns the centroid speed in px/s between the newest sample and
// the newest earlier sample at least window older, or the oldest earlier
// sample when the history does not reach back that far. Only samples whose
// centroid has the same source as the newest one are used as a reference.
// No such sample, or a zero time difference, gives 0.
func (h *KeypointHistory) Speed(window time.Duration) float64 {
	cur, ok := h.Previous(1)
	if !ok {
		return 0
	}
	var ref Sample
	found := false
	for n := 2; n <= h.size; n++ {
		s, _ := h.Previous(n)
		if s.HipCentroid != cur.HipCentroid {
			continue
		}
		ref, found = s, true
		if cur.Time-s.Time >= window {
			break
		}
	}
	if !found {
		return 0
	}
	dt := (cur.Time - ref.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	return cur.Centroid.Sub(ref.Centroid).Norm() / dt
}
