package l1detect

import (
	"math"
	"time"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// COCO keypoint indices, the fixed anatomical ordering produced by the
// pose detector.
const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle

	NumKeypoints
)

// BBox is an axis-aligned box in detector-frame pixels, (X1,Y1) top-left
// and (X2,Y2) bottom-right.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Rect returns the box as an r2.Rect.
func (b BBox) Rect() r2.Rect {
	return r2.Rect{
		X: r1.Interval{Lo: b.X1, Hi: b.X2},
		Y: r1.Interval{Lo: b.Y1, Hi: b.Y2},
	}
}

// Center returns the box centre.
func (b BBox) Center() r2.Point {
	return b.Rect().Center()
}

// BottomCenter returns the midpoint of the bottom edge, the fallback foot
// point when ankles are not visible.
func (b BBox) BottomCenter() r2.Point {
	return r2.Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Area returns the box area, or 0 for an empty box.
func (b BBox) Area() float64 {
	return rectArea(b.Rect())
}

// Valid reports whether every coordinate is finite and the box has
// non-negative extent.
func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// IoU returns the intersection-over-union of two boxes in [0, 1].
func IoU(a, b BBox) float64 {
	inter := rectArea(a.Rect().Intersection(b.Rect()))
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CenterDistance returns the Euclidean distance between box centres.
func CenterDistance(a, b BBox) float64 {
	return a.Center().Sub(b.Center()).Norm()
}

func rectArea(r r2.Rect) float64 {
	if r.IsEmpty() {
		return 0
	}
	size := r.Size()
	return size.X * size.Y
}

// Keypoint is a single pose landmark. Undetected landmarks are reported
// by the detector as (0, 0) with low confidence.
type Keypoint struct {
	X          float64
	Y          float64
	Confidence float64
}

// Point returns the keypoint position.
func (k Keypoint) Point() r2.Point {
	return r2.Point{X: k.X, Y: k.Y}
}

// Visible reports whether the landmark was detected with at least the
// given confidence.
func (k Keypoint) Visible(minConfidence float64) bool {
	if k.X == 0 && k.Y == 0 {
		return false
	}
	return k.Confidence >= minConfidence
}

// Keypoints is a full COCO-17 skeleton. A nil or short slice means the
// pose detector produced nothing for this person on this frame.
type Keypoints []Keypoint

// Available reports whether a complete skeleton is present.
func (k Keypoints) Available() bool {
	return len(k) >= NumKeypoints
}

// Midpoint returns the midpoint of two landmarks when both are visible.
func (k Keypoints) Midpoint(a, b int, minConfidence float64) (r2.Point, bool) {
	if !k.Available() || !k[a].Visible(minConfidence) || !k[b].Visible(minConfidence) {
		return r2.Point{}, false
	}
	return k[a].Point().Add(k[b].Point()).Mul(0.5), true
}

// RawDetection is one person detection from the external detector.
type RawDetection struct {
	BBox       BBox
	Confidence float64
	Keypoints  Keypoints

	// BaseTrackID is the identity assigned by an upstream base tracker
	// (e.g. ByteTrack), when one runs ahead of this core. Zero means none.
	BaseTrackID int64
}

// Frame is the detector output for one video frame. Timestamp is the
// monotonic stream time of the frame, not wall-clock time.
type Frame struct {
	Index      int64
	Timestamp  time.Duration
	Detections []RawDetection
}

// FilterByConfidence returns the detections at or above the threshold.
// The input slice is not modified.
func FilterByConfidence(dets []RawDetection, threshold float64) []RawDetection {
	out := make([]RawDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// SecondsToDuration converts fractional seconds to a Duration, rounding
// to the nearest microsecond so decimal timestamps survive the round trip.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s*1e6)) * time.Microsecond
}
