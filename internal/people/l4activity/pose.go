package l4activity

import (
	"math"

	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/golang/geo/r2"
)

// straightAngle is reported when a joint angle cannot be measured, so a
// missing limb never reads as a bent posture.
const straightAngle = 180.0

// angleAt returns the angle in degrees at vertex b between b→a and b→c.
func angleAt(a, b, c r2.Point) float64 {
	v1 := a.Sub(b)
	v2 := c.Sub(b)
	n := v1.Norm() * v2.Norm()
	if n == 0 {
		return straightAngle
	}
	cos := math.Max(-1, math.Min(1, v1.Dot(v2)/n))
	return math.Acos(cos) * 180 / math.Pi
}

// HipAngle returns the shoulder-hip-knee angle, using the left side when
// all three landmarks are visible and the right side otherwise. Without
// a measurable side it returns 180.
func HipAngle(kps l1detect.Keypoints, minConfidence float64) float64 {
	if !kps.Available() {
		return straightAngle
	}
	sides := [2][3]int{
		{l1detect.LeftShoulder, l1detect.LeftHip, l1detect.LeftKnee},
		{l1detect.RightShoulder, l1detect.RightHip, l1detect.RightKnee},
	}
	for _, s := range sides {
		sh, hip, knee := kps[s[0]], kps[s[1]], kps[s[2]]
		if sh.Visible(minConfidence) && hip.Visible(minConfidence) && knee.Visible(minConfidence) {
			return angleAt(sh.Point(), hip.Point(), knee.Point())
		}
	}
	return straightAngle
}

// HeadTilt returns 90° minus the angle between the shoulder-centre→nose
// vector and straight down. Image y grows downward, so a nose above the
// shoulders gives 0.
func HeadTilt(kps l1detect.Keypoints, minConfidence float64) float64 {
	if !kps.Available() || !kps[l1detect.Nose].Visible(minConfidence) {
		return 0
	}
	shoulders, ok := kps.Midpoint(l1detect.LeftShoulder, l1detect.RightShoulder, minConfidence)
	if !ok {
		return 0
	}
	head := kps[l1detect.Nose].Point().Sub(shoulders)
	if head.Y <= 0 {
		return 0
	}
	cos := math.Max(-1, math.Min(1, head.Dot(r2.Point{X: 0, Y: 1})/head.Norm()))
	return 90 - math.Acos(cos)*180/math.Pi
}

// Centroid returns the hip midpoint when both hips are visible, else the
// bbox centre. hips reports which of the two was used.
func Centroid(bbox l1detect.BBox, kps l1detect.Keypoints, minConfidence float64) (p r2.Point, hips bool) {
	if p, ok := kps.Midpoint(l1detect.LeftHip, l1detect.RightHip, minConfidence); ok {
		return p, true
	}
	return bbox.Center(), false
}
