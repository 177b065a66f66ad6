package l3zones

import (
	"math"

	"github.com/golang/geo/r2"
)

// edgeEpsilon is the tolerance, in pixels, for a point to count as lying
// on a polygon edge.
const edgeEpsilon = 1e-9

// Contains reports whether p lies inside poly or on its boundary. The
// polygon may be concave and is implicitly closed.
func Contains(poly []r2.Point, p r2.Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, p) {
			return true
		}
		if (b.Y > p.Y) != (a.Y > p.Y) {
			xCross := (a.X-b.X)*(p.Y-b.Y)/(a.Y-b.Y) + b.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p r2.Point) bool {
	ab := b.Sub(a)
	ap := p.Sub(a)
	if math.Abs(ab.Cross(ap)) > edgeEpsilon*math.Max(1, ab.Norm()) {
		return false
	}
	dot := ap.Dot(ab)
	return dot >= -edgeEpsilon && dot <= ab.Dot(ab)+edgeEpsilon
}

// bounds returns the polygon's bounding rectangle for a cheap reject test.
func bounds(poly []r2.Point) r2.Rect {
	return r2.RectFromPoints(poly...)
}
