package l1detect

import (
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	t.Parallel()

	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	tests := []struct {
		name string
		b    BBox
		want float64
	}{
		{"identical", a, 1.0},
		{"half overlap", BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}, 50.0 / 150.0},
		{"disjoint", BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}, 0},
		{"touching edge", BBox{X1: 10, Y1: 0, X2: 20, Y2: 10}, 0},
		{"contained", BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}, 25.0 / 100.0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, IoU(a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, IoU(tt.b, a), 1e-9, "IoU must be symmetric")
		})
	}
}

func TestBBoxGeometry(t *testing.T) {
	t.Parallel()

	b := BBox{X1: 100, Y1: 50, X2: 140, Y2: 150}
	c := b.Center()
	assert.Equal(t, 120.0, c.X)
	assert.Equal(t, 100.0, c.Y)

	foot := b.BottomCenter()
	assert.Equal(t, 120.0, foot.X)
	assert.Equal(t, 150.0, foot.Y)

	assert.Equal(t, 4000.0, b.Area())
	assert.InDelta(t, 50.0, CenterDistance(b, BBox{X1: 130, Y1: 90, X2: 170, Y2: 190}), 1e-9)
}

func TestBBoxValid(t *testing.T) {
	t.Parallel()

	assert.True(t, BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}.Valid())
	assert.True(t, BBox{X1: 3, Y1: 3, X2: 3, Y2: 3}.Valid(), "degenerate boxes are still valid")
	assert.False(t, BBox{X1: 5, Y1: 0, X2: 1, Y2: 1}.Valid(), "inverted x")
	assert.False(t, BBox{X1: 0, Y1: math.NaN(), X2: 1, Y2: 1}.Valid())
	assert.False(t, BBox{X1: 0, Y1: 0, X2: math.Inf(1), Y2: 1}.Valid())
}

func TestKeypointsMidpoint(t *testing.T) {
	t.Parallel()

	kps := make(Keypoints, NumKeypoints)
	kps[LeftHip] = Keypoint{X: 100, Y: 200, Confidence: 0.9}
	kps[RightHip] = Keypoint{X: 120, Y: 210, Confidence: 0.8}

	mid, ok := kps.Midpoint(LeftHip, RightHip, 0.25)
	require.True(t, ok)
	assert.Equal(t, 110.0, mid.X)
	assert.Equal(t, 205.0, mid.Y)

	_, ok = kps.Midpoint(LeftAnkle, RightAnkle, 0.25)
	assert.False(t, ok, "undetected ankles are (0,0)")

	kps[RightHip].Confidence = 0.1
	_, ok = kps.Midpoint(LeftHip, RightHip, 0.25)
	assert.False(t, ok, "low confidence landmark is not visible")

	var none Keypoints
	assert.False(t, none.Available())
	_, ok = none.Midpoint(LeftHip, RightHip, 0)
	assert.False(t, ok)
}

func TestFilterByConfidence(t *testing.T) {
	t.Parallel()

	dets := []RawDetection{
		{Confidence: 0.1},
		{Confidence: 0.3},
		{Confidence: 0.95},
	}
	got := FilterByConfidence(dets, 0.3)
	require.Len(t, got, 2)
	assert.Equal(t, 0.3, got[0].Confidence)
	assert.Equal(t, 0.95, got[1].Confidence)
	assert.Len(t, dets, 3, "input must not be modified")
}

func TestSecondsToDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Second, SecondsToDuration(2.0))
	assert.Equal(t, 6200*time.Millisecond, SecondsToDuration(6.2))
	assert.Equal(t, 33333*time.Microsecond, SecondsToDuration(1.0/30.0))
}

func TestJSONLSource(t *testing.T) {
	t.Parallel()

	input := `{"frame":0,"time":0.0,"detections":[]}

{"frame":1,"time":0.1,"detections":[{"bbox":[10,20,50,120],"confidence":0.9,"base_track_id":7},{"bbox":[0,0,5,5],"confidence":0.1}]}
{"frame":2,"time":0.2,"detections":[{"bbox":[12,20,52,120],"confidence":0.8,"keypoints":[[1,2,0.9],[3,4,0.5]]}]}
`
	src := NewJSONLSource(strings.NewReader(input)).WithConfidenceThreshold(0.3)

	f0, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), f0.Index)
	assert.Empty(t, f0.Detections)

	f1, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.Index)
	assert.Equal(t, 100*time.Millisecond, f1.Timestamp)
	require.Len(t, f1.Detections, 1, "low-confidence detection filtered")
	assert.Equal(t, BBox{X1: 10, Y1: 20, X2: 50, Y2: 120}, f1.Detections[0].BBox)
	assert.Equal(t, int64(7), f1.Detections[0].BaseTrackID)
	assert.Nil(t, f1.Detections[0].Keypoints)

	f2, err := src.Next()
	require.NoError(t, err)
	require.Len(t, f2.Detections, 1)
	require.Len(t, f2.Detections[0].Keypoints, 2)
	assert.Equal(t, Keypoint{X: 3, Y: 4, Confidence: 0.5}, f2.Detections[0].Keypoints[1])
	assert.False(t, f2.Detections[0].Keypoints.Available(), "partial skeleton is not available")

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

func TestJSONLSourceDecodeError(t *testing.T) {
	t.Parallel()

	src := NewJSONLSource(strings.NewReader("{\"frame\":0}\nnot json\n"))
	_, err := src.Next()
	require.NoError(t, err)

	_, err = src.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSliceSource(t *testing.T) {
	t.Parallel()

	src := NewSliceSource([]Frame{{Index: 4}, {Index: 5}})
	f, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.Index)
	f, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.Index)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
