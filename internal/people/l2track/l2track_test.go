package l2track

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameInterval = 100 * time.Millisecond

func testConfig() AssociatorConfig {
	return AssociatorConfig{
		AssociationIoU:           0.3,
		GhostIoU:                 0.2,
		GhostDistance:            200,
		GhostWindowFrames:        50,
		MinimumConsecutiveFrames: 3,
		MaxTracks:                256,
	}
}

// person returns a 40×100 px box whose top-left corner is at (x, y).
func person(x, y float64) l1detect.RawDetection {
	return l1detect.RawDetection{
		BBox:       l1detect.BBox{X1: x, Y1: y, X2: x + 40, Y2: y + 100},
		Confidence: 0.9,
	}
}

func frameAt(idx int64, dets ...l1detect.RawDetection) l1detect.Frame {
	return l1detect.Frame{
		Index:      idx,
		Timestamp:  time.Duration(idx) * testFrameInterval,
		Detections: dets,
	}
}

func mustUpdate(t *testing.T, a *Associator, f l1detect.Frame) Update {
	t.Helper()
	u, err := a.Update(f)
	require.NoError(t, err)
	return u
}

func activeIDs(u Update) []int64 {
	ids := make([]int64, 0, len(u.Active))
	for _, tr := range u.Active {
		ids = append(ids, tr.ID)
	}
	return ids
}

func TestDefaultAssociatorConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultAssociatorConfig()
	assert.Equal(t, int64(150), cfg.GhostWindowFrames)
	assert.Equal(t, 3, cfg.MinimumConsecutiveFrames)
	assert.Equal(t, 200.0, cfg.GhostDistance)
}

func TestConfirmationAfterConsecutiveFrames(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())

	u := mustUpdate(t, a, frameAt(0, person(100, 100)))
	assert.Empty(t, u.Active)
	assert.Equal(t, 1, u.Candidates)

	u = mustUpdate(t, a, frameAt(1, person(102, 100)))
	assert.Empty(t, u.Active)

	u = mustUpdate(t, a, frameAt(2, person(104, 100)))
	require.Len(t, u.Active, 1)
	assert.Equal(t, []int64{1}, u.Created)

	tr := u.Active[0]
	assert.Equal(t, int64(1), tr.ID)
	assert.Equal(t, TrackActive, tr.State)
	assert.Equal(t, 3, tr.ConsecutiveFrames)
	assert.Equal(t, int64(0), tr.FirstSeenFrame)
	assert.Equal(t, int64(2), tr.LastSeenFrame)
	assert.InDelta(t, 20.0, tr.Velocity.X, 1e-9, "2 px per 100 ms")
	assert.Zero(t, u.Candidates)

	u = mustUpdate(t, a, frameAt(3, person(106, 100)))
	require.Len(t, u.Active, 1)
	assert.Equal(t, 4, u.Active[0].ConsecutiveFrames)
	assert.Empty(t, u.Created)
}

func TestNoPrematureIdentity(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())

	mustUpdate(t, a, frameAt(0, person(100, 100)))
	mustUpdate(t, a, frameAt(1, person(101, 100)))
	u := mustUpdate(t, a, frameAt(2))
	assert.Empty(t, u.Active)
	assert.Empty(t, u.Ghosts)
	assert.Zero(t, u.Candidates, "a candidate that misses a frame is dropped")

	// Counting restarts after the gap.
	mustUpdate(t, a, frameAt(3, person(100, 100)))
	u = mustUpdate(t, a, frameAt(4, person(100, 100)))
	assert.Empty(t, u.Active)
	assert.Equal(t, int64(1), a.NextID(), "no id has been issued")
}

func TestGhostReidentification(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(100, 100)))
	}

	u := mustUpdate(t, a, frameAt(3))
	assert.Empty(t, u.Active)
	require.Len(t, u.Ghosts, 1)
	assert.Equal(t, []int64{1}, u.Lost)
	assert.Equal(t, int64(3), u.Ghosts[0].LostFrame)

	for i := int64(4); i < 15; i++ {
		u = mustUpdate(t, a, frameAt(i))
		require.Len(t, u.Ghosts, 1)
	}

	// Reappears 60 px away: no IoU overlap but within ghost distance.
	u = mustUpdate(t, a, frameAt(15, person(160, 100)))
	require.Len(t, u.Reidentified, 1)
	assert.Equal(t, int64(1), u.Reidentified[0].TrackID)
	assert.Equal(t, MatchDistance, u.Reidentified[0].Kind)
	assert.Equal(t, int64(13), u.Reidentified[0].GhostFrames)
	assert.Equal(t, []int64{1}, activeIDs(u))
	assert.Empty(t, u.Ghosts)
	assert.Empty(t, u.Created, "re-identified track is not a new identity")
	assert.Zero(t, u.Active[0].LostFrame)
	assert.Equal(t, int64(0), u.Active[0].FirstSeenFrame)
}

func TestIdentityStableAcrossGaps(t *testing.T) {
	t.Parallel()

	window := testConfig().GhostWindowFrames
	type shift struct{ dx, dy float64 }
	tests := []struct {
		name   string
		gap    int64 // Frames with no detection
		offset shift
		kind   MatchKind
	}{
		{"one frame in place", 1, shift{0, 0}, MatchBoth},
		{"one frame at threshold", 1, shift{200, 0}, MatchDistance},
		{"short gap small step", 10, shift{15, 0}, MatchBoth},
		{"short gap diagonal", 10, shift{90, 120}, MatchDistance},
		{"half window", window / 2, shift{150, 0}, MatchDistance},
		{"last frame of window in place", window - 1, shift{0, 0}, MatchBoth},
		{"last frame of window at threshold", window - 1, shift{0, 200}, MatchDistance},
		{"last frame of window behind", window - 1, shift{-200, 0}, MatchDistance},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAssociator(testConfig())
			for i := int64(0); i < 3; i++ {
				mustUpdate(t, a, frameAt(i, person(300, 300)))
			}
			nextID := a.nextID

			f := int64(3)
			for ; f < 3+tt.gap; f++ {
				u := mustUpdate(t, a, frameAt(f))
				require.Len(t, u.Ghosts, 1, "frame %d", f)
			}

			u := mustUpdate(t, a, frameAt(f, person(300+tt.offset.dx, 300+tt.offset.dy)))
			require.Len(t, u.Reidentified, 1)
			assert.Equal(t, int64(1), u.Reidentified[0].TrackID)
			assert.Equal(t, tt.kind, u.Reidentified[0].Kind)
			assert.Equal(t, tt.gap+1, u.Reidentified[0].GhostFrames)
			assert.Equal(t, []int64{1}, activeIDs(u))
			assert.Empty(t, u.Created)
			assert.Empty(t, u.Retired)
			assert.Equal(t, nextID, a.nextID, "no id allocated")
		})
	}
}

func TestIdentityLostPastWindow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := NewAssociator(cfg)
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(300, 300)))
	}

	f := int64(3)
	for ; f < 3+cfg.GhostWindowFrames; f++ {
		mustUpdate(t, a, frameAt(f))
	}
	u := mustUpdate(t, a, frameAt(f, person(300, 300)))
	require.Len(t, u.Retired, 1)
	assert.Equal(t, int64(1), u.Retired[0].ID)
	assert.Empty(t, u.Reidentified)
	assert.Equal(t, 1, u.Candidates)
}

func TestGhostMatchKinds(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	ghost := &Track{BBox: person(100, 100).BBox}

	kind, _, _ := a.ghostMatch(person(100, 100), ghost)
	assert.Equal(t, MatchBoth, kind)

	kind, _, _ = a.ghostMatch(person(250, 100), ghost)
	assert.Equal(t, MatchDistance, kind)

	kind, _, dist := a.ghostMatch(person(400, 100), ghost)
	assert.Equal(t, MatchNone, kind)
	assert.InDelta(t, 300.0, dist, 1e-9)

	cfg := testConfig()
	cfg.GhostDistance = 1
	b := NewAssociator(cfg)
	kind, _, _ = b.ghostMatch(person(110, 100), ghost)
	assert.Equal(t, MatchIoU, kind)

	assert.Equal(t, "iou+distance", MatchBoth.String())
	assert.Equal(t, "none", MatchNone.String())
}

func TestGhostTieBreakMostRecentlyLost(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(0, 100), person(200, 100)))
	}
	u := mustUpdate(t, a, frameAt(3, person(0, 100), person(200, 100)))
	require.Equal(t, []int64{1, 2}, activeIDs(u))

	// Track 1 (x=0) lost first, track 2 (x=200) one frame later.
	u = mustUpdate(t, a, frameAt(4, person(200, 100)))
	assert.Equal(t, []int64{1}, u.Lost)
	u = mustUpdate(t, a, frameAt(5))
	assert.Equal(t, []int64{2}, u.Lost)

	// Equidistant from both ghosts.
	u = mustUpdate(t, a, frameAt(6, person(100, 100)))
	require.Len(t, u.Reidentified, 1)
	assert.Equal(t, int64(2), u.Reidentified[0].TrackID)
	require.Len(t, u.Ghosts, 1)
	assert.Equal(t, int64(1), u.Ghosts[0].ID)
}

func TestGhostTieBreakSmallestDistance(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(0, 100), person(300, 100)))
	}
	mustUpdate(t, a, frameAt(3))

	// Two detections, each closest to a different ghost.
	u := mustUpdate(t, a, frameAt(4, person(280, 100), person(30, 100)))
	require.Len(t, u.Reidentified, 2)
	assert.Equal(t, []int64{1, 2}, activeIDs(u))
	assert.Equal(t, l1detect.BBox{X1: 30, Y1: 100, X2: 70, Y2: 200}, u.Active[0].BBox)
	assert.Equal(t, l1detect.BBox{X1: 280, Y1: 100, X2: 320, Y2: 200}, u.Active[1].BBox)
}

func TestGhostRetirementAfterWindow(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GhostWindowFrames = 5
	a := NewAssociator(cfg)
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(100, 100)))
	}

	var u Update
	for i := int64(3); i <= 7; i++ {
		u = mustUpdate(t, a, frameAt(i))
		assert.Empty(t, u.Retired, "frame %d", i)
	}
	require.Len(t, u.Ghosts, 1)

	u = mustUpdate(t, a, frameAt(8))
	require.Len(t, u.Retired, 1)
	assert.Equal(t, int64(1), u.Retired[0].ID)
	assert.Equal(t, TrackRetired, u.Retired[0].State)
	assert.Equal(t, int64(2), u.Retired[0].LastSeenFrame)
	assert.Empty(t, u.Ghosts)

	// Same place again: a fresh identity after confirmation, never id 1.
	mustUpdate(t, a, frameAt(9, person(100, 100)))
	mustUpdate(t, a, frameAt(10, person(100, 100)))
	u = mustUpdate(t, a, frameAt(11, person(100, 100)))
	assert.Empty(t, u.Reidentified)
	assert.Equal(t, []int64{2}, activeIDs(u))
}

func TestExpiredGhostRetiresBeforeReidentification(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GhostWindowFrames = 5
	a := NewAssociator(cfg)
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(100, 100)))
	}
	mustUpdate(t, a, frameAt(3))

	// Frames may skip; 9 − 2 exceeds the window on the same frame the
	// detection reappears.
	u := mustUpdate(t, a, frameAt(9, person(100, 100)))
	require.Len(t, u.Retired, 1)
	assert.Empty(t, u.Reidentified)
	assert.Empty(t, u.Active)
	assert.Equal(t, 1, u.Candidates)
}

func TestBaseTrackHint(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	for i := int64(0); i < 3; i++ {
		d := person(100, 100)
		d.BaseTrackID = 42
		mustUpdate(t, a, frameAt(i, d))
	}

	// A 100 px jump has no IoU, but the upstream id matches.
	d := person(200, 100)
	d.BaseTrackID = 42
	u := mustUpdate(t, a, frameAt(3, d))
	assert.Empty(t, u.Lost)
	assert.Empty(t, u.Reidentified)
	require.Equal(t, []int64{1}, activeIDs(u))
	assert.Equal(t, 4, u.Active[0].ConsecutiveFrames)
	assert.Equal(t, int64(42), u.Active[0].BaseTrackID)

	// Too far for the hint: the track is lost.
	d = person(900, 100)
	d.BaseTrackID = 42
	u = mustUpdate(t, a, frameAt(4, d))
	assert.Equal(t, []int64{1}, u.Lost)
}

func TestFrameRegression(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	mustUpdate(t, a, frameAt(5))

	_, err := a.Update(frameAt(5))
	require.ErrorIs(t, err, ErrFrameRegression)
	_, err = a.Update(frameAt(4))
	require.ErrorIs(t, err, ErrFrameRegression)

	mustUpdate(t, a, frameAt(6))
}

func TestMalformedDetectionsDropped(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	bad := person(0, 0)
	bad.BBox.X2 = math.NaN()
	inverted := l1detect.RawDetection{BBox: l1detect.BBox{X1: 50, Y1: 0, X2: 10, Y2: 10}}

	u := mustUpdate(t, a, frameAt(0, bad, person(100, 100), inverted))
	assert.Equal(t, 2, u.Dropped)
	assert.Equal(t, 1, u.Candidates)
}

func TestMaxTracks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTracks = 1
	cfg.MinimumConsecutiveFrames = 1
	a := NewAssociator(cfg)

	u := mustUpdate(t, a, frameAt(0, person(0, 100), person(500, 100)))
	assert.Equal(t, []int64{1}, u.Created)
	assert.Equal(t, 1, u.Candidates, "second person waits for capacity")

	active, ghosts, candidates := a.Counts()
	assert.Equal(t, 1, active)
	assert.Zero(t, ghosts)
	assert.Equal(t, 1, candidates)
}

func TestRetireAll(t *testing.T) {
	t.Parallel()

	a := NewAssociator(testConfig())
	for i := int64(0); i < 3; i++ {
		mustUpdate(t, a, frameAt(i, person(0, 100), person(300, 100)))
	}
	mustUpdate(t, a, frameAt(3, person(0, 100)))

	retired := a.RetireAll()
	require.Len(t, retired, 2)
	assert.Equal(t, int64(1), retired[0].ID)
	assert.Equal(t, int64(3), retired[0].LastSeenFrame)
	assert.Equal(t, int64(2), retired[1].ID)
	assert.Equal(t, int64(2), retired[1].LastSeenFrame)
	for _, tr := range retired {
		assert.Equal(t, TrackRetired, tr.State)
	}
	assert.Empty(t, a.Tracks())
	_, ok := a.Track(1)
	assert.False(t, ok)
}

func TestHungarianAssign(t *testing.T) {
	t.Parallel()

	t.Run("optimal over greedy", func(t *testing.T) {
		t.Parallel()
		// Greedy on row 0 would take column 0 (cost 1) and force row 1
		// onto column 1 (cost 10).
		cost := [][]float64{
			{1, 2},
			{2, 10},
		}
		assert.Equal(t, []int{1, 0}, HungarianAssign(cost))
	})

	t.Run("forbidden stays unassigned", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{Forbidden, 0.5},
			{Forbidden, Forbidden},
		}
		assert.Equal(t, []int{1, -1}, HungarianAssign(cost))
	})

	t.Run("more rows than columns", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{{0.9}, {0.1}, {0.5}}
		assert.Equal(t, []int{-1, 0, -1}, HungarianAssign(cost))
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, HungarianAssign(nil))
		assert.Equal(t, []int{-1, -1}, HungarianAssign([][]float64{{}, {}}))
	})
}
