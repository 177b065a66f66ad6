package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
	"github.com/banshee-data/occupancy.report/internal/people/storage/sqlite"
	"github.com/banshee-data/occupancy.report/internal/testutil"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestServer returns a server over a database holding one session
// with two zone events, three observations and a zone summary.
func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	sessions := sqlite.NewSessionStore(database.DB, timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	sess, err := sessions.Start(ctx, "lobby-cam", nil)
	require.NoError(t, err)

	events := sqlite.NewEventStore(database.DB, sess.SessionID)
	stay := 1500 * time.Millisecond
	require.NoError(t, events.RecordZoneEvents([]l3zones.ZoneEvent{
		{PersonID: 1, ZoneID: 0, Kind: l3zones.EventEntry, Frame: 2, Time: 200 * time.Millisecond},
		{PersonID: 1, ZoneID: 0, Kind: l3zones.EventExit, Frame: 17, Time: 1700 * time.Millisecond, Duration: &stay, Forced: true},
	}))
	require.NoError(t, events.RecordObservations([]l4activity.Observation{
		{PersonID: 1, Frame: 2, Time: 200 * time.Millisecond, RawLabel: l4activity.LabelNoPose, SmoothedLabel: l4activity.LabelNoPose},
		{PersonID: 2, Frame: 3, Time: 300 * time.Millisecond, RawLabel: l4activity.LabelNoPose, SmoothedLabel: l4activity.LabelNoPose},
		{PersonID: 1, Frame: 17, Time: 1700 * time.Millisecond, RawLabel: l4activity.LabelNoPose, SmoothedLabel: l4activity.LabelNoPose, Final: true},
	}))
	require.NoError(t, sessions.SaveZoneSummaries(ctx, sess.SessionID, []l3zones.ZoneSummary{
		{ZoneID: 0, Name: "Lobby", PeakOccupancy: 1, TotalEntries: 1, TotalExits: 1, AverageDwell: stay},
	}))
	require.NoError(t, sessions.End(ctx, sess.SessionID, 18, 1))
	return NewServer(database.DB), sess.SessionID
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.LocalRequest(http.MethodGet, path))
	return rec
}

func TestListSessions(t *testing.T) {
	s, id := setupTestServer(t)
	rec := serve(t, s, "/api/sessions")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []sqlite.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].SessionID)
	assert.Equal(t, int64(18), got[0].Frames)
}

func TestShowSession(t *testing.T) {
	s, id := setupTestServer(t)

	rec := serve(t, s, "/api/sessions/"+id)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var got sqlite.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "lobby-cam", got.StreamName)

	rec = serve(t, s, "/api/sessions/nope")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	assert.Contains(t, rec.Body.String(), "session not found")

	rec = serve(t, s, "/api/sessions/nope/events")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestListZoneEvents(t *testing.T) {
	s, id := setupTestServer(t)
	rec := serve(t, s, "/api/sessions/"+id+"/events")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got []ZoneEventAPI
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "entry", got[0].Kind)
	assert.Nil(t, got[0].Duration)
	assert.Equal(t, "exit", got[1].Kind)
	require.NotNil(t, got[1].Duration)
	assert.InDelta(t, 1.5, *got[1].Duration, 1e-9)
	assert.InDelta(t, 1.7, got[1].Time, 1e-9)
	assert.True(t, got[1].Forced)
}

func TestListObservations(t *testing.T) {
	s, id := setupTestServer(t)

	tests := []struct {
		query    string
		wantCode int
		wantLen  int
	}{
		{"", http.StatusOK, 3},
		{"?person=1", http.StatusOK, 2},
		{"?person=9", http.StatusOK, 0},
		{"?person=abc", http.StatusBadRequest, 0},
		{"?person=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(t, s, "/api/sessions/"+id+"/observations"+tt.query)
			testutil.AssertStatusCode(t, rec.Code, tt.wantCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var got []ObservationAPI
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestListZoneSummaries(t *testing.T) {
	s, id := setupTestServer(t)
	rec := serve(t, s, "/api/sessions/"+id+"/zones")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got []ZoneSummaryAPI
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []ZoneSummaryAPI{{
		ZoneID: 0, Name: "Lobby", PeakOccupancy: 1, TotalEntries: 1, TotalExits: 1, AverageDwell: 1.5,
	}}, got)
}

func TestShowActivity(t *testing.T) {
	s, id := setupTestServer(t)
	rec := serve(t, s, "/api/sessions/"+id+"/people/1/activity")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got struct {
		PersonID int64              `json:"person_id"`
		Labels   map[string]float64 `json:"labels"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(1), got.PersonID)
	assert.InDelta(t, 1.5, got.Labels["no_pose"], 1e-9)

	rec = serve(t, s, "/api/sessions/"+id+"/people/0/activity")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestRoutesAreReadOnly(t *testing.T) {
	s, id := setupTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.LocalRequest(http.MethodPost, "/api/sessions/"+id))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	prev := monitoring.Logf
	monitoring.SetLogger(monitoring.WriterLogger(&buf, ""))
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	tests := []struct {
		name    string
		handler http.HandlerFunc
		target  string
		want    string
	}{
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSONError(w, http.StatusTeapot, "short and stout")
			},
			target: "/api/teapot?x=1",
			want:   "api GET /api/teapot?x=1 -> 418 (28B, ",
		},
		{
			name: "implicit ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			target: "/api/sessions",
			want:   "api GET /api/sessions -> 200 (2B, ",
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			target:  "/api/empty",
			want:    "api GET /api/empty -> 200 (0B, ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			LogRequests(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.True(t, strings.Contains(buf.String(), tt.want), buf.String())
			assert.NotContains(t, buf.String(), "\033[")
		})
	}
}

func TestLogRequestsKeepsFlusher(t *testing.T) {
	h := LogRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chunk"))
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "chunk", rec.Body.String())
}
