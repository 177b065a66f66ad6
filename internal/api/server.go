// Package api serves the stored sessions, zone events, activity
// observations and zone summaries as read-only JSON.
package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
	"github.com/banshee-data/occupancy.report/internal/people/storage/sqlite"
)

// Server answers read-only queries against the session database.
type Server struct {
	db       *sql.DB
	sessions *sqlite.SessionStore
}

// NewServer returns a Server reading sessions, events and summaries from
// db. Routes are mounted with AttachRoutes or ServeMux.
func NewServer(db *sql.DB) *Server {
	return &Server{
		db:       db,
		sessions: sqlite.NewSessionStore(db, nil),
	}
}

// AttachRoutes mounts the /api/ routes on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.listZoneEvents)
	mux.HandleFunc("GET /api/sessions/{id}/observations", s.listObservations)
	mux.HandleFunc("GET /api/sessions/{id}/zones", s.listZoneSummaries)
	mux.HandleFunc("GET /api/sessions/{id}/people/{person}/activity", s.showActivity)
}

// ServeMux returns a new mux carrying only the /api/ routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// ZoneEventAPI is the wire form of a zone event; times are seconds of
// stream time.
type ZoneEventAPI struct {
	PersonID int64    `json:"person_id"`
	ZoneID   int      `json:"zone_id"`
	Kind     string   `json:"kind"`
	Frame    int64    `json:"frame"`
	Time     float64  `json:"time"`
	Duration *float64 `json:"duration,omitempty"`
	Forced   bool     `json:"forced,omitempty"`
}

func zoneEventToAPI(e l3zones.ZoneEvent) ZoneEventAPI {
	out := ZoneEventAPI{
		PersonID: e.PersonID,
		ZoneID:   e.ZoneID,
		Kind:     string(e.Kind),
		Frame:    e.Frame,
		Time:     e.Time.Seconds(),
		Forced:   e.Forced,
	}
	if e.Duration != nil {
		d := e.Duration.Seconds()
		out.Duration = &d
	}
	return out
}

// ObservationAPI is the wire form of an activity observation.
type ObservationAPI struct {
	PersonID      int64   `json:"person_id"`
	Frame         int64   `json:"frame"`
	Time          float64 `json:"time"`
	RawLabel      string  `json:"raw_label"`
	SmoothedLabel string  `json:"smoothed_label"`
	Speed         float64 `json:"speed"`
	HipAngle      float64 `json:"hip_angle"`
	HeadTilt      float64 `json:"head_tilt"`
	Final         bool    `json:"final,omitempty"`
}

func observationToAPI(o l4activity.Observation) ObservationAPI {
	return ObservationAPI{
		PersonID:      o.PersonID,
		Frame:         o.Frame,
		Time:          o.Time.Seconds(),
		RawLabel:      string(o.RawLabel),
		SmoothedLabel: string(o.SmoothedLabel),
		Speed:         o.Speed,
		HipAngle:      o.HipAngle,
		HeadTilt:      o.HeadTilt,
		Final:         o.Final,
	}
}

// ZoneSummaryAPI is the wire form of a stored zone summary.
type ZoneSummaryAPI struct {
	ZoneID        int     `json:"zone_id"`
	Name          string  `json:"name"`
	PeakOccupancy int     `json:"peak_occupancy"`
	TotalEntries  int     `json:"total_entries"`
	TotalExits    int     `json:"total_exits"`
	AverageDwell  float64 `json:"average_dwell"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []*sqlite.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// lookupSession resolves the {id} path value, writing the error response
// itself when the session cannot be served.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*sqlite.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, sqlite.ErrSessionNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve session: %v", err))
		return nil, false
	}
	return sess, true
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookupSession(w, r); ok {
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) listZoneEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	events, err := sqlite.NewEventStore(s.db, sess.SessionID).ZoneEvents(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	out := make([]ZoneEventAPI, len(events))
	for i, e := range events {
		out[i] = zoneEventToAPI(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// parsePerson reads a positive person id; empty means zero (everyone).
func parsePerson(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid person id %q", v)
	}
	return id, nil
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	person, err := parsePerson(r.URL.Query().Get("person"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	obs, err := sqlite.NewEventStore(s.db, sess.SessionID).Observations(r.Context(), person)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve observations: %v", err))
		return
	}
	out := make([]ObservationAPI, len(obs))
	for i, o := range obs {
		out[i] = observationToAPI(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listZoneSummaries(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	summaries, err := s.sessions.ZoneSummaries(r.Context(), sess.SessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve zone summaries: %v", err))
		return
	}
	out := make([]ZoneSummaryAPI, len(summaries))
	for i, zs := range summaries {
		out[i] = ZoneSummaryAPI{
			ZoneID:        zs.ZoneID,
			Name:          zs.Name,
			PeakOccupancy: zs.PeakOccupancy,
			TotalEntries:  zs.TotalEntries,
			TotalExits:    zs.TotalExits,
			AverageDwell:  zs.AverageDwell.Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// showActivity reports seconds spent under each smoothed label.
func (s *Server) showActivity(w http.ResponseWriter, r *http.Request) {
	person, err := parsePerson(r.PathValue("person"))
	if err != nil || person == 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid person id %q", r.PathValue("person")))
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	durations, err := sqlite.NewEventStore(s.db, sess.SessionID).LabelDurations(r.Context(), person)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve activity: %v", err))
		return
	}
	out := make(map[string]float64, len(durations))
	for label, d := range durations {
		out[string(label)] = d.Seconds()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"person_id": person,
		"labels":    out,
	})
}
