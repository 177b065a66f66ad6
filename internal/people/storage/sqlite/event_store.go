package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
)

// EventStore persists the zone events and activity observations of one
// session. It satisfies pipeline.Sink; each batch is written in one
// transaction so a frame's output lands atomically.
type EventStore struct {
	db        *sql.DB
	sessionID string
}

// NewEventStore creates an EventStore writing under sessionID.
func NewEventStore(db *sql.DB, sessionID string) *EventStore {
	return &EventStore{db: db, sessionID: sessionID}
}

// SessionID returns the session the store writes under.
func (s *EventStore) SessionID() string {
	return s.sessionID
}

// RecordZoneEvents appends events in order.
func (s *EventStore) RecordZoneEvents(events []l3zones.ZoneEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO zone_events (
				session_id, person_id, zone_id, kind, frame, time_ns, duration_ns, forced
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			var dur interface{}
			if e.Duration != nil {
				dur = int64(*e.Duration)
			}
			if _, err := stmt.Exec(s.sessionID, e.PersonID, e.ZoneID, string(e.Kind),
				e.Frame, int64(e.Time), dur, e.Forced); err != nil {
				return fmt.Errorf("insert zone event: %w", err)
			}
		}
		return nil
	})
}

// RecordObservations appends activity observations in order.
func (s *EventStore) RecordObservations(obs []l4activity.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO activity_observations (
				session_id, person_id, frame, time_ns, raw_label, smoothed_label,
				speed_pxps, hip_angle, head_tilt, final
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range obs {
			if _, err := stmt.Exec(s.sessionID, o.PersonID, o.Frame, int64(o.Time),
				string(o.RawLabel), string(o.SmoothedLabel),
				o.Speed, o.HipAngle, o.HeadTilt, o.Final); err != nil {
				return fmt.Errorf("insert observation: %w", err)
			}
		}
		return nil
	})
}

func (s *EventStore) inTx(fn func(tx *sql.Tx) error) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ZoneEvents returns the session's zone events in insertion order.
func (s *EventStore) ZoneEvents(ctx context.Context) ([]l3zones.ZoneEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, zone_id, kind, frame, time_ns, duration_ns, forced
		FROM zone_events WHERE session_id = ? ORDER BY event_id`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("query zone events: %w", err)
	}
	defer rows.Close()

	var out []l3zones.ZoneEvent
	for rows.Next() {
		var (
			e    l3zones.ZoneEvent
			kind string
			at   int64
			dur  sql.NullInt64
		)
		if err := rows.Scan(&e.PersonID, &e.ZoneID, &kind, &e.Frame, &at, &dur, &e.Forced); err != nil {
			return nil, err
		}
		e.Kind = l3zones.EventKind(kind)
		e.Time = time.Duration(at)
		if dur.Valid {
			d := time.Duration(dur.Int64)
			e.Duration = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Observations returns the session's activity observations in insertion
// order. A personID of zero returns every person.
func (s *EventStore) Observations(ctx context.Context, personID int64) ([]l4activity.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, frame, time_ns, raw_label, smoothed_label, speed_pxps, hip_angle, head_tilt, final
		FROM activity_observations
		WHERE session_id = ? AND (? = 0 OR person_id = ?)
		ORDER BY observation_id`, s.sessionID, personID, personID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []l4activity.Observation
	for rows.Next() {
		var (
			o        l4activity.Observation
			at       int64
			raw, smo string
		)
		if err := rows.Scan(&o.PersonID, &o.Frame, &at, &raw, &smo, &o.Speed, &o.HipAngle, &o.HeadTilt, &o.Final); err != nil {
			return nil, err
		}
		o.Time = time.Duration(at)
		o.RawLabel = l4activity.Label(raw)
		o.SmoothedLabel = l4activity.Label(smo)
		out = append(out, o)
	}
	return out, rows.Err()
}

// LabelDurations totals, per smoothed label, the stream time between each
// of a person's consecutive observations, attributed to the earlier
// observation's label.
func (s *EventStore) LabelDurations(ctx context.Context, personID int64) (map[l4activity.Label]time.Duration, error) {
	obs, err := s.Observations(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := make(map[l4activity.Label]time.Duration)
	for i := 1; i < len(obs); i++ {
		if d := obs[i].Time - obs[i-1].Time; d > 0 {
			out[obs[i-1].SmoothedLabel] += d
		}
	}
	return out, nil
}
