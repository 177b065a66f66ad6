package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one run of one stream.
type Session struct {
	SessionID  string          `json:"session_id"`
	StreamName string          `json:"stream_name"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Frames     int64           `json:"frames"`
	Identities int64           `json:"identities"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
}

// SessionStore provides persistence for sessions and their zone summaries.
type SessionStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewSessionStore creates a new SessionStore. A nil clock uses wall time.
func NewSessionStore(db *sql.DB, clock timeutil.Clock) *SessionStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SessionStore{db: db, clock: clock}
}

// Start records a new session for streamName with the tuning it runs under.
func (s *SessionStore) Start(ctx context.Context, streamName string, tuning *config.TuningConfig) (*Session, error) {
	sess := &Session{
		SessionID:  uuid.New().String(),
		StreamName: streamName,
		StartedAt:  s.clock.Now(),
	}
	var cfg interface{}
	if tuning != nil {
		data, err := json.Marshal(tuning)
		if err != nil {
			return nil, fmt.Errorf("marshal tuning: %w", err)
		}
		sess.ConfigJSON = data
		cfg = string(data)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, stream_name, started_at, config_json)
			VALUES (?, ?, ?, ?)`,
			sess.SessionID, sess.StreamName, sess.StartedAt.UnixNano(), cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// End stamps the session's end time and final counters.
func (s *SessionStore) End(ctx context.Context, sessionID string, frames, identities int64) error {
	ended := s.clock.Now().UnixNano()
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET ended_at = ?, frames = ?, identities = ?
			WHERE session_id = ?`,
			ended, frames, identities, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Get returns a single session by id.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, stream_name, started_at, ended_at, frames, identities, config_json
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, err
}

// List returns all sessions, most recent first.
func (s *SessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, stream_name, started_at, ended_at, frames, identities, config_json
		FROM sessions ORDER BY started_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
		cfg     sql.NullString
	)
	if err := row.Scan(&sess.SessionID, &sess.StreamName, &started, &ended, &sess.Frames, &sess.Identities, &cfg); err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		sess.EndedAt = &t
	}
	if cfg.Valid {
		sess.ConfigJSON = json.RawMessage(cfg.String)
	}
	return &sess, nil
}

// SaveZoneSummaries stores the end-of-run summary of every zone, replacing
// any earlier summary for the same session.
func (s *SessionStore) SaveZoneSummaries(ctx context.Context, sessionID string, summaries []l3zones.ZoneSummary) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, zs := range summaries {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO zone_summaries (
					session_id, zone_id, zone_name, peak_occupancy,
					total_entries, total_exits, average_dwell_ns
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sessionID, zs.ZoneID, zs.Name, zs.PeakOccupancy,
				zs.TotalEntries, zs.TotalExits, int64(zs.AverageDwell)); err != nil {
				return fmt.Errorf("insert zone summary %d: %w", zs.ZoneID, err)
			}
		}
		return tx.Commit()
	})
}

// ZoneSummaries returns the stored summaries for a session, by zone id.
// Live fields (current occupancy, per-person dwell) are not persisted.
func (s *SessionStore) ZoneSummaries(ctx context.Context, sessionID string) ([]l3zones.ZoneSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT zone_id, zone_name, peak_occupancy, total_entries, total_exits, average_dwell_ns
		FROM zone_summaries WHERE session_id = ? ORDER BY zone_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query zone summaries: %w", err)
	}
	defer rows.Close()

	var out []l3zones.ZoneSummary
	for rows.Next() {
		var zs l3zones.ZoneSummary
		var dwell int64
		if err := rows.Scan(&zs.ZoneID, &zs.Name, &zs.PeakOccupancy, &zs.TotalEntries, &zs.TotalExits, &dwell); err != nil {
			return nil, err
		}
		zs.AverageDwell = time.Duration(dwell)
		out = append(out, zs)
	}
	return out, rows.Err()
}
