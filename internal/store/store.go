// Package store persists workout documents behind the narrow interface the
// video ingestion pipeline needs: insert one entry per recorded workout,
// then patch it once analysis completes. The collection shape mirrors the
// spec's `users/{user_id}/workouts` document path even though the backing
// engine here is SQLite rather than a hosted document database — see
// DESIGN.md for why no real document-database client is wired into this
// corpus.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrWorkoutNotFound is returned when a patch targets a document that does
// not exist for the given user.
var ErrWorkoutNotFound = errors.New("workout document not found")

// Feedback is one analyzer-produced correction record.
type Feedback struct {
	Class      string `json:"class"`
	Correction string `json:"correction"`
}

// WorkoutEntry is the document shape inserted for a new recording, before
// analysis has produced a video id or feedback.
type WorkoutEntry struct {
	Date time.Time
	Type string
}

// Store persists workout documents in SQLite, keyed by (user_id, doc_id).
// ProjectID is accepted and recorded purely as the addressing identifier a
// hosted document database would use (PROJECT_ID in the environment); it
// does not change where data physically lands.
type Store struct {
	db        *sql.DB
	projectID string
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path, projectID string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}

	st := &Store{db: db, projectID: projectID}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("store: opened", "path", path, "project_id", projectID)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workouts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	date_unix_ms INTEGER NOT NULL,
	workout_type TEXT NOT NULL,
	video_id TEXT,
	reps_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_workouts_user ON workouts(user_id, date_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	slog.Debug("store: migrations applied")
	return nil
}

// InsertWorkout creates a new workout document under users/{userID}/workouts
// with a null video_id and null reps, returning the assigned document id.
func (s *Store) InsertWorkout(ctx context.Context, userID string, entry WorkoutEntry) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("store: user id is required")
	}
	id := uuid.NewString()
	const q = `INSERT INTO workouts (id, user_id, date_unix_ms, workout_type, video_id, reps_json) VALUES (?, ?, ?, ?, NULL, NULL)`
	if _, err := s.db.ExecContext(ctx, q, id, userID, entry.Date.UnixMilli(), entry.Type); err != nil {
		return "", fmt.Errorf("store: insert workout: %w", err)
	}
	slog.Debug("store: workout inserted", "user_id", userID, "doc_id", id, "type", entry.Type)
	return id, nil
}

// PatchWorkout sets video_id and reps on a previously inserted document.
func (s *Store) PatchWorkout(ctx context.Context, userID, docID, videoID string, feedback []Feedback) error {
	repsJSON, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("store: marshal feedback: %w", err)
	}
	const q = `UPDATE workouts SET video_id = ?, reps_json = ? WHERE id = ? AND user_id = ?`
	res, err := s.db.ExecContext(ctx, q, videoID, string(repsJSON), docID, userID)
	if err != nil {
		return fmt.Errorf("store: patch workout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: patch workout rows affected: %w", err)
	}
	if n == 0 {
		return ErrWorkoutNotFound
	}
	slog.Debug("store: workout patched", "user_id", userID, "doc_id", docID, "video_id", videoID, "feedback_count", len(feedback))
	return nil
}

// WorkoutRow is a persisted workout document, used by read-only tooling
// (the server CLI's list-workouts subcommand).
type WorkoutRow struct {
	ID       string
	UserID   string
	Date     time.Time
	Type     string
	VideoID  *string
	RepsJSON *string
}

// ListWorkouts returns workouts for one user (or all users if userID is
// empty), most recent first, limited to limit rows.
func (s *Store) ListWorkouts(ctx context.Context, userID string, limit int) ([]WorkoutRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if userID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, date_unix_ms, workout_type, video_id, reps_json FROM workouts ORDER BY date_unix_ms DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, date_unix_ms, workout_type, video_id, reps_json FROM workouts WHERE user_id = ? ORDER BY date_unix_ms DESC LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list workouts: %w", err)
	}
	defer rows.Close()

	var out []WorkoutRow
	for rows.Next() {
		var r WorkoutRow
		var dateMS int64
		if err := rows.Scan(&r.ID, &r.UserID, &dateMS, &r.Type, &r.VideoID, &r.RepsJSON); err != nil {
			return nil, fmt.Errorf("store: scan workout row: %w", err)
		}
		r.Date = time.UnixMilli(dateMS).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
