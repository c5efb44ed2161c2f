package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	steps INTEGER NOT NULL DEFAULT 0,
	violations INTEGER NOT NULL DEFAULT 0,
	abort_reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS steps (
	episode_id TEXT NOT NULL REFERENCES episodes(id),
	step INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	current_q TEXT NOT NULL,
	target_q TEXT NOT NULL,
	raw_action TEXT NOT NULL,
	was_clamped INTEGER NOT NULL,
	loop_dt_ms REAL NOT NULL,
	inference_dt_ms REAL NOT NULL,
	buffer_depth INTEGER NOT NULL,
	drift_rad TEXT NOT NULL,
	PRIMARY KEY (episode_id, step)
);
`

// Store persists episodes and their step records to sqlite. Writes are
// best-effort and happen off the control-loop goroutine.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if necessary) the episode database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open episode db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init episode schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginEpisode inserts a new episode row and returns its id.
func (s *Store) BeginEpisode(startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO episodes (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("begin episode: %w", err)
	}
	return id, nil
}

// FinishEpisode records the episode summary.
func (s *Store) FinishEpisode(id string, finishedAt time.Time, steps, violations int, abortReason string) error {
	_, err := s.db.Exec(
		`UPDATE episodes SET finished_at = ?, steps = ?, violations = ?, abort_reason = ? WHERE id = ?`,
		finishedAt.UTC(), steps, violations, abortReason, id,
	)
	if err != nil {
		return fmt.Errorf("finish episode: %w", err)
	}
	return nil
}

// RecordStep persists one step record.
func (s *Store) RecordStep(episodeID string, rec StepRecord) error {
	currentQ, _ := json.Marshal(rec.CurrentQ)
	targetQ, _ := json.Marshal(rec.TargetQ)
	rawAction, _ := json.Marshal(rec.RawAction)
	drift, _ := json.Marshal(rec.DriftRad)

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO steps
		 (episode_id, step, recorded_at, current_q, target_q, raw_action,
		  was_clamped, loop_dt_ms, inference_dt_ms, buffer_depth, drift_rad)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episodeID, rec.Step, rec.Timestamp.UTC(),
		string(currentQ), string(targetQ), string(rawAction),
		rec.WasClamped, rec.LoopDtMs, rec.InferenceDtMs, rec.BufferDepth,
		string(drift),
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// EpisodeSummary is one row of the episodes table.
type EpisodeSummary struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Steps       int
	Violations  int
	AbortReason string
}

// Episode returns the summary row for an episode id.
func (s *Store) Episode(id string) (EpisodeSummary, error) {
	var out EpisodeSummary
	var finished sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, started_at, finished_at, steps, violations, abort_reason
		 FROM episodes WHERE id = ?`, id,
	).Scan(&out.ID, &out.StartedAt, &finished, &out.Steps, &out.Violations, &out.AbortReason)
	if err != nil {
		return EpisodeSummary{}, err
	}
	if finished.Valid {
		out.FinishedAt = &finished.Time
	}
	return out, nil
}

// StepCount returns how many steps were persisted for an episode.
func (s *Store) StepCount(episodeID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE episode_id = ?`, episodeID).Scan(&n)
	return n, err
}

// RunSink subscribes to the hub and persists every step it receives until
// ctx is cancelled. Persistence errors are logged and do not stop the sink;
// the loop must never feel the database.
func (s *Store) RunSink(ctx context.Context, hub *Hub, episodeID string) {
	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if err := s.RecordStep(episodeID, rec); err != nil {
				log.Printf("episode store: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
