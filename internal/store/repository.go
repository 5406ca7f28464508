// Package store is the persistence collaborator: sealed replays,
// match results and achievement progress. Callers treat every
// failure here as a logging event, never as a gameplay error.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pellab/broadside/internal/replay"
)

type Repository struct {
	db        *sql.DB
	retention time.Duration // replay rows expire after this
}

func NewRepository(databaseURL string, retention time.Duration) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db, retention: retention}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveReplay upserts a sealed replay. The retention policy is applied
// here as an explicit expires_at column, not a database feature.
func (r *Repository) SaveReplay(ctx context.Context, rec *replay.Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("encode replay events: %w", err)
	}
	expiresAt := rec.RecordedAt.Add(r.retention)

	q := `INSERT INTO replays (
	    match_id, player1, player2, winner, reason, abandoned,
	    started_at, ended_at, recorded_at, expires_at, events
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    winner=EXCLUDED.winner,
	    reason=EXCLUDED.reason,
	    abandoned=EXCLUDED.abandoned,
	    ended_at=EXCLUDED.ended_at,
	    recorded_at=EXCLUDED.recorded_at,
	    expires_at=EXCLUDED.expires_at,
	    events=EXCLUDED.events`

	_, err = r.db.ExecContext(ctx, q,
		rec.MatchID,
		rec.Players[0], rec.Players[1],
		rec.Winner, rec.Reason, rec.Abandoned,
		rec.StartedAt, rec.EndedAt, rec.RecordedAt, expiresAt,
		string(events),
	)
	return err
}

// LoadReplay fetches a sealed replay; sql.ErrNoRows when absent or
// already expired.
func (r *Repository) LoadReplay(ctx context.Context, matchID string) (*replay.Record, error) {
	if r == nil || r.db == nil {
		return nil, sql.ErrNoRows
	}
	q := `SELECT match_id, player1, player2, winner, reason, abandoned,
	        started_at, ended_at, recorded_at, events
	      FROM replays
	      WHERE match_id = $1 AND expires_at > now()`

	rec := &replay.Record{}
	var rawEvents []byte
	err := r.db.QueryRowContext(ctx, q, matchID).Scan(
		&rec.MatchID,
		&rec.Players[0], &rec.Players[1],
		&rec.Winner, &rec.Reason, &rec.Abandoned,
		&rec.StartedAt, &rec.EndedAt, &rec.RecordedAt,
		&rawEvents,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawEvents, &rec.Events); err != nil {
		return nil, fmt.Errorf("decode replay events: %w", err)
	}
	return rec, nil
}

// PurgeExpiredReplays removes rows past their retention deadline.
// Run out-of-band; gameplay never waits on it.
func (r *Repository) PurgeExpiredReplays(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM replays WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordMatchResult appends a terminal match outcome.
func (r *Repository) RecordMatchResult(ctx context.Context, player1, player2, winner string) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO match_results (player1, player2, winner, recorded_at)
	      VALUES ($1,$2,$3,now())`
	_, err := r.db.ExecContext(ctx, q, player1, player2, winner)
	return err
}

// SaveAchievementProgress accumulates a progress delta for one
// player/achievement pair.
func (r *Repository) SaveAchievementProgress(ctx context.Context, playerID, achievementID string, delta int) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO achievement_progress (player_id, achievement_id, progress, updated_at)
	      VALUES ($1,$2,$3,now())
	      ON CONFLICT (player_id, achievement_id) DO UPDATE SET
	        progress = achievement_progress.progress + EXCLUDED.progress,
	        updated_at = now()`
	_, err := r.db.ExecContext(ctx, q, playerID, achievementID, delta)
	return err
}
