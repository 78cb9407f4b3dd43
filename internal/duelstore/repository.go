package duelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/domain"
)

// Repository archives finished matches and the resulting ratings in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
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
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS duel_results (
    match_id      TEXT PRIMARY KEY,
    mode          TEXT NOT NULL,
    tournament_id TEXT NOT NULL DEFAULT '',
    player1_id    TEXT NOT NULL,
    player1_name  TEXT NOT NULL DEFAULT '',
    player1_score INTEGER NOT NULL,
    player1_delta INTEGER NOT NULL DEFAULT 0,
    player2_id    TEXT NOT NULL,
    player2_name  TEXT NOT NULL DEFAULT '',
    player2_score INTEGER NOT NULL,
    player2_delta INTEGER NOT NULL DEFAULT 0,
    winner_id     TEXT NOT NULL DEFAULT '',
    end_reason    TEXT NOT NULL,
    problem_ids   JSONB NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS player_ratings (
    player_id      TEXT PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    rating         INTEGER NOT NULL,
    matches_played INTEGER NOT NULL DEFAULT 0,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// EnsureSchema creates the archive tables when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return err
}

// SaveResult upserts a finished match and the ratings of its human players.
func (r *Repository) SaveResult(ctx context.Context, m *domain.Match) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}
	problemIDs, _ := json.Marshal(m.ProblemIDs)
	duration := m.UpdatedAt.Sub(m.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO duel_results (
        match_id, mode, tournament_id,
        player1_id, player1_name, player1_score, player1_delta,
        player2_id, player2_name, player2_score, player2_delta,
        winner_id, end_reason, problem_ids, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
      ) ON CONFLICT (match_id) DO UPDATE SET
        player1_score=EXCLUDED.player1_score,
        player1_delta=EXCLUDED.player1_delta,
        player2_score=EXCLUDED.player2_score,
        player2_delta=EXCLUDED.player2_delta,
        winner_id=EXCLUDED.winner_id,
        end_reason=EXCLUDED.end_reason,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`
	if _, err := tx.ExecContext(ctx, q,
		m.ID, string(m.Mode), m.TournamentID,
		m.Player1ID, m.Player1Name, m.Player1Score, m.Player1Delta,
		m.Player2ID, m.Player2Name, m.Player2Score, m.Player2Delta,
		m.WinnerID, m.EndReason, string(problemIDs), m.CreatedAt, m.UpdatedAt, duration,
	); err != nil {
		return err
	}

	rq := `INSERT INTO player_ratings (player_id, name, rating, matches_played, updated_at)
      VALUES ($1, $2, $3, 1, $4)
      ON CONFLICT (player_id) DO UPDATE SET
        name=EXCLUDED.name,
        rating=EXCLUDED.rating,
        matches_played=player_ratings.matches_played + 1,
        updated_at=EXCLUDED.updated_at`
	for _, p := range []struct {
		id, name    string
		rating, dlt int
	}{
		{m.Player1ID, m.Player1Name, m.Player1Rating, m.Player1Delta},
		{m.Player2ID, m.Player2Name, m.Player2Rating, m.Player2Delta},
	} {
		if p.id == "" || bot.IsBotID(p.id) {
			continue
		}
		if _, err := tx.ExecContext(ctx, rq, p.id, p.name, p.rating+p.dlt, m.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
