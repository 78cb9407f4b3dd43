package catalog

import (
	"context"
	"embed"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/park285/mathlab-pvp/internal/domain"
)

//go:embed schema.sql
var schema embed.FS

// PGSource reads active problems from Postgres.
type PGSource struct{ pool *pgxpool.Pool }

func OpenPG(ctx context.Context, dsn string) (*PGSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}
	return &PGSource{pool: pool}, nil
}

func (s *PGSource) Close() { s.pool.Close() }

// Migrate creates the problems table when missing.
func (s *PGSource) Migrate(ctx context.Context) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(sqlBytes))
	return err
}

// Seed upserts problems, typically the embedded seed set on first boot.
func (s *PGSource) Seed(ctx context.Context, problems []domain.Problem) error {
	batch := &pgx.Batch{}
	for _, p := range problems {
		batch.Queue(`
			INSERT INTO problems (id, topic, difficulty, prompt, answer)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			   SET topic = EXCLUDED.topic,
			       difficulty = EXCLUDED.difficulty,
			       prompt = EXCLUDED.prompt,
			       answer = EXCLUDED.answer
		`, p.ID, p.Topic, p.Difficulty, p.Prompt, p.Answer)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PGSource) Sample(ctx context.Context, n int, rng *rand.Rand) ([]domain.Problem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM problems WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list problem ids: %w", err)
	}
	all, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan problem ids: %w", err)
	}
	ids, err := sampleIDs(all, n, rng)
	if err != nil {
		return nil, err
	}
	return s.Problems(ctx, ids)
}

func (s *PGSource) Problems(ctx context.Context, ids []string) ([]domain.Problem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, difficulty, prompt, answer
		  FROM problems
		 WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query problems: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Problem, len(ids))
	for rows.Next() {
		var p domain.Problem
		if err := rows.Scan(&p.ID, &p.Topic, &p.Difficulty, &p.Prompt, &p.Answer); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Problem, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrUnknownProblem)
		}
		out = append(out, p)
	}
	return out, nil
}
