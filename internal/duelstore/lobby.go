package duelstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
)

// FindOpenMatch returns the waiting match whose creator rating is closest to
// p's, within ratingRange. Ties go to the oldest match. (nil, nil) when none.
func (s *Store) FindOpenMatch(ctx context.Context, p domain.Player, ratingRange int) (*domain.Match, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.ErrInvalidArgs
	}
	if ratingRange < 0 {
		ratingRange = 0
	}
	lo := strconv.Itoa(p.Rating - ratingRange)
	hi := strconv.Itoa(p.Rating + ratingRange)
	ids, err := s.rdb.ZRangeByScore(ctx, openKey, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, err
	}
	var best *domain.Match
	for _, id := range ids {
		m, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, domain.ErrMatchNotFound) {
			_ = s.rdb.ZRem(ctx, openKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.Status != domain.MatchWaiting || m.Player2ID != "" {
			_ = s.rdb.ZRem(ctx, openKey, id).Err()
			continue
		}
		if m.Player1ID == p.ID {
			continue
		}
		if best == nil || closer(m, best, p.Rating) {
			best = m
		}
	}
	return best, nil
}

func closer(a, b *domain.Match, rating int) bool {
	da, db := abs(a.Player1Rating-rating), abs(b.Player1Rating-rating)
	if da != db {
		return da < db
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// CreateMatch opens a waiting match hosted by p. With no problem ids a fresh
// set is sampled from the catalog.
func (s *Store) CreateMatch(ctx context.Context, p domain.Player, problemIDs []string) (*domain.Match, error) {
	if strings.TrimSpace(p.ID) == "" || bot.IsBotID(p.ID) {
		return nil, domain.ErrInvalidArgs
	}
	ids, err := s.problemSet(ctx, problemIDs, s.matchSize)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	m := &domain.Match{
		ID:              uuid.NewString(),
		Mode:            domain.ModePvP,
		Status:          domain.MatchWaiting,
		ProblemIDs:      ids,
		Player1ID:       strings.TrimSpace(p.ID),
		Player1Name:     strings.TrimSpace(p.Name),
		Player1Rating:   s.ratingFor(ctx, p),
		Player1LastSeen: now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insert(ctx, m); err != nil {
		return nil, err
	}
	if err := s.rdb.ZAdd(ctx, openKey, redis.Z{Score: float64(m.Player1Rating), Member: m.ID}).Err(); err != nil {
		return nil, err
	}
	obslog.L().Info("duel_match_create",
		zap.String("match_id", m.ID),
		zap.String("player_id", m.Player1ID),
		zap.Int("rating", m.Player1Rating),
		zap.Int("problems", len(ids)),
	)
	return m, nil
}

// CreatePairedMatch starts an already paired match, used for tournaments.
func (s *Store) CreatePairedMatch(ctx context.Context, tournamentID string, p1, p2 domain.Player, size int) (*domain.Match, error) {
	if strings.TrimSpace(p1.ID) == "" || strings.TrimSpace(p2.ID) == "" || p1.ID == p2.ID {
		return nil, domain.ErrInvalidArgs
	}
	ids, err := s.problemSet(ctx, nil, size)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	mode := domain.ModePvP
	if tournamentID != "" {
		mode = domain.ModeTournament
	}
	m := &domain.Match{
		ID:              uuid.NewString(),
		Mode:            mode,
		Status:          domain.MatchActive,
		ProblemIDs:      ids,
		TournamentID:    tournamentID,
		Player1ID:       p1.ID,
		Player1Name:     p1.Name,
		Player1Rating:   s.ratingFor(ctx, p1),
		Player1LastSeen: now,
		Player2ID:       p2.ID,
		Player2Name:     p2.Name,
		Player2Rating:   s.ratingFor(ctx, p2),
		Player2LastSeen: now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insert(ctx, m); err != nil {
		return nil, err
	}
	obslog.L().Info("duel_match_paired",
		zap.String("match_id", m.ID),
		zap.String("tournament_id", tournamentID),
		zap.String("player1_id", p1.ID),
		zap.String("player2_id", p2.ID),
	)
	return m, nil
}

func (s *Store) problemSet(ctx context.Context, ids []string, n int) ([]string, error) {
	if len(ids) > 0 {
		if s.catalog != nil {
			if _, err := s.catalog.Problems(ctx, ids); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgs, err)
			}
		}
		return append([]string(nil), ids...), nil
	}
	problems, err := s.SampleProblems(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(problems))
	for _, p := range problems {
		out = append(out, p.ID)
	}
	return out, nil
}

// ratingFor prefers the stored rating over whatever the client claims.
func (s *Store) ratingFor(ctx context.Context, p domain.Player) int {
	prof, err := s.loadProfile(ctx, s.rdb, p.ID)
	if err == nil && prof != nil {
		return prof.Rating
	}
	if p.Rating > 0 {
		return p.Rating
	}
	return DefaultRating
}

func (s *Store) JoinMatch(ctx context.Context, matchID string, p domain.Player) (*domain.Match, error) {
	if strings.TrimSpace(p.ID) == "" || bot.IsBotID(p.ID) {
		return nil, domain.ErrInvalidArgs
	}
	rating := s.ratingFor(ctx, p)
	m, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		switch {
		case m.Player1ID == p.ID:
			return domain.ErrSelfJoin
		case m.Status == domain.MatchCancelled:
			return domain.ErrMatchNotFound
		case m.Status == domain.MatchFinished:
			return domain.ErrMatchFinished
		case m.Status != domain.MatchWaiting || m.Player2ID != "":
			return domain.ErrMatchFull
		}
		m.Player2ID = p.ID
		m.Player2Name = p.Name
		m.Player2Rating = rating
		m.Player2LastSeen = t.now
		m.Status = domain.MatchActive
		t.queue(func(pipe redis.Pipeliner) { pipe.ZRem(t.ctx, openKey, m.ID) })
		t.touch()
		return nil
	})
	if err != nil {
		obslog.L().Warn("duel_join_error", zap.String("match_id", matchID), zap.String("player_id", p.ID), zap.Error(err))
		return nil, err
	}
	if err := s.indexParticipants(ctx, m.ID, p.ID); err != nil {
		return nil, err
	}
	obslog.L().Info("duel_match_join", zap.String("match_id", m.ID), zap.String("player_id", p.ID))
	return m, nil
}

// CancelMatch withdraws a waiting match. Only its creator may cancel it.
func (s *Store) CancelMatch(ctx context.Context, matchID, playerID string) error {
	m, changed, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		if m.Player1ID != playerID {
			return domain.ErrNotParticipant
		}
		switch m.Status {
		case domain.MatchCancelled:
			return nil
		case domain.MatchWaiting:
		default:
			return domain.ErrInvalidState
		}
		m.Status = domain.MatchCancelled
		m.EndReason = "cancelled"
		t.queue(func(pipe redis.Pipeliner) { pipe.ZRem(t.ctx, openKey, m.ID) })
		t.touch()
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		obslog.L().Info("duel_match_cancel", zap.String("match_id", matchID), zap.String("player_id", playerID))
		s.afterCommit(ctx, m)
	}
	return nil
}

// ConvertToBot seats a bot as the second player of a waiting match.
func (s *Store) ConvertToBot(ctx context.Context, matchID, botID, botName string, botRating int) (*domain.Match, error) {
	if !bot.IsBotID(botID) || strings.TrimSpace(botName) == "" {
		return nil, domain.ErrInvalidArgs
	}
	if botRating <= 0 {
		botRating = DefaultRating
	}
	m, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		switch {
		case m.Status == domain.MatchCancelled:
			return domain.ErrInvalidState
		case m.Status == domain.MatchFinished:
			return domain.ErrMatchFinished
		case m.Status != domain.MatchWaiting || m.Player2ID != "":
			return domain.ErrMatchFull
		}
		m.Mode = domain.ModeBot
		m.Status = domain.MatchActive
		m.Player2ID = botID
		m.Player2Name = botName
		m.Player2Rating = botRating
		m.Player2LastSeen = t.now
		t.queue(func(pipe redis.Pipeliner) { pipe.ZRem(t.ctx, openKey, m.ID) })
		t.touch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_match_bot",
		zap.String("match_id", m.ID),
		zap.String("bot_id", botID),
		zap.Int("bot_rating", botRating),
	)
	return m, nil
}

func sortNewestFirst(ms []*domain.Match) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].UpdatedAt.After(ms[j].UpdatedAt) })
}
