package duelstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

const (
	DefaultRating = 1000
	// CalibrationMatches is the length of the provisional series during
	// which ratings move twice as fast.
	CalibrationMatches = 5

	kFactor            = 32
	kFactorCalibration = 64
	minRating          = 100
)

func expectedScore(self, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-self)/400))
}

// ratingDelta is the Elo change for one result; score is 1, 0.5 or 0.
func ratingDelta(p *domain.Profile, oppRating int, score float64) int {
	k := float64(kFactor)
	if !p.Calibrated(CalibrationMatches) {
		k = kFactorCalibration
	}
	d := int(math.Round(k * (score - expectedScore(p.Rating, oppRating))))
	if p.Rating+d < minRating {
		d = minRating - p.Rating
	}
	return d
}

// applyResult updates p in place and returns the rating delta.
func applyResult(p *domain.Profile, oppRating int, score float64) int {
	d := ratingDelta(p, oppRating, score)
	p.Rating += d
	p.MatchesPlayed++
	switch score {
	case 1:
		p.Wins++
	case 0:
		p.Losses++
	default:
		p.Draws++
	}
	return d
}

// finalize closes m inside t: result fields, rating deltas for human
// players and their profile and leaderboard writes.
func (s *Store) finalize(t *txn, m *domain.Match, winnerID, reason string) error {
	m.Status = domain.MatchFinished
	m.WinnerID = winnerID
	m.EndReason = reason
	t.queue(func(p redis.Pipeliner) { p.ZRem(t.ctx, openKey, m.ID) })

	type seat struct {
		id, name  string
		oppRating int
		delta     *int
	}
	seats := []seat{
		{m.Player1ID, m.Player1Name, m.Player2Rating, &m.Player1Delta},
		{m.Player2ID, m.Player2Name, m.Player1Rating, &m.Player2Delta},
	}
	for _, st := range seats {
		if st.id == "" || bot.IsBotID(st.id) {
			continue
		}
		prof, err := s.loadProfile(t.ctx, t.tx, st.id)
		if err != nil {
			return err
		}
		if prof == nil {
			prof = &domain.Profile{PlayerID: st.id, Rating: DefaultRating}
		}
		if st.name != "" {
			prof.Name = st.name
		}
		score := 0.5
		switch winnerID {
		case st.id:
			score = 1
		case "":
		default:
			score = 0
		}
		*st.delta = applyResult(prof, st.oppRating, score)
		prof.UpdatedAt = t.now
		raw, err := json.Marshal(dueldto.FromProfile(prof))
		if err != nil {
			return err
		}
		id, rating := prof.PlayerID, prof.Rating
		t.queue(func(p redis.Pipeliner) {
			p.Set(t.ctx, profileKey(id), raw, 0)
			p.ZAdd(t.ctx, leaderboardKey, redis.Z{Score: float64(rating), Member: id})
		})
	}
	obslog.L().Info("duel_finalize",
		zap.String("match_id", m.ID),
		zap.String("winner_id", winnerID),
		zap.String("reason", reason),
		zap.Int("player1_score", m.Player1Score),
		zap.Int("player2_score", m.Player2Score),
		zap.Int("player1_delta", m.Player1Delta),
		zap.Int("player2_delta", m.Player2Delta),
	)
	return nil
}

func (s *Store) loadProfile(ctx context.Context, c getter, playerID string) (*domain.Profile, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, nil
	}
	raw, err := c.Get(ctx, profileKey(playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p dueldto.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p.ToDomain(), nil
}

// Profile returns the player's rating record; unknown players get a fresh
// provisional profile.
func (s *Store) Profile(ctx context.Context, playerID string) (*domain.Profile, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, domain.ErrInvalidArgs
	}
	p, err := s.loadProfile(ctx, s.rdb, playerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &domain.Profile{PlayerID: playerID, Rating: DefaultRating}
	}
	return p, nil
}

// Leaderboard lists the top rated players, best first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		e := domain.LeaderboardEntry{Rank: i + 1, PlayerID: id, Rating: int(z.Score)}
		if p, err := s.loadProfile(ctx, s.rdb, id); err == nil && p != nil {
			e.Name = p.Name
		}
		out = append(out, e)
	}
	return out, nil
}
