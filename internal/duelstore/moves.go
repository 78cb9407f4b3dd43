package duelstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
)

// End reasons recorded by the store.
const (
	ReasonCompleted = "completed"
	ReasonSurrender = "surrender"
	ReasonTimeout   = "timeout"
)

// SubmitMove records one answer. Moves are keyed by (player, question index):
// resending a recorded index is acknowledged as a duplicate without changing
// the row, and indexes may arrive out of order. The match is finalized as soon
// as both players answered every question.
func (s *Store) SubmitMove(ctx context.Context, matchID, playerID string, correct bool, index int) (*domain.MoveAck, error) {
	var ack domain.MoveAck
	m, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		side := sideOf(m, playerID)
		if side == 0 {
			return domain.ErrNotParticipant
		}
		switch m.Status {
		case domain.MatchActive:
		case domain.MatchFinished, domain.MatchCancelled:
			return domain.ErrMatchFinished
		default:
			return domain.ErrInvalidState
		}
		if index < 0 || index >= len(m.ProblemIDs) {
			return fmt.Errorf("question %d of %d: %w", index, len(m.ProblemIDs), domain.ErrInvalidMove)
		}
		field := playerID + ":" + strconv.Itoa(index)
		seen, err := t.tx.HExists(t.ctx, movesKey(m.ID), field).Result()
		if err != nil {
			return err
		}
		score, progress := m.Player1Score, m.Player1Progress
		if side == 2 {
			score, progress = m.Player2Score, m.Player2Progress
		}
		if seen {
			ack = domain.MoveAck{MatchID: m.ID, PlayerID: playerID, Score: score, Progress: progress, Status: m.Status, Duplicate: true, Version: m.Version}
			return nil
		}
		if correct {
			score++
		}
		if index+1 > progress {
			progress = index + 1
		}
		if side == 1 {
			m.Player1Score, m.Player1Progress = score, progress
			m.Player1LastSeen = t.now
		} else {
			m.Player2Score, m.Player2Progress = score, progress
			m.Player2LastSeen = t.now
		}
		val := "0"
		if correct {
			val = "1"
		}
		t.queue(func(p redis.Pipeliner) {
			p.HSet(t.ctx, movesKey(m.ID), field, val)
			p.Expire(t.ctx, movesKey(m.ID), ttlMatch)
		})
		t.touch()
		if m.Done() {
			if err := s.finalize(t, m, winnerByScore(m), ReasonCompleted); err != nil {
				return err
			}
		}
		ack = domain.MoveAck{MatchID: m.ID, PlayerID: playerID, Score: score, Progress: progress, Status: m.Status, Version: m.Version + 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ack.Duplicate {
		obslog.L().Debug("duel_move_duplicate", zap.String("match_id", matchID), zap.String("player_id", playerID), zap.Int("index", index))
		return &ack, nil
	}
	obslog.L().Info("duel_move",
		zap.String("match_id", matchID),
		zap.String("player_id", playerID),
		zap.Int("index", index),
		zap.Bool("correct", correct),
		zap.Int("score", ack.Score),
		zap.Int("progress", ack.Progress),
	)
	s.afterCommit(ctx, m)
	return &ack, nil
}

// FinishMatch is sent by a player who answered every question. The match is
// finalized once both sides are done; otherwise the current row is returned.
func (s *Store) FinishMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error) {
	m, changed, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		if sideOf(m, playerID) == 0 {
			return domain.ErrNotParticipant
		}
		if m.Status != domain.MatchActive || !m.Done() {
			return nil
		}
		t.touch()
		return s.finalize(t, m, winnerByScore(m), ReasonCompleted)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterCommit(ctx, m)
	}
	return m, nil
}

func (s *Store) SurrenderMatch(ctx context.Context, matchID, playerID string) (*domain.Match, error) {
	m, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		if sideOf(m, playerID) == 0 {
			return domain.ErrNotParticipant
		}
		switch m.Status {
		case domain.MatchActive:
		case domain.MatchFinished, domain.MatchCancelled:
			return domain.ErrMatchFinished
		default:
			return domain.ErrInvalidState
		}
		t.touch()
		return s.finalize(t, m, m.OpponentOf(playerID), ReasonSurrender)
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_surrender", zap.String("match_id", matchID), zap.String("player_id", playerID), zap.String("winner_id", m.WinnerID))
	s.afterCommit(ctx, m)
	return m, nil
}

// ClaimTimeoutWin awards the match to claimantID when the opponent has been
// silent for longer than the stale window.
func (s *Store) ClaimTimeoutWin(ctx context.Context, matchID, claimantID string) (*domain.Match, error) {
	m, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		_, opp, ok := m.Side(claimantID)
		if !ok {
			return domain.ErrNotParticipant
		}
		switch m.Status {
		case domain.MatchActive:
		case domain.MatchFinished, domain.MatchCancelled:
			return domain.ErrMatchFinished
		default:
			return domain.ErrInvalidState
		}
		if bot.IsBotID(opp.ID) {
			return domain.ErrInvalidState
		}
		if t.now.Sub(opp.LastSeen) <= s.staleAfter {
			return domain.ErrOpponentAlive
		}
		t.touch()
		return s.finalize(t, m, claimantID, ReasonTimeout)
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_timeout_win", zap.String("match_id", matchID), zap.String("winner_id", claimantID))
	s.afterCommit(ctx, m)
	return m, nil
}

// Heartbeat refreshes the player's last-seen time.
func (s *Store) Heartbeat(ctx context.Context, matchID, playerID string) error {
	_, _, err := s.update(ctx, matchID, func(t *txn, m *domain.Match) error {
		switch sideOf(m, playerID) {
		case 0:
			return domain.ErrNotParticipant
		case 1:
			m.Player1LastSeen = t.now
		case 2:
			m.Player2LastSeen = t.now
		}
		if m.Status == domain.MatchFinished || m.Status == domain.MatchCancelled {
			return domain.ErrMatchFinished
		}
		t.touch()
		return nil
	})
	return err
}

// sideOf returns 1 or 2 for participants and 0 otherwise.
func sideOf(m *domain.Match, playerID string) int {
	switch {
	case playerID == "":
		return 0
	case playerID == m.Player1ID:
		return 1
	case playerID == m.Player2ID:
		return 2
	}
	return 0
}

// winnerByScore returns the id of the higher scorer, "" on a tie.
func winnerByScore(m *domain.Match) string {
	switch {
	case m.Player1Score > m.Player2Score:
		return m.Player1ID
	case m.Player2Score > m.Player1Score:
		return m.Player2ID
	}
	return ""
}
