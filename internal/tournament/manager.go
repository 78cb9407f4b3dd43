package tournament

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/clock"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
)

// DefaultMatchSize is the number of problems in a tournament duel.
const DefaultMatchSize = 5

// Matches starts already paired duels.
type Matches interface {
	CreatePairedMatch(ctx context.Context, tournamentID string, p1, p2 domain.Player, size int) (*domain.Match, error)
}

type Manager struct {
	store   *Store
	matches Matches
	clk     clock.Clock
	size    int
	names   func(ctx context.Context, playerID string) string
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clk = c } }

func WithMatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.size = n
		}
	}
}

// WithNames resolves display names for paired players.
func WithNames(fn func(ctx context.Context, playerID string) string) Option {
	return func(m *Manager) { m.names = fn }
}

func NewManager(rdb *redis.Client, matches Matches, opts ...Option) *Manager {
	m := &Manager{store: NewStore(rdb), matches: matches, clk: clock.Real(), size: DefaultMatchSize}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create seeds a bracket and starts its first-round duels.
func (m *Manager) Create(ctx context.Context, name string, participants []string) (*Bracket, error) {
	b, err := NewBracket(uuid.NewString(), name, participants, m.clk.Now())
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, b); err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_create",
		zap.String("tournament_id", b.ID),
		zap.String("name", b.Name),
		zap.Int("players", len(b.Participants)),
		zap.Int("rounds", b.Rounds),
	)
	return m.startPending(ctx, b)
}

func (m *Manager) Get(ctx context.Context, id string) (*Bracket, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidArgs
	}
	b, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

// HandleFinish records a finished tournament duel and starts the next round
// when the current one is complete. It is registered as a store finish hook.
func (m *Manager) HandleFinish(ctx context.Context, match domain.Match) {
	if match.TournamentID == "" || match.Status != domain.MatchFinished {
		return
	}
	var recorded bool
	b, err := m.store.Update(ctx, match.TournamentID, func(b *Bracket) (bool, error) {
		ok, err := b.Record(match.ID, match.WinnerID, m.clk.Now())
		if errors.Is(err, ErrUnknownMatch) {
			return false, nil
		}
		recorded = ok
		return ok, err
	})
	if err != nil {
		obslog.L().Error("tournament_record_error", zap.String("tournament_id", match.TournamentID), zap.String("match_id", match.ID), zap.Error(err))
		return
	}
	if !recorded {
		return
	}
	obslog.L().Info("tournament_record",
		zap.String("tournament_id", b.ID),
		zap.String("match_id", match.ID),
		zap.String("winner_id", match.WinnerID),
		zap.Int("round", b.Round),
	)
	if b.Finished() {
		obslog.L().Info("tournament_champion", zap.String("tournament_id", b.ID), zap.String("champion", b.Champion))
		return
	}
	if _, err := m.startPending(ctx, b); err != nil {
		obslog.L().Error("tournament_advance_error", zap.String("tournament_id", b.ID), zap.Error(err))
	}
}

// startPending creates a duel for every unassigned pairing of the current
// round. Each slot is claimed first so concurrent callers never double-book.
func (m *Manager) startPending(ctx context.Context, b *Bracket) (*Bracket, error) {
	for _, p := range b.Pending() {
		round, slot := p.Round, p.Slot
		ok, err := m.store.Claim(ctx, b.ID, round, slot)
		if err != nil {
			return b, err
		}
		if !ok {
			continue
		}
		dm, err := m.matches.CreatePairedMatch(ctx, b.ID, m.player(ctx, p.Player1), m.player(ctx, p.Player2), m.size)
		if err != nil {
			_ = m.store.Release(ctx, b.ID, round, slot)
			return b, err
		}
		b, err = m.store.Update(ctx, b.ID, func(cur *Bracket) (bool, error) {
			return cur.Round == round && cur.Assign(slot, dm.ID), nil
		})
		if err != nil {
			return nil, err
		}
		obslog.L().Info("tournament_pairing_start",
			zap.String("tournament_id", b.ID),
			zap.Int("round", round),
			zap.Int("slot", slot),
			zap.String("match_id", dm.ID),
		)
	}
	return b, nil
}

func (m *Manager) player(ctx context.Context, id string) domain.Player {
	p := domain.Player{ID: id, Name: id}
	if m.names != nil {
		if n := strings.TrimSpace(m.names(ctx, id)); n != "" {
			p.Name = n
		}
	}
	return p
}
