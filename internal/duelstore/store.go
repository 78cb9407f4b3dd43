// Package duelstore is the reference duel authority: match rows, moves,
// results and ratings in redis, with an optional Postgres results archive.
package duelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/bot"
	"github.com/park285/mathlab-pvp/internal/catalog"
	"github.com/park285/mathlab-pvp/internal/clock"
	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

const (
	ttlMatch     = 24 * time.Hour
	maxTxRetries = 8
)

// FinishHook runs after a match reached a terminal state.
type FinishHook func(ctx context.Context, m domain.Match)

type Option func(*Store)

func WithClock(c clock.Clock) Option { return func(s *Store) { s.clk = c } }

func WithRand(r *rand.Rand) Option { return func(s *Store) { s.rng = r } }

// WithMatchSize sets how many problems CreateMatch samples when none are given.
func WithMatchSize(n int) Option { return func(s *Store) { s.matchSize = n } }

// WithStaleAfter sets how long a player may stay silent before the opponent
// can claim the match.
func WithStaleAfter(d time.Duration) Option { return func(s *Store) { s.staleAfter = d } }

type Store struct {
	rdb     *redis.Client
	catalog catalog.Source
	repo    *Repository

	clk        clock.Clock
	matchSize  int
	staleAfter time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	hookMu sync.RWMutex
	hooks  []FinishHook
}

func New(rdb *redis.Client, src catalog.Source, opts ...Option) *Store {
	s := &Store{
		rdb:        rdb,
		catalog:    src,
		clk:        clock.Real(),
		matchSize:  10,
		staleAfter: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Open connects to redisURL and returns a store on top of it.
func Open(redisURL string, src catalog.Source, opts ...Option) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for duel store")
	}
	ropts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, src, opts...), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Redis exposes the client for components sharing the connection.
func (s *Store) Redis() *redis.Client { return s.rdb }

// AttachRepository wires a database repository for archiving results.
func (s *Store) AttachRepository(r *Repository) {
	if s != nil {
		s.repo = r
	}
}

// OnFinish registers a hook for terminal matches.
func (s *Store) OnFinish(h FinishHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

func (s *Store) SampleProblems(ctx context.Context, n int) ([]domain.Problem, error) {
	if s.catalog == nil {
		return nil, errors.New("duel store has no catalog")
	}
	s.rngMu.Lock()
	seed := s.rng.Int63()
	s.rngMu.Unlock()
	return s.catalog.Sample(ctx, n, rand.New(rand.NewSource(seed)))
}

func (s *Store) FetchProblems(ctx context.Context, ids []string) ([]domain.Problem, error) {
	if s.catalog == nil {
		return nil, errors.New("duel store has no catalog")
	}
	return s.catalog.Problems(ctx, ids)
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	m, err := s.load(ctx, s.rdb, matchID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// txn collects the writes of one optimistic transaction.
type txn struct {
	ctx   context.Context
	tx    *redis.Tx
	now   time.Time
	ops   []func(redis.Pipeliner)
	dirty bool
}

func (t *txn) queue(op func(redis.Pipeliner)) { t.ops = append(t.ops, op) }

// touch marks the row as changed so it is rewritten with a new version.
func (t *txn) touch() { t.dirty = true }

type mutation func(t *txn, m *domain.Match) error

// update runs fn against the current row inside a WATCH transaction and
// retries on conflicts. Profile keys of human participants are watched too,
// so finalization never loses a concurrent rating update.
func (s *Store) update(ctx context.Context, matchID string, fn mutation) (*domain.Match, bool, error) {
	key := matchKey(matchID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		cur, err := s.load(ctx, s.rdb, matchID)
		if err != nil {
			return nil, false, err
		}
		keys := []string{key, movesKey(matchID)}
		for _, id := range []string{cur.Player1ID, cur.Player2ID} {
			if id != "" && !bot.IsBotID(id) {
				keys = append(keys, profileKey(id))
			}
		}

		var (
			out   *domain.Match
			dirty bool
		)
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			m, err := s.load(ctx, tx, matchID)
			if err != nil {
				return err
			}
			if m.Player1ID != cur.Player1ID || m.Player2ID != cur.Player2ID {
				// participants changed since the keys were chosen
				return redis.TxFailedErr
			}
			t := &txn{ctx: ctx, tx: tx, now: s.clk.Now()}
			if err := fn(t, m); err != nil {
				return err
			}
			if t.dirty {
				m.Version++
				m.UpdatedAt = t.now
				raw, err := json.Marshal(dueldto.FromMatch(m))
				if err != nil {
					return err
				}
				t.queue(func(p redis.Pipeliner) { p.Set(ctx, key, raw, ttlMatch) })
			}
			if len(t.ops) > 0 {
				if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					for _, op := range t.ops {
						op(p)
					}
					return nil
				}); err != nil {
					return err
				}
			}
			out, dirty = m, t.dirty
			return nil
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if dirty {
			s.publish(ctx, out)
		}
		return out, dirty, nil
	}
	return nil, false, fmt.Errorf("match %s: too many concurrent updates", matchID)
}

// insert writes a brand new row.
func (s *Store) insert(ctx context.Context, m *domain.Match) error {
	raw, err := json.Marshal(dueldto.FromMatch(m))
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, matchKey(m.ID), raw, ttlMatch).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("match id collision: %s", m.ID)
	}
	if err := s.indexParticipants(ctx, m.ID, m.Player1ID, m.Player2ID); err != nil {
		return err
	}
	s.publish(ctx, m)
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, c getter, matchID string) (*domain.Match, error) {
	if strings.TrimSpace(matchID) == "" {
		return nil, domain.ErrMatchNotFound
	}
	raw, err := c.Get(ctx, matchKey(matchID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	var row dueldto.Match
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	return row.ToDomain(), nil
}

func (s *Store) indexParticipants(ctx context.Context, matchID string, ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" || bot.IsBotID(id) {
			continue
		}
		key := idxUserKey(id)
		if err := s.rdb.SAdd(ctx, key, matchID).Err(); err != nil {
			return err
		}
		_ = s.rdb.Expire(ctx, key, ttlMatch).Err()
	}
	return nil
}

// MatchesByPlayer returns the player's matches from the last day, newest first.
func (s *Store) MatchesByPlayer(ctx context.Context, playerID string) ([]*domain.Match, error) {
	ids, err := s.rdb.SMembers(ctx, idxUserKey(playerID)).Result()
	if err != nil {
		return nil, err
	}
	var out []*domain.Match
	for _, id := range ids {
		m, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, domain.ErrMatchNotFound) {
			_ = s.rdb.SRem(ctx, idxUserKey(playerID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out, nil
}

// afterCommit archives and announces a match that just became terminal.
func (s *Store) afterCommit(ctx context.Context, m *domain.Match) {
	if m == nil || (m.Status != domain.MatchFinished && m.Status != domain.MatchCancelled) {
		return
	}
	if m.Status == domain.MatchFinished {
		_ = s.persistIfFinal(ctx, m)
	}
	s.hookMu.RLock()
	hooks := append([]FinishHook(nil), s.hooks...)
	s.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, *m)
	}
}

// persistIfFinal saves the final result to the repository if available.
func (s *Store) persistIfFinal(ctx context.Context, m *domain.Match) error {
	if s.repo == nil || m == nil || m.Status != domain.MatchFinished {
		return nil
	}
	if err := s.repo.SaveResult(ctx, m); err != nil {
		obslog.L().Error("duel_result_persist_error", zap.String("match_id", m.ID), zap.Error(err))
		return err
	}
	obslog.L().Info("duel_result_persist", zap.String("match_id", m.ID), zap.String("reason", m.EndReason))
	return nil
}

func matchKey(id string) string       { return "duel:match:" + strings.TrimSpace(id) }
func movesKey(id string) string       { return "duel:moves:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "duel:index:user:" + strings.TrimSpace(userID) }
func profileKey(userID string) string { return "duel:profile:" + strings.TrimSpace(userID) }
func feedChannel(id string) string    { return "duel:feed:" + strings.TrimSpace(id) }

const (
	openKey        = "duel:open"
	leaderboardKey = "duel:leaderboard"
)

// ParseRedisURL turns redis://[:password@]host:port[/db] into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
