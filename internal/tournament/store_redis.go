package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ttlBracket = 72 * time.Hour
	ttlClaim   = time.Minute
)

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyBracket(id string) string { return "duel:tournament:" + strings.TrimSpace(id) }
func (s *Store) keyClaim(id string, round, slot int) string {
	return s.keyBracket(id) + ":claim:" + strconv.Itoa(round) + ":" + strconv.Itoa(slot)
}

func (s *Store) Create(ctx context.Context, b *Bracket) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyBracket(b.ID), raw, ttlBracket).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tournament %s already exists", b.ID)
	}
	return nil
}

// Load returns nil when the bracket is missing or expired.
func (s *Store) Load(ctx context.Context, id string) (*Bracket, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*Bracket, error) {
	raw, err := c.Get(ctx, s.keyBracket(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b Bracket
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Update applies fn to the stored bracket under WATCH and retries on
// concurrent writes. fn returning false leaves the bracket untouched.
func (s *Store) Update(ctx context.Context, id string, fn func(b *Bracket) (bool, error)) (*Bracket, error) {
	key := s.keyBracket(id)
	var out *Bracket
	for attempt := 0; attempt < 8; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			b, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if b == nil {
				return ErrNotFound
			}
			changed, err := fn(b)
			if err != nil {
				return err
			}
			out = b
			if !changed {
				return nil
			}
			raw, err := json.Marshal(b)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, raw, ttlBracket)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("tournament %s: too much contention", id)
}

// Claim reserves a pairing for duel creation so concurrent finish hooks
// start one duel per slot.
func (s *Store) Claim(ctx context.Context, id string, round, slot int) (bool, error) {
	return s.rdb.SetNX(ctx, s.keyClaim(id, round, slot), "1", ttlClaim).Result()
}

func (s *Store) Release(ctx context.Context, id string, round, slot int) error {
	return s.rdb.Del(ctx, s.keyClaim(id, round, slot)).Err()
}
