package duelstore

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/obslog"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

func (s *Store) publish(ctx context.Context, m *domain.Match) {
	raw, err := json.Marshal(dueldto.FromMatch(m))
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, feedChannel(m.ID), raw).Err(); err != nil {
		obslog.L().Warn("duel_publish_error", zap.String("match_id", m.ID), zap.Error(err))
	}
}

// Subscribe streams every committed version of the match, starting with the
// current row. The channel closes when ctx ends. Consumers should drop rows
// whose version they have already seen.
func (s *Store) Subscribe(ctx context.Context, matchID string) (<-chan domain.Match, error) {
	sub := s.rdb.Subscribe(ctx, feedChannel(matchID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	cur, err := s.GetMatch(ctx, matchID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan domain.Match, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		select {
		case out <- *cur:
		case <-ctx.Done():
			return
		}
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var row dueldto.Match
				if err := json.Unmarshal([]byte(msg.Payload), &row); err != nil {
					obslog.L().Warn("duel_feed_decode_error", zap.String("match_id", matchID), zap.Error(err))
					continue
				}
				select {
				case out <- *row.ToDomain():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
