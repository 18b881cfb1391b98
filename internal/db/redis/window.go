package redis

import (
	"context"
	"strconv"

	"github.com/atriumhq/omnisearch/internal/db"
)

// WindowAdd inserts a timestamped member into the sorted set at key.
func (s *Store) WindowAdd(ctx context.Context, key, member string, score float64) error {
	cmd := s.b().Zadd().Key(key).ScoreMember().ScoreMember(score, member).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpZAdd, Err: err}
	}
	return nil
}

// WindowCount returns the number of members currently in the window.
func (s *Store) WindowCount(ctx context.Context, key string) (int64, error) {
	cmd := s.b().Zcard().Key(key).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpZCard, Err: err}
	}
	return n, nil
}

// WindowPrune removes members with score <= maxScore (entries older than the window).
func (s *Store) WindowPrune(ctx context.Context, key string, maxScore float64) error {
	max := strconv.FormatFloat(maxScore, 'f', -1, 64)
	cmd := s.b().Zremrangebyscore().Key(key).Min("-inf").Max(max).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpZRemRange, Err: err}
	}
	return nil
}

// WindowOldest returns the lowest-scored member, or nil when the window is empty.
func (s *Store) WindowOldest(ctx context.Context, key string) (*db.WindowEntry, error) {
	cmd := s.b().Zrange().Key(key).Min("0").Max("0").Withscores().Build()
	scores, err := s.do(ctx, cmd).AsZScores()
	if err != nil {
		return nil, &db.Error{Op: db.OpZRange, Err: err}
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return &db.WindowEntry{Member: scores[0].Member, Score: scores[0].Score}, nil
}
