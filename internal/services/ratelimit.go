package services

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/logger"
)

// CounterStore is the atomic increment-and-expire primitive behind the rate
// and quota counters. Implementations must be safe for concurrent callers —
// the increment and the expiry set cannot be two racing round trips.
type CounterStore interface {
	// IncrWithWindow increments key and, if this created the key, starts its
	// expiry window. Returns the post-increment value.
	IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	// IncrByWithDeadline adds n to key with an absolute expiry deadline.
	IncrByWithDeadline(ctx context.Context, key string, n int64, deadline time.Time) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

type redisCounterStore struct {
	rdb *goredis.Client
}

func NewRedisCounterStore(addr string) (CounterStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisCounterStore{rdb: rdb}, nil
}

func (s *redisCounterStore) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *redisCounterStore) IncrByWithDeadline(ctx context.Context, key string, n int64, deadline time.Time) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.ExpireAt(ctx, key, deadline)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *redisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// RateLimitService guards the content-generation collaborator with a per
// (user, model) sliding request window and a per (user, model, month) token
// budget. Counters expire on their own; there is nothing to clean up.
type RateLimitService interface {
	AllowRequest(ctx context.Context, userID, model string) error
	TokenBudgetRemaining(ctx context.Context, userID, model string) (int64, error)
	AddTokenUsage(ctx context.Context, userID, model string, tokens int64) error
}

type rateLimitService struct {
	log    *logger.Logger
	store  CounterStore
	limits config.Limits
	now    func() time.Time
}

func NewRateLimitService(baseLog *logger.Logger, store CounterStore, limits config.Limits) RateLimitService {
	return &rateLimitService{
		log:    baseLog.With("service", "RateLimitService"),
		store:  store,
		limits: limits,
		now:    time.Now,
	}
}

func requestKey(userID, model string) string {
	return fmt.Sprintf("rl:%s:%s", userID, model)
}

func quotaKey(userID, model string, t time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s", userID, model, t.Format("2006-01"))
}

func monthEnd(t time.Time) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}

func (s *rateLimitService) AllowRequest(ctx context.Context, userID, model string) error {
	count, err := s.store.IncrWithWindow(ctx, requestKey(userID, model), s.limits.RequestWindow)
	if err != nil {
		return err
	}
	if count > s.limits.RequestsPerWindow {
		return &RateLimitError{RetryAfter: s.limits.RequestWindow}
	}
	return nil
}

func (s *rateLimitService) TokenBudgetRemaining(ctx context.Context, userID, model string) (int64, error) {
	used, err := s.store.Get(ctx, quotaKey(userID, model, s.now()))
	if err != nil {
		return 0, err
	}
	remaining := s.limits.MonthlyTokenQuota - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *rateLimitService) AddTokenUsage(ctx context.Context, userID, model string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	now := s.now()
	_, err := s.store.IncrByWithDeadline(ctx, quotaKey(userID, model, now), tokens, monthEnd(now))
	return err
}
