package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/pkg/clock"
)

// Limiter decides whether a caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
	AllowN(ctx context.Context, key string, n int, rule Rule) (bool, error)
	Remaining(ctx context.Context, key string, rule Rule) (int, error)
	Reset(ctx context.Context, key string, rule Rule) error
}

// Rule is a request budget per window. A non-positive Limit disables it.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Endpoint groups routes that share a budget.
type Endpoint string

const (
	EndpointRegister Endpoint = "register"
	EndpointLogin    Endpoint = "login"
	EndpointChat     Endpoint = "chat"
	EndpointPool     Endpoint = "pool"
	EndpointAPI      Endpoint = "api"
)

const defaultPerMinute = 100

// Rules maps each endpoint group to its budget.
type Rules map[Endpoint]Rule

func RulesFromConfig(cfg *config.RateLimitConfig) Rules {
	return Rules{
		EndpointRegister: {Limit: cfg.RegisterPerMinute, Window: time.Minute},
		EndpointLogin:    {Limit: cfg.LoginPerMinute, Window: time.Minute},
		EndpointChat:     {Limit: cfg.ChatPerMinute, Window: time.Minute},
		EndpointPool:     {Limit: cfg.PoolPerMinute, Window: time.Minute},
		EndpointAPI:      {Limit: cfg.APIPerMinute, Window: time.Minute},
	}
}

// For returns the rule of an endpoint, or 100 per minute when unknown.
func (r Rules) For(endpoint Endpoint) Rule {
	if rule, ok := r[endpoint]; ok {
		return rule
	}
	return Rule{Limit: defaultPerMinute, Window: time.Minute}
}

// WindowLimiter counts requests in fixed windows stored in Redis, so every
// replica shares one budget.
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	clock       clock.Clock
	failOpen    bool
}

func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, clk clock.Clock, failOpen bool) *WindowLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		clock:       clk,
		failOpen:    failOpen,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	return l.AllowN(ctx, key, 1, rule)
}

// AllowN consumes n units of the current window.
func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	bucketKey := l.bucketKey(key, rule.Window)

	pipe := l.redisClient.Pipeline()
	incr := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(rule.Limit) {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit))
		return false, nil
	}
	return true, nil
}

func (l *WindowLimiter) Remaining(ctx context.Context, key string, rule Rule) (int, error) {
	count, err := l.redisClient.Get(ctx, l.bucketKey(key, rule.Window)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rule.Limit, nil
		}
		return 0, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return max(rule.Limit-count, 0), nil
}

// Reset clears the current window for key.
func (l *WindowLimiter) Reset(ctx context.Context, key string, rule Rule) error {
	if err := l.redisClient.Del(ctx, l.bucketKey(key, rule.Window)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *WindowLimiter) bucketKey(key string, window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	bucket := l.clock.Now().UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}
