package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/pkg/clock"
)

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setupLimiter(t *testing.T, failOpen bool) (*WindowLimiter, *miniredis.Miniredis, *clock.Fake) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clk := clock.NewFake(start)
	return NewWindowLimiter(client, zap.NewNop(), clk, failOpen), mr, clk
}

func TestWindowLimiter_Allow(t *testing.T) {
	limiter, _, _ := setupLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 5, Window: time.Minute}

	for i := range rule.Limit {
		allowed, err := limiter.Allow(ctx, "user:1", rule)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
	allowed, err := limiter.Allow(ctx, "user:1", rule)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:2", rule)
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")
}

func TestWindowLimiter_AllowN(t *testing.T) {
	limiter, _, _ := setupLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 10, Window: time.Minute}

	for _, n := range []int{3, 5, 2} {
		allowed, err := limiter.AllowN(ctx, "k", n, rule)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.AllowN(ctx, "k", 1, rule)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWindowLimiter_WindowRollover(t *testing.T) {
	limiter, _, clk := setupLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 2, Window: time.Minute}

	for range 2 {
		_, err := limiter.Allow(ctx, "k", rule)
		require.NoError(t, err)
	}
	allowed, err := limiter.Allow(ctx, "k", rule)
	require.NoError(t, err)
	assert.False(t, allowed)

	clk.Advance(time.Minute)
	allowed, err = limiter.Allow(ctx, "k", rule)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowLimiter_RemainingAndReset(t *testing.T) {
	limiter, _, _ := setupLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 10, Window: time.Minute}

	remaining, err := limiter.Remaining(ctx, "k", rule)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)

	_, err = limiter.AllowN(ctx, "k", 12, rule)
	require.NoError(t, err)
	remaining, err = limiter.Remaining(ctx, "k", rule)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, limiter.Reset(ctx, "k", rule))
	remaining, err = limiter.Remaining(ctx, "k", rule)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestWindowLimiter_Disabled(t *testing.T) {
	limiter, mr, _ := setupLimiter(t, false)
	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "k", Rule{Limit: 0, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	limiter, _, _ := setupLimiter(t, false)
	ctx := context.Background()
	rule := Rule{Limit: 100, Window: time.Minute}

	var (
		allowedCount atomic.Int64
		wg           sync.WaitGroup
	)
	for range 50 {
		wg.Go(func() {
			for range 3 {
				ok, err := limiter.Allow(ctx, "k", rule)
				assert.NoError(t, err)
				if ok {
					allowedCount.Add(1)
				}
			}
		})
	}
	wg.Wait()
	assert.EqualValues(t, 100, allowedCount.Load())
}

func TestWindowLimiter_RedisDown(t *testing.T) {
	rule := Rule{Limit: 5, Window: time.Minute}

	t.Run("fail open", func(t *testing.T) {
		limiter, mr, _ := setupLimiter(t, true)
		mr.Close()
		allowed, err := limiter.Allow(context.Background(), "k", rule)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("fail closed", func(t *testing.T) {
		limiter, mr, _ := setupLimiter(t, false)
		mr.Close()
		allowed, err := limiter.Allow(context.Background(), "k", rule)
		assert.Error(t, err)
		assert.False(t, allowed)
	})
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(&config.RateLimitConfig{
		RegisterPerMinute: 5,
		LoginPerMinute:    10,
		ChatPerMinute:     60,
		PoolPerMinute:     30,
		APIPerMinute:      300,
	})

	tests := []struct {
		endpoint Endpoint
		limit    int
	}{
		{EndpointRegister, 5},
		{EndpointLogin, 10},
		{EndpointChat, 60},
		{EndpointPool, 30},
		{EndpointAPI, 300},
		{"unknown", 100},
	}
	for _, tt := range tests {
		t.Run(string(tt.endpoint), func(t *testing.T) {
			rule := rules.For(tt.endpoint)
			assert.Equal(t, tt.limit, rule.Limit)
			assert.Equal(t, time.Minute, rule.Window)
		})
	}
}
