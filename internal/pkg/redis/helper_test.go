package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	redis "github.com/redis/go-redis/v9"
)

// setupTestRedis returns a client backed by an in-process miniredis.
func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func genPoolID() gopter.Gen {
	return gen.Identifier()
}

func genUserID() gopter.Gen {
	return gen.Identifier()
}

// genTTL yields 1-60 second TTLs.
func genTTL() gopter.Gen {
	return gen.IntRange(1, 60).Map(func(seconds int) time.Duration {
		return time.Duration(seconds) * time.Second
	})
}
