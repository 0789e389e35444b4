package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/poolify/poolify/config"
)

const defaultPresenceTTL = 5 * time.Minute

// RedisClient is the cache surface used by the pool and chat services.
type RedisClient interface {
	Close() error
	GetClient() *redis.Client
	Ping(ctx context.Context) error
	NextSeq(ctx context.Context, poolID string) (int64, error)
	Touch(ctx context.Context, userID string) error
	SetUserOnline(ctx context.Context, userID string, ttl time.Duration) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error)
	RemoveUserOnline(ctx context.Context, userID string) error
}

type Client struct {
	client      *redis.Client
	presenceTTL time.Duration
}

func NewClient(cfg *config.RedisConfig, presenceTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return Wrap(rdb, presenceTTL), nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, presenceTTL time.Duration) *Client {
	if presenceTTL <= 0 {
		presenceTTL = defaultPresenceTTL
	}
	return &Client{client: rdb, presenceTTL: presenceTTL}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func seqKey(poolID string) string {
	return fmt.Sprintf("pool:%s:chat_seq", poolID)
}

func onlineKey(userID string) string {
	return fmt.Sprintf("user:%s:online", userID)
}

// NextSeq returns the next chat sequence number of a pool, starting at 1.
func (c *Client) NextSeq(ctx context.Context, poolID string) (int64, error) {
	result, err := c.client.Incr(ctx, seqKey(poolID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to generate chat seq for pool %s: %w", poolID, err)
	}
	return result, nil
}

// Touch marks the user as seen for the configured presence TTL.
func (c *Client) Touch(ctx context.Context, userID string) error {
	return c.SetUserOnline(ctx, userID, c.presenceTTL)
}

func (c *Client) SetUserOnline(ctx context.Context, userID string, ttl time.Duration) error {
	err := c.client.Set(ctx, onlineKey(userID), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set user %s online: %w", userID, err)
	}
	return nil
}

func (c *Client) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	result, err := c.client.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if user %s is online: %w", userID, err)
	}
	return result > 0, nil
}

// OnlineUsers resolves presence for many users with a single MGET.
func (c *Client) OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}
	for i, v := range vals {
		out[userIDs[i]] = v != nil
	}
	return out, nil
}

func (c *Client) RemoveUserOnline(ctx context.Context, userID string) error {
	err := c.client.Del(ctx, onlineKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("failed to remove user %s online status: %w", userID, err)
	}
	return nil
}
