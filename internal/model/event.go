package model

import "time"

type PoolEventType string

const (
	EventPoolCreated   PoolEventType = "pool.created"
	EventPoolJoined    PoolEventType = "pool.joined"
	EventPoolLeft      PoolEventType = "pool.left"
	EventPoolCompleted PoolEventType = "pool.completed"
	EventPoolExpired   PoolEventType = "pool.expired"
)

// PoolEvent is published after a pool transition commits.
type PoolEvent struct {
	Type      PoolEventType `json:"type"`
	PoolID    string        `json:"pool_id"`
	UserID    string        `json:"user_id,omitempty"`
	ActorName string        `json:"actor_name,omitempty"`
	At        time.Time     `json:"at"`
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{&User{}, &Pool{}, &PoolMember{}, &ChatMessage{}}
}
