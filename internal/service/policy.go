package service

import (
	"github.com/poolify/poolify/config"
)

// SavingsPolicy controls the savings estimates credited on create and join.
type SavingsPolicy struct {
	PerSeat int
	PerJoin int
}

// OnCreate scales with capacity: a pool for more people saves more.
func (p SavingsPolicy) OnCreate(maxUsers int) int {
	return p.PerSeat * maxUsers
}

func (p SavingsPolicy) OnJoin() int {
	return p.PerJoin
}

// LeavePolicy decides how leave requests that cannot apply are answered.
type LeavePolicy string

const (
	// LeavePermissive treats a missing pool or a non-member as a no-op.
	LeavePermissive LeavePolicy = "permissive"
	// LeaveStrict reports them as errors.
	LeaveStrict LeavePolicy = "strict"
)

func (p LeavePolicy) missingPool() error {
	if p == LeaveStrict {
		return ErrPoolNotFound
	}
	return nil
}

func (p LeavePolicy) notMember() error {
	if p == LeaveStrict {
		return ErrNotMember
	}
	return nil
}

// PoolOptions are the tunables of the pool store.
type PoolOptions struct {
	DefaultTimeLimit int
	DefaultMaxUsers  int
	PageSize         int
	ExpireBatch      int
	Savings          SavingsPolicy
	Leave            LeavePolicy
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		DefaultTimeLimit: 20,
		DefaultMaxUsers:  4,
		PageSize:         20,
		ExpireBatch:      500,
		Savings:          SavingsPolicy{PerSeat: 30, PerJoin: 30},
		Leave:            LeavePermissive,
	}
}

func PoolOptionsFromConfig(cfg *config.PoolConfig) PoolOptions {
	opts := DefaultPoolOptions()
	if cfg.DefaultTimeLimit > 0 {
		opts.DefaultTimeLimit = cfg.DefaultTimeLimit
	}
	if cfg.DefaultMaxUsers > 0 {
		opts.DefaultMaxUsers = cfg.DefaultMaxUsers
	}
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	if cfg.ExpireBatch > 0 {
		opts.ExpireBatch = cfg.ExpireBatch
	}
	opts.Savings = SavingsPolicy{PerSeat: cfg.SavingsPerSeat, PerJoin: cfg.SavingsPerJoin}
	if cfg.LeavePolicy != "" {
		opts.Leave = LeavePolicy(cfg.LeavePolicy)
	}
	return opts
}

// ChatOptions are the tunables of the chat log.
type ChatOptions struct {
	PageSize int
}

func ChatOptionsFromConfig(cfg *config.ChatConfig) ChatOptions {
	opts := ChatOptions{PageSize: 50}
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	return opts
}
