package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store groups the repositories that share one database handle. Inside
// Transaction every repository is bound to the same transaction.
type Store struct {
	db       *gorm.DB
	Pools    IPoolRepository
	Users    IUserRepository
	Messages IMessageRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Pools:    NewPoolRepository(db),
		Users:    NewUserRepository(db),
		Messages: NewMessageRepository(db),
	}
}

// Transaction runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// forUpdate adds SELECT ... FOR UPDATE where the dialect supports row locks.
// SQLite serializes writers on its own.
func forUpdate(db *gorm.DB, opts ...string) *gorm.DB {
	if db.Dialector.Name() != "postgres" {
		return db
	}
	locking := clause.Locking{Strength: clause.LockingStrengthUpdate}
	if len(opts) > 0 {
		locking.Options = opts[0]
	}
	return db.Clauses(locking)
}
