package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/storage"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRootCommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "sweep", "migrate"}, names)
}

func TestMigrateAndSweep(t *testing.T) {
	t.Setenv("POOLIFY_JWT_SECRET", "cli-secret")
	t.Setenv("POOLIFY_LOGGING_LEVEL", "error")
	dbPath := filepath.Join(t.TempDir(), "poolify.db")
	missing := filepath.Join(t.TempDir(), "none.toml")

	require.NoError(t, run(t, "--config", missing, "--sqlite", dbPath, "migrate"))

	db, err := storage.InitSQLite(dbPath)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, db.Create(&model.User{ID: "u1", Email: "a@campus.edu", PasswordHash: "x", Name: "Alice", CreatedAt: now, UpdatedAt: now}).Error)
	require.NoError(t, db.Create(&model.Pool{
		ID: "p1", Platform: model.PlatformZepto, Items: []string{"milk"},
		TimeLimit: 20, MaxUsers: 4, CreatedBy: "u1", MemberCount: 1,
		Status: model.PoolStatusActive, CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-40 * time.Minute), UpdatedAt: now,
	}).Error)
	require.NoError(t, storage.Close(db))

	require.NoError(t, run(t, "--config", missing, "--sqlite", dbPath, "sweep", "--purge=false"))

	db, err = storage.InitSQLite(dbPath)
	require.NoError(t, err)
	defer storage.Close(db)

	var pool model.Pool
	require.NoError(t, db.First(&pool, "id = ?", "p1").Error)
	assert.Equal(t, model.PoolStatusExpired, pool.Status)
	assert.NotNil(t, pool.ExpiredAt)

	var msgs []model.ChatMessage
	require.NoError(t, db.Where("pool_id = ?", "p1").Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageKindSystem, msgs[0].Kind)
	assert.Equal(t, model.SystemSenderID, msgs[0].SenderID)
}

func TestBootstrapRejectsMissingSecret(t *testing.T) {
	t.Setenv("POOLIFY_JWT_SECRET", "")
	err := run(t, "--config", filepath.Join(t.TempDir(), "none.toml"), "--sqlite", ":memory:", "migrate")
	assert.ErrorContains(t, err, "jwt.secret")
}
