package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/repository"
	"github.com/poolify/poolify/internal/service"
	"github.com/poolify/poolify/internal/storage"
	"github.com/poolify/poolify/internal/utils"
	logger "github.com/poolify/poolify/middleware/log"
)

// app holds what every subcommand needs: config, logger and the database.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	clock   clock.Clock
	db      *gorm.DB
	store   *repository.Store
	metrics *metrics.Metrics

	closers []func() error
}

func bootstrap(opts *rootOptions) (*app, error) {
	path := opts.configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		path = ""
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	var db *gorm.DB
	if opts.sqlitePath != "" {
		db, err = storage.InitSQLite(opts.sqlitePath)
	} else {
		db, err = storage.InitPostgres(&cfg.Postgres)
	}
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		clock:   clock.Real{},
		db:      db,
		store:   repository.NewStore(db),
		metrics: metrics.New(),
	}
	a.onClose(func() error { return storage.Close(db) })
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
	_ = a.log.Close()
}

// newWorkers starts the pool that runs inline event announcements.
func (a *app) newWorkers() *utils.WorkerPool {
	workers := utils.NewWorkerPool(a.cfg.Worker.Size, a.cfg.Worker.QueueSize, a.log)
	workers.Start()
	return workers
}

func (a *app) poolService(presence service.PresenceChecker, events service.EventPublisher) service.IPoolService {
	return service.NewPoolService(a.store, a.clock, presence, events, service.PoolOptionsFromConfig(&a.cfg.Pool), a.log)
}

func (a *app) chatService(ids service.IDGenerator, seqs service.SequenceGenerator) service.IChatService {
	return service.NewChatService(a.store, a.clock, ids, seqs, service.ChatOptionsFromConfig(&a.cfg.Chat), a.log)
}
