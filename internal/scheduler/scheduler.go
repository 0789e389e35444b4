// Package scheduler runs the periodic pool expiry sweep and chat retention
// purge on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/poolify/poolify/config"
	"github.com/poolify/poolify/internal/pkg/clock"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

const (
	JobExpiry = "expiry"
	JobPurge  = "purge"

	jobTimeout = 5 * time.Minute
)

type Options struct {
	ExpirySpec  string
	PurgeSpec   string
	ExpireBatch int
	Retention   time.Duration
	PurgeBatch  int
	// MaxBatches caps how many batches one run may process.
	MaxBatches int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ExpirySpec:  cfg.Scheduler.ExpirySpec,
		PurgeSpec:   cfg.Scheduler.PurgeSpec,
		ExpireBatch: cfg.Pool.ExpireBatch,
		Retention:   cfg.Chat.Retention,
		PurgeBatch:  cfg.Chat.PurgeBatch,
		MaxBatches:  cfg.Scheduler.MaxPurgeBatches,
	}
}

// JobStatus is the outcome of the most recent run of a job.
type JobStatus struct {
	LastRun time.Time
	Items   int
	Err     error
}

type Scheduler struct {
	cron    *cron.Cron
	pools   service.IPoolService
	chat    service.IChatService
	clock   clock.Clock
	opts    Options
	metrics *metrics.Metrics
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
	status  map[string]JobStatus
}

func New(
	pools service.IPoolService,
	chat service.IChatService,
	clk clock.Clock,
	opts Options,
	m *metrics.Metrics,
	log *logger.Logger,
) (*Scheduler, error) {
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = 1
	}
	log = log.Named("scheduler")
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		pools:   pools,
		chat:    chat,
		clock:   clk,
		opts:    opts,
		metrics: m,
		logger:  log,
		status:  make(map[string]JobStatus),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(opts.ExpirySpec, s.job(s.RunExpiry)); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", opts.ExpirySpec, err)
	}
	if _, err := s.cron.AddFunc(opts.PurgeSpec, s.job(s.RunPurge)); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", opts.PurgeSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("expiry", s.opts.ExpirySpec),
		zap.String("purge", s.opts.PurgeSpec))
}

// Stop prevents new runs and waits for running ones, cancelling them when
// ctx ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) Status(job string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[job]
	return st, ok
}

// Healthy reports whether the scheduler runs and its last runs succeeded.
func (s *Scheduler) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return false
	}
	for _, st := range s.status {
		if st.Err != nil {
			return false
		}
	}
	return true
}

func (s *Scheduler) job(run func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		_, _ = run(ctx)
	}
}

// RunExpiry expires every pool past its deadline, batch by batch.
func (s *Scheduler) RunExpiry(ctx context.Context) (int, error) {
	return s.run(ctx, JobExpiry, func(ctx context.Context) (int, error) {
		now := s.clock.Now()
		total := 0
		for range s.opts.MaxBatches {
			n, err := s.pools.ExpireDuePools(ctx, now)
			total += n
			if err != nil {
				return total, err
			}
			if s.opts.ExpireBatch <= 0 || n < s.opts.ExpireBatch {
				break
			}
		}
		return total, nil
	})
}

// RunPurge deletes chat messages older than the retention window until a
// batch comes back empty.
func (s *Scheduler) RunPurge(ctx context.Context) (int, error) {
	return s.run(ctx, JobPurge, func(ctx context.Context) (int, error) {
		total := 0
		for range s.opts.MaxBatches {
			n, err := s.chat.PurgeOlderThan(ctx, s.opts.Retention, s.opts.PurgeBatch)
			total += n
			if err != nil {
				return total, err
			}
			if n == 0 {
				break
			}
		}
		return total, nil
	})
}

func (s *Scheduler) run(ctx context.Context, job string, fn func(context.Context) (int, error)) (int, error) {
	start := time.Now()
	n, err := fn(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.status[job] = JobStatus{LastRun: s.clock.Now(), Items: n, Err: err}
	s.mu.Unlock()
	s.metrics.ObserveJob(job, elapsed.Seconds(), n, err)

	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job failed", zap.String("job", job), zap.Int("items", n), zap.Error(err))
		return n, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "scheduled job finished", zap.String("job", job), zap.Int("items", n), zap.Duration("took", elapsed))
	}
	return n, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
