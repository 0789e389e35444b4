package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/poolify/poolify/internal/api"
	"github.com/poolify/poolify/internal/event"
	"github.com/poolify/poolify/internal/handler"
	grpcserver "github.com/poolify/poolify/internal/pkg/grpc"
	"github.com/poolify/poolify/internal/pkg/kafka"
	redisclient "github.com/poolify/poolify/internal/pkg/redis"
	"github.com/poolify/poolify/internal/scheduler"
	"github.com/poolify/poolify/internal/service"
	"github.com/poolify/poolify/internal/storage"
	"github.com/poolify/poolify/middleware/jwt"
	"github.com/poolify/poolify/utils/ratelimit"
	"github.com/poolify/poolify/utils/snowflake"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler, health server and event consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	cfg, log := a.cfg, a.log

	if migrate {
		if err := storage.Migrate(a.db); err != nil {
			return err
		}
	}

	rc, err := redisclient.NewClient(&cfg.Redis, cfg.Presence.TTL)
	if err != nil {
		return err
	}
	a.onClose(rc.Close)

	ids, err := snowflake.NewGenerator(cfg.Snowflake, a.clock)
	if err != nil {
		return fmt.Errorf("failed to init id generator: %w", err)
	}

	workers := a.newWorkers()
	chat := a.chatService(ids, rc)
	announcer := event.NewAnnouncer(chat, a.metrics, log)

	var (
		publisher service.EventPublisher
		producer  *kafka.Producer
		consumer  *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		producer, consumer, err = a.newKafka(announcer)
		if err != nil {
			log.Warn("kafka unavailable, announcing events inline", zap.Error(err))
		} else {
			publisher = event.NewKafkaPublisher(producer, cfg.Kafka.Topics.PoolEvents, a.metrics)
		}
	}
	if publisher == nil {
		publisher = event.NewInlinePublisher(workers, announcer, a.metrics)
	}

	pools := a.poolService(rc, publisher)
	query := service.NewQueryService(a.store, pools, chat, a.clock, cfg.Pool.PageSize)
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)
	auth := service.NewAuthService(a.store.Users, tokens, a.clock)

	sched, err := scheduler.New(pools, chat, a.clock, scheduler.OptionsFromConfig(cfg), a.metrics, log)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewWindowLimiter(rc.GetClient(), log.Logger, a.clock, cfg.RateLimit.FailOpen)
	}
	mw := api.NewMiddlewareManager(auth, rc, limiter, ratelimit.RulesFromConfig(&cfg.RateLimit), a.metrics, log)

	checks := map[string]func(context.Context) error{
		"database": func(ctx context.Context) error { return storage.Ping(ctx, a.db) },
		"redis":    rc.Ping,
	}
	if cfg.Scheduler.Enabled {
		checks["scheduler"] = func(context.Context) error {
			if !sched.Healthy() {
				return errors.New("scheduler is not healthy")
			}
			return nil
		}
	}
	httpChecks := make(map[string]api.HealthCheck, len(checks))
	probes := make(map[string]grpcserver.Probe, len(checks))
	for name, fn := range checks {
		httpChecks[name] = fn
		probes[name] = fn
	}

	router, err := api.NewRouter(mw, api.Handlers{
		Auth: handler.NewAuthHandler(auth, log),
		Pool: handler.NewPoolHandler(pools, query, log),
		Chat: handler.NewChatHandler(chat, log),
		User: handler.NewUserHandler(service.NewUserService(a.store.Users, a.clock), service.NewStatsService(a.store), query, log),
	}, api.Options{
		Mode:          cfg.Server.Mode,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Checks:        httpChecks,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var health *grpcserver.Server
	if cfg.GRPC.Enabled {
		health, err = grpcserver.NewServer(cfg.GRPC.Address, probes, cfg.GRPC.ProbeInterval, log)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if health != nil {
		g.Go(health.Start)
	}
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		errs := []error{srv.Shutdown(sctx)}
		if health != nil {
			health.Stop()
		}
		errs = append(errs, sched.Stop(sctx))
		if consumer != nil {
			errs = append(errs, consumer.Stop())
		}
		errs = append(errs, workers.Stop(sctx))
		if producer != nil {
			errs = append(errs, producer.Close())
		}
		if err := errors.Join(errs...); err != nil {
			log.Warn("unclean shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// newKafka builds the event producer and the consumer that feeds announcer.
func (a *app) newKafka(announcer *event.Announcer) (*kafka.Producer, *kafka.Consumer, error) {
	cfg := &a.cfg.Kafka
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, nil, err
	}
	consumer, err := kafka.NewConsumer(cfg, []string{cfg.Topics.PoolEvents}, announcer.HandleMessage, a.log)
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	return producer, consumer, nil
}
