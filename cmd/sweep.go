package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/poolify/poolify/internal/event"
	"github.com/poolify/poolify/internal/scheduler"
	"github.com/poolify/poolify/internal/storage"
	"github.com/poolify/poolify/utils/snowflake"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var expire, purge bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the expiry and chat retention jobs once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.sweep(cmd.Context(), expire, purge)
		},
	}
	cmd.Flags().BoolVar(&expire, "expire", true, "expire pools past their deadline")
	cmd.Flags().BoolVar(&purge, "purge", true, "delete chat messages older than the retention window")
	return cmd
}

// sweep runs the scheduler jobs directly. Expiry announcements go through
// the worker pool, which is drained before returning.
func (a *app) sweep(ctx context.Context, expire, purge bool) error {
	ids, err := snowflake.NewGenerator(a.cfg.Snowflake, a.clock)
	if err != nil {
		return err
	}

	workers := a.newWorkers()
	chat := a.chatService(ids, nil)
	announcer := event.NewAnnouncer(chat, a.metrics, a.log)
	pools := a.poolService(nil, event.NewInlinePublisher(workers, announcer, a.metrics))

	sched, err := scheduler.New(pools, chat, a.clock, scheduler.OptionsFromConfig(a.cfg), a.metrics, a.log)
	if err != nil {
		return err
	}

	if expire {
		n, err := sched.RunExpiry(ctx)
		if err != nil {
			return err
		}
		a.log.Info("expired pools", zap.Int("count", n))
	}
	if purge {
		n, err := sched.RunPurge(ctx)
		if err != nil {
			return err
		}
		a.log.Info("purged chat messages", zap.Int("count", n))
	}

	drain, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return workers.Stop(drain)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := storage.Migrate(a.db); err != nil {
				return err
			}
			a.log.Info("schema migrated")
			return nil
		},
	}
}
