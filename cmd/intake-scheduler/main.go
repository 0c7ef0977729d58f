// Command intake-scheduler runs one admission pass of the Intake Scheduler
// (spec.md §4.5), or loops on a ticker under --watch. Wiring mirrors
// etalazz-vsa's cmd/ratelimiter-api/main.go: build the store, build the
// component, run it, report the result.
//
// No orchestrator integration is wired here: both signals report
// orchestrator.CountUnknown, which the scheduler treats as saturated, so
// every pass returns SKIPPED without admitting items.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/config"
	"github.com/harperio/admitcore/internal/intake"
	"github.com/harperio/admitcore/internal/logging"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/params"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

var (
	configPath string
	workRoot   string
	watch      bool
	interval   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "intake-scheduler",
		Short: "Admit work items from retry/ and intake/ into processing/",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	root.Flags().StringVar(&workRoot, "work-root", "./work", "root directory holding the intake/retry/processing/dead-letter/working areas")
	root.Flags().BoolVar(&watch, "watch", false, "run continuously on a ticker instead of once")
	root.Flags().DurationVar(&interval, "interval", 30*time.Second, "ticker period when --watch is set")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{
		Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output,
		Filename: cfg.Log.Filename, MaxSize: cfg.Log.MaxSize, MaxBackups: cfg.Log.MaxBackups,
		MaxAge: cfg.Log.MaxAge, Compress: cfg.Log.Compress,
	})

	s, err := buildStore(cfg)
	if err != nil {
		return err
	}
	items := workitem.NewFSStore(workRoot)
	clk := clock.Real{}
	paramSource := params.NewViperSource(config.NewParamsViper(configPath), "")
	prov := params.New(paramSource, clk, cfg.Params.CacheTTL, log)

	sched := intake.New(s, items, orchestrator.Static{Workers: orchestrator.CountUnknown, Pipelines: orchestrator.CountUnknown}, clk, log)

	runOnce := func(ctx context.Context) {
		icfg := intake.Config{
			MaxInFlight:  prov.GetInt(ctx, params.IntakeMaxInFlight, params.DefaultIntakeMaxInFlight),
			MaxRunning:   prov.GetInt(ctx, params.IntakeMaxRunning, params.DefaultIntakeMaxRunning),
			BatchSize:    prov.GetInt(ctx, params.BatchSize, params.DefaultBatchSize),
			BatchSizeLow: prov.GetInt(ctx, params.BatchSizeLow, params.DefaultBatchSizeLow),
		}
		res, err := sched.Run(ctx, icfg)
		if err != nil {
			log.Error("intake run failed", "error", err)
			return
		}
		log.Info("intake run complete", "action", res.Action, "reason", res.Reason,
			"processed", res.FilesProcessed, "remaining", res.FilesRemaining)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !watch {
		runOnce(ctx)
		return nil
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			runOnce(ctx)
		case <-stop:
			log.Info("intake-scheduler: shutting down")
			return nil
		}
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		evaler := store.NewGoRedisEvaler(cfg.Store.RedisAddr)
		return store.NewRedisStore(evaler, cfg.Store.KeyPrefix), nil
	default:
		return store.NewMemStore(clock.Real{}), nil
	}
}
