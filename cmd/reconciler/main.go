// Command reconciler runs one reconciliation pass of the in-flight counter
// (spec.md §4.7), or loops on a ticker under --watch.
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
	"github.com/harperio/admitcore/internal/logging"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/params"
	"github.com/harperio/admitcore/internal/reconciler"
	"github.com/harperio/admitcore/internal/registry"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/telemetry/metrics"
)

var (
	configPath  string
	watch       bool
	interval    time.Duration
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Reconcile the distributed in-flight counter against observed reality",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	root.Flags().BoolVar(&watch, "watch", false, "run continuously on a ticker instead of once")
	root.Flags().DurationVar(&interval, "interval", 5*time.Minute, "ticker period when --watch is set")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if non-empty, serve Prometheus /metrics on this address")

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

	if metricsAddr != "" {
		srv := metrics.ServeHTTP(metricsAddr)
		defer srv.Close()
	}

	s, err := buildStore(cfg)
	if err != nil {
		return err
	}
	clk := clock.Real{}
	reg := registry.New(s, clk, time.Hour, log)
	paramSource := params.NewViperSource(config.NewParamsViper(configPath), "")
	prov := params.New(paramSource, clk, cfg.Params.CacheTTL, log)
	rec := reconciler.New(s, reg, orchestrator.Static{Workers: orchestrator.CountUnknown, Pipelines: orchestrator.CountUnknown}, clk, metrics.NewReconciler(), log)

	runOnce := func(ctx context.Context) {
		rcfg := reconciler.Config{
			Enabled:        prov.GetBool(ctx, params.ReconcilerEnabled, params.DefaultReconcilerEnabled),
			MaxDrift:       int64(prov.GetInt(ctx, params.ReconcilerMaxDrift, params.DefaultReconcilerMaxDrift)),
			StaleThreshold: time.Duration(prov.GetInt(ctx, params.StaleEntryThresholdMinutes, params.DefaultStaleEntryThresholdMinutes)) * time.Minute,
		}
		res, err := rec.Run(ctx, rcfg)
		if err != nil {
			log.Error("reconciler run failed", "error", err)
			return
		}
		log.Info("reconciler run complete", "action", res.Action, "reason", res.Reason,
			"counter_before", res.CounterBefore, "counter_after", res.CounterAfter,
			"stale_cleaned", res.StaleEntriesCleaned)
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
			log.Info("reconciler: shutting down")
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
