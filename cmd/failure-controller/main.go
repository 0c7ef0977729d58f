// Command failure-controller processes one terminal pipeline failure event
// (spec.md §4.6): routes the item to retry/ or dead-letter/, records a
// failure record, and cleans its working/ directory. An orchestrator
// integration would normally invoke this per failed execution; here the
// event fields are accepted as flags for direct/manual invocation and
// scripting.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/config"
	"github.com/harperio/admitcore/internal/failure"
	"github.com/harperio/admitcore/internal/logging"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/params"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

var (
	configPath  string
	workRoot    string
	executionID string
	itemPath    string
	rawCause    string
	status      string
)

func main() {
	root := &cobra.Command{
		Use:   "failure-controller",
		Short: "Route a failed work item to retry or dead-letter",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	root.Flags().StringVar(&workRoot, "work-root", "./work", "root directory holding the intake/retry/processing/dead-letter/working areas")
	root.Flags().StringVar(&executionID, "execution-id", "", "orchestrator execution id for the failed item")
	root.Flags().StringVar(&itemPath, "item-path", "", "processing-area path of the failed item")
	root.Flags().StringVar(&rawCause, "raw-cause", "", "raw failure cause payload to normalize")
	root.Flags().StringVar(&status, "status", "FAILED", "terminal status reported by the orchestrator")
	root.MarkFlagRequired("item-path")

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

	maxRetries := func(ctx context.Context) int {
		return prov.GetInt(ctx, params.MaxRetries, params.DefaultMaxRetries)
	}
	ctrl := failure.New(s, items, maxRetries, clk, log)

	ev := orchestrator.FailureEvent{
		ExecutionID: executionID,
		ItemPath:    itemPath,
		RawCause:    rawCause,
		Status:      status,
	}
	res, err := ctrl.Handle(cmd.Context(), ev)
	if err != nil {
		return err
	}
	log.Info("failure handled", "action", res.Action, "retry_count", res.RetryCount,
		"failure_id", res.FailureID, "cleaned_reason", res.CleanedReason)
	return nil
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
