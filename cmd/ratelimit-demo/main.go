// Command ratelimit-demo runs a standalone HTTP server over the Rate Gate,
// the direct descendant of etalazz-vsa's cmd/ratelimiter-api demo: flags
// double as production knobs, graceful shutdown on SIGINT/SIGTERM, a final
// stats dump on the way out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/config"
	"github.com/harperio/admitcore/internal/logging"
	"github.com/harperio/admitcore/internal/rategate"
	"github.com/harperio/admitcore/internal/ratelimitapi"
	"github.com/harperio/admitcore/internal/registry"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/telemetry/metrics"
)

var (
	configPath  string
	httpAddr    string
	metricsAddr string
	maxInFlight int64
	maxRPM      int64
	maxWait     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "ratelimit-demo",
		Short: "Run the Rate Gate behind a demo HTTP server",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	root.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if non-empty, serve Prometheus /metrics on this address")
	root.Flags().Int64Var(&maxInFlight, "max-in-flight", 150, "maximum concurrent in-flight admissions")
	root.Flags().Int64Var(&maxRPM, "max-rpm", 180, "maximum admissions per UTC wall-clock minute")
	root.Flags().DurationVar(&maxWait, "max-wait", 30*time.Second, "maximum time /acquire blocks before returning 429")

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

	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsSrv = metrics.ServeHTTP(metricsAddr)
	}

	s, err := buildStore(cfg)
	if err != nil {
		return err
	}
	clk := clock.Real{}
	reg := registry.New(s, clk, time.Hour, log)
	gate := rategate.New(s, reg, clk, rategate.WithLogger(log))

	apiServer := ratelimitapi.NewServer(gate, rategate.Limits{MaxInFlight: maxInFlight, MaxRPM: maxRPM}, maxWait)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: httpAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("ratelimit-demo: listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ratelimit-demo: server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("ratelimit-demo: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("ratelimit-demo: shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}

	st := gate.Stats()
	log.Info("ratelimit-demo: final stats", "attempts", st.Attempts, "admits", st.Admits, "timeouts", st.Timeouts)
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
