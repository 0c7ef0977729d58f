// Package reconciler implements the Reconciler (C7): a periodic control
// loop that repairs drift between the in-flight counter and reality.
// Grounded on
// original_source/lambda/in-flight-reconciler/main.py's handler, decision
// order preserved exactly (spec.md §4.7).
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/registry"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/telemetry/metrics"
)

// Config holds the knobs read from the Parameter Provider at the start of
// each invocation.
type Config struct {
	Enabled           bool
	MaxDrift          int64
	StaleThreshold    time.Duration // default 15 min
}

const (
	ReasonNoActiveWork      = "no active work"
	ReasonExceedsTrackedDrift = "counter exceeds tracked by > drift"
	ReasonNegativeCounter   = "negative counter"
)

// Result summarizes one invocation, mirroring the original's response body.
type Result struct {
	Action               string
	CounterBefore         int64
	CounterAfter          int64
	TrackedFiles          int
	RunningWorkers        int
	RunningPipelines      int
	StaleEntriesCleaned   int
	Reason                string
}

const (
	ActionNone            = "NONE"
	ActionResetToZero     = "RESET_TO_ZERO"
	ActionResetToTracked  = "RESET_TO_TRACKED"
	ActionResetNegative   = "RESET_NEGATIVE"
)

type Reconciler struct {
	store    store.Store
	registry *registry.Registry
	signals  orchestrator.Signals
	clock    clock.Clock
	metrics  *metrics.Reconciler
	log      *slog.Logger
}

func New(s store.Store, reg *registry.Registry, signals orchestrator.Signals, clk clock.Clock, m *metrics.Reconciler, log *slog.Logger) *Reconciler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{store: s, registry: reg, signals: signals, clock: clk, metrics: m, log: log}
}

// Run performs exactly one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context, cfg Config) (Result, error) {
	if !cfg.Enabled {
		r.log.Info("reconciler: disabled, skipping")
		return Result{Action: ActionNone, Reason: "disabled"}, nil
	}

	counter, err := r.readCounter(ctx)
	if err != nil {
		return Result{}, err
	}
	active, err := r.registry.ListActive(ctx)
	if err != nil {
		return Result{}, err
	}
	tracked := len(active)
	workers := valueOrUnknown(r.signals.CountRunningWorkers(ctx))
	pipelines := valueOrUnknown(r.signals.CountRunningPipelines(ctx))

	if r.metrics != nil {
		r.metrics.ObserveState(counter, tracked, workers, pipelines)
	}

	action := ActionNone
	var resetTo int64
	reason := ""

	switch {
	case counter > 0 && workers == 0 && pipelines == 0:
		action = ActionResetToZero
		resetTo = 0
		reason = ReasonNoActiveWork
	case counter > int64(tracked)+cfg.MaxDrift:
		action = ActionResetToTracked
		resetTo = int64(tracked)
		if resetTo < 0 {
			resetTo = 0
		}
		reason = ReasonExceedsTrackedDrift
	case counter < 0:
		action = ActionResetNegative
		resetTo = 0
		reason = ReasonNegativeCounter
	}

	counterAfter := counter
	if action != ActionNone {
		r.log.Warn("reconciler: resetting counter", "from", counter, "to", resetTo, "reason", reason)
		if err := r.resetCounter(ctx, resetTo, reason); err != nil {
			r.log.Error("reconciler: reset failed", "error", err)
		} else {
			counterAfter = resetTo
			if r.metrics != nil {
				r.metrics.ObserveReset()
			}
		}
	}

	staleCleaned, err := r.cleanupStaleEntries(ctx, cfg.StaleThreshold)
	if err != nil {
		r.log.Error("reconciler: stale cleanup failed", "error", err)
	}
	if staleCleaned > 0 && r.metrics != nil {
		r.metrics.ObserveStaleCleaned(staleCleaned)
	}

	return Result{
		Action: action, CounterBefore: counter, CounterAfter: counterAfter,
		TrackedFiles: tracked, RunningWorkers: workers, RunningPipelines: pipelines,
		StaleEntriesCleaned: staleCleaned, Reason: reason,
	}, nil
}

func (r *Reconciler) readCounter(ctx context.Context) (int64, error) {
	row, err := r.store.Get(ctx, store.InFlightKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, _ := row.Fields["in_flight"].(int64)
	return n, nil
}

func (r *Reconciler) resetCounter(ctx context.Context, newValue int64, reason string) error {
	now := r.clock.Now()
	return r.store.Put(ctx, store.InFlightKey, store.Fields{
		"in_flight":        newValue,
		"last_updated":     now.Unix(),
		"last_reconciled":  now.Unix(),
		"reconcile_reason": reason,
	}, time.Time{})
}

// cleanupStaleEntries marks stale tracking rows released, per spec.md
// §4.7 step 5 / §4.4.
func (r *Reconciler) cleanupStaleEntries(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	cutoff := r.clock.Now().Add(-threshold)
	rows, err := r.store.Scan(ctx, store.FileTrackPrefix(), func(row store.Row) bool {
		if _, released := row.Fields["released"]; released {
			return false
		}
		startedAt, ok := row.Fields["started_at"].(int64)
		if !ok {
			return false
		}
		return time.Unix(startedAt, 0).Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	now := r.clock.Now()
	cleaned := 0
	for _, row := range rows {
		_, err := r.store.Update(ctx, row.Key,
			[]store.Mutation{
				{Field: "released", Op: store.OpSet, Value: true},
				{Field: "released_at", Op: store.OpSet, Value: now.Unix()},
				{Field: "stale_cleanup", Op: store.OpSet, Value: true},
			},
			store.Precondition{}, time.Time{},
		)
		if err != nil {
			r.log.Warn("reconciler: marking stale row failed", "key", row.Key, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func valueOrUnknown(count int, err error) int {
	if err != nil {
		return orchestrator.CountUnknown
	}
	return count
}
