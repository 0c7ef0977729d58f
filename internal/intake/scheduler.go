// Package intake implements the Intake Scheduler (C5): a single-threaded,
// periodic control loop that admits items from the intake and retry areas
// into the processing area, governed by live capacity signals. Grounded on
// original_source/lambda/pdf-retry-processor/main.py's handler, generalized
// per spec.md §4.5 (configurable thresholds, retry-area-first ordering,
// stop-on-first-failure admission).
package intake

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

// Config holds the knobs read from the Parameter Provider (C2) at the start
// of each invocation.
type Config struct {
	MaxInFlight int // INTAKE_MAX_IN_FLIGHT
	MaxRunning  int // INTAKE_MAX_RUNNING
	BatchSize   int
	BatchSizeLow int
}

// Action tags returned in Result, mirroring the original Lambdas' response
// bodies (action/reason/files_processed).
const (
	ActionSkipped   = "SKIPPED"
	ActionNoFiles   = "NO_FILES"
	ActionProcessed = "PROCESSED"
)

// Result summarizes one invocation.
type Result struct {
	Action           string
	Reason           string
	FromRetry        int
	FromIntake       int
	FilesProcessed   int
	FilesRemaining   int
	ObservedInFlight int
	ObservedRunning  int
}

// Scheduler runs one admission pass per Run call.
type Scheduler struct {
	store        store.Store
	items        workitem.Store
	signals      orchestrator.Signals
	clock        clock.Clock
	log          *slog.Logger
}

func New(s store.Store, items workitem.Store, signals orchestrator.Signals, clk clock.Clock, log *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{store: s, items: items, signals: signals, clock: clk, log: log}
}

// Run performs exactly one admission pass: backoff check, capacity check,
// sizing, source ordering (retry first), admission, and returns a summary.
func (s *Scheduler) Run(ctx context.Context, cfg Config) (Result, error) {
	if remaining, active := s.backoffRemaining(ctx); active {
		s.log.Info("intake: global backoff active, skipping", "remaining", remaining)
		return Result{Action: ActionSkipped, Reason: backoffReason(remaining)}, nil
	}

	inFlight, err := s.readInFlight(ctx)
	if err != nil {
		return Result{}, err
	}
	running := orchestrator.SaturatedFallback(s.signals.CountRunningPipelines(ctx))

	if inFlight >= int64(cfg.MaxInFlight) {
		s.log.Info("intake: in-flight at/above threshold, skipping", "in_flight", inFlight, "threshold", cfg.MaxInFlight)
		return Result{Action: ActionSkipped, Reason: "in-flight above threshold", ObservedInFlight: int(inFlight), ObservedRunning: running}, nil
	}
	if running >= cfg.MaxRunning {
		s.log.Info("intake: running pipelines at/above threshold, skipping", "running", running, "threshold", cfg.MaxRunning)
		return Result{Action: ActionSkipped, Reason: "running pipelines above threshold", ObservedInFlight: int(inFlight), ObservedRunning: running}, nil
	}

	// Sizing (spec.md §4.5 step 3): when both capacity signals are well
	// below threshold, admit up to BatchSizeLow instead of BatchSize. The
	// literal thresholds (3, 10) are the spec's own worked example, carried over from the
	// original's in_flight==0 && running<5 "queue is very empty" case.
	budget := cfg.BatchSize
	if inFlight < 3 && running < 10 {
		budget = cfg.BatchSizeLow
	}

	retryItems, err := s.items.List(ctx, workitem.AreaRetry)
	if err != nil {
		return Result{}, err
	}
	intakeItems, err := s.items.List(ctx, workitem.AreaIntake)
	if err != nil {
		return Result{}, err
	}
	if len(retryItems) == 0 && len(intakeItems) == 0 {
		return Result{Action: ActionNoFiles, Reason: "no files waiting", ObservedInFlight: int(inFlight), ObservedRunning: running}, nil
	}

	processed := 0
	fromRetry, fromIntake := 0, 0
	stop := false

	admit := func(area string, it workitem.Item) bool {
		if processed >= budget {
			return false
		}
		if err := s.items.Move(ctx, area, workitem.AreaProcessing, it.SubPath, nil); err != nil {
			s.log.Error("intake: admission move failed, stopping invocation", "area", area, "path", it.SubPath, "error", err)
			stop = true
			return false
		}
		processed++
		if area == workitem.AreaRetry {
			fromRetry++
		} else {
			fromIntake++
		}
		return true
	}

	for _, it := range retryItems {
		if stop || !admit(workitem.AreaRetry, it) {
			break
		}
	}
	if !stop {
		for _, it := range intakeItems {
			if !admit(workitem.AreaIntake, it) {
				break
			}
		}
	}

	remaining := (len(retryItems) - fromRetry) + (len(intakeItems) - fromIntake)
	action := ActionProcessed
	reason := ""
	if stop {
		reason = "admission stopped after a move failure"
	}
	return Result{
		Action: action, Reason: reason,
		FromRetry: fromRetry, FromIntake: fromIntake,
		FilesProcessed: processed, FilesRemaining: remaining,
		ObservedInFlight: int(inFlight), ObservedRunning: running,
	}, nil
}

func (s *Scheduler) readInFlight(ctx context.Context) (int64, error) {
	row, err := s.store.Get(ctx, store.InFlightKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, _ := row.Fields["in_flight"].(int64)
	return n, nil
}

func (s *Scheduler) backoffRemaining(ctx context.Context) (time.Duration, bool) {
	row, err := s.store.Get(ctx, store.GlobalBackoffKey)
	if err != nil {
		return 0, false
	}
	until, ok := row.Fields["backoff_until"].(int64)
	if !ok {
		return 0, false
	}
	remaining := time.Unix(until, 0).Sub(s.clock.Now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func backoffReason(remaining time.Duration) string {
	return "global backoff active, " + remaining.Round(time.Second).String() + " remaining"
}
