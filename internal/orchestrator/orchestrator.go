// Package orchestrator defines the two external signal ports the core
// consumes from whatever runs the actual worker pipelines (spec.md §6):
// running-worker and running-pipeline counts, and the failure event shape
// that drives the Failure Controller. The core never reaches into ECS,
// Step Functions, or any other orchestration system directly — that
// integration is deliberately out of scope (spec.md §1).
package orchestrator

import (
	"context"
	"errors"
)

// CountUnknown is returned by Signals implementations that cannot
// determine a count (e.g. unconfigured), mirroring the original
// reconciler's get_running_ecs_tasks/get_running_step_functions returning
// -1 rather than 0 — "unknown" must never be treated as "nothing running".
const CountUnknown = -1

// ErrUnconfigured is the error a Signals implementation can return when no
// orchestrator integration is configured; Static never returns it. The
// original's retry processor treats this as "assume saturated" (returns a
// sentinel of 999) rather than "assume empty"; SaturatedFallback keeps that
// bias for any error.
var ErrUnconfigured = errors.New("orchestrator: signal source not configured")

// Signals is the port the core consumes.
type Signals interface {
	// CountRunningWorkers returns the number of worker pipelines currently
	// executing. Returns CountUnknown (never an error) if undeterminable in
	// a context where "unknown" is a safe value (the Reconciler); callers
	// that must fail closed instead (the Intake Scheduler) pass the result
	// through SaturatedFallback.
	CountRunningWorkers(ctx context.Context) (int, error)

	// CountRunningPipelines returns the number of orchestrator-level
	// pipeline executions (e.g. Step Function executions) currently
	// running.
	CountRunningPipelines(ctx context.Context) (int, error)
}

// FailureEvent is the shape of a terminal pipeline failure, as delivered by
// the orchestrator to the Failure Controller.
type FailureEvent struct {
	ExecutionID string
	ItemPath    string // processing-area path of the failed item
	RawCause    string
	Status      string
}

// Static is a fixed-value Signals implementation for tests.
type Static struct {
	Workers   int
	Pipelines int
}

func (s Static) CountRunningWorkers(ctx context.Context) (int, error)   { return s.Workers, nil }
func (s Static) CountRunningPipelines(ctx context.Context) (int, error) { return s.Pipelines, nil }

// SaturatedFallback returns count unless err is non-nil or count equals
// CountUnknown, in which case it returns the high sentinel used by the
// intake scheduler to mean
// "assume saturated, skip admission" — the same defensive posture as the
// original's RATE_LIMIT_TABLE-unset 999 sentinel.
func SaturatedFallback(count int, err error) int {
	if err != nil || count == CountUnknown {
		return 1 << 30
	}
	return count
}
