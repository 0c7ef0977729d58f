// Package rategate implements the Rate Gate (C3): dual-limit admission for
// outbound API calls, acquired and released around every call to the
// quota-limited third-party API. This is the heart of the system (spec.md
// §4.3): a two-phase conditional increment (in-flight slot, then RPM
// window slot) with compensation if the second phase fails.
package rategate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/registry"
	"github.com/harperio/admitcore/internal/store"
)

// Limits are the two caps enforced per acquisition. Values ordinarily come
// from the Parameter Provider (C2); the Gate takes them as plain ints so it
// has no compile-time dependency on params, matching spec.md §9's "explicit
// context instead of globals" redesign note.
type Limits struct {
	MaxInFlight int64
	MaxRPM      int64
}

// Jitter returns a random duration in [0, max). Production code uses
// math/rand; tests inject a deterministic or zero jitter so timing
// assertions aren't flaky.
type Jitter func(max time.Duration) time.Duration

func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Gate is the Rate Gate. Construct one per process with New and share it
// across every outbound-API call site.
type Gate struct {
	store    store.Store
	registry *registry.Registry
	clock    clock.Clock
	jitter   Jitter
	log      *slog.Logger

	attempts atomic.Int64
	admits   atomic.Int64
	timeouts atomic.Int64
}

// Option configures a Gate at construction time.
type Option func(*Gate)

// WithJitter overrides the jitter function (tests use this to zero out
// randomness for deterministic timing assertions).
func WithJitter(j Jitter) Option { return func(g *Gate) { g.jitter = j } }

// WithLogger overrides the Gate's logger.
func WithLogger(log *slog.Logger) Option { return func(g *Gate) { g.log = log } }

// New constructs a Gate. reg may be nil to skip C4 tracking entirely.
func New(s store.Store, reg *registry.Registry, clk clock.Clock, opts ...Option) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	g := &Gate{store: s, registry: reg, clock: clk, jitter: defaultJitter, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Lease represents one successful acquisition. Release is idempotent: only
// the first call has effect, so a deferred Release is always safe even if
// the caller also released explicitly on a success path — matching spec.md
// §9's "scoped acquisition... never rely on the caller to remember to
// release" and property 7 (double release must not drive in_flight below
// zero).
type Lease struct {
	gate     *Gate
	apiType  string
	filename string
	released atomic.Bool
}

// Release decrements the in-flight counter (clamped at zero) and, if a
// tracking row was written, marks it released. Release never raises —
// store errors are logged and swallowed, per spec.md §4.3's release
// protocol.
func (l *Lease) Release(ctx context.Context) {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.gate.release(ctx, l.apiType, l.filename)
}

// Acquire performs the two-phase acquisition protocol and blocks until it
// succeeds or maxWait elapses. On success the caller MUST call
// lease.Release (typically via defer) exactly once after the outbound call
// completes, on every exit path.
func (g *Gate) Acquire(ctx context.Context, apiType, filename string, limits Limits, maxWait time.Duration) (*Lease, error) {
	g.attempts.Add(1)

	g.sleep(ctx, g.jitter(500*time.Millisecond))

	deadline := g.clock.Now().Add(maxWait)
	attempt := 0
	for {
		if ctx.Err() != nil {
			g.timeouts.Add(1)
			return nil, ctx.Err()
		}
		if g.clock.Now().After(deadline) {
			g.timeouts.Add(1)
			return nil, ErrAcquireTimeout
		}

		ok, err := g.tryPhaseA(ctx, limits)
		if err != nil {
			return nil, err
		}
		if !ok {
			attempt++
			wait := minDuration(2*time.Second+time.Duration(float64(attempt)*0.5*float64(time.Second)), 10*time.Second) + g.jitter(time.Second)
			g.log.Debug("rategate: phase A condition failed, backing off", "api_type", apiType, "attempt", attempt, "wait", wait)
			g.sleep(ctx, wait)
			continue
		}

		ok, err = g.tryPhaseB(ctx, limits)
		if err != nil {
			g.compensatePhaseA(ctx)
			return nil, err
		}
		if !ok {
			g.compensatePhaseA(ctx)
			wait := minDuration(g.secondsUntilNextMinute()+time.Second, 15*time.Second) + g.jitter(2*time.Second)
			g.log.Debug("rategate: phase B condition failed, compensating and waiting for next minute", "api_type", apiType, "wait", wait)
			g.sleep(ctx, wait)
			continue
		}

		g.admits.Add(1)
		if filename != "" && g.registry != nil {
			if _, terr := g.registry.Track(ctx, filename, apiType); terr != nil {
				g.log.Warn("rategate: tracking row write failed, proceeding without it", "filename", filename, "error", terr)
			}
		}
		return &Lease{gate: g, apiType: apiType, filename: filename}, nil
	}
}

// WithAcquire is the scoped-resource convenience form: acquire, call fn,
// release on every exit path. This is the idiomatic Go replacement for the
// original's context-manager / "with rate_gate.acquire(...)" usage.
func (g *Gate) WithAcquire(ctx context.Context, apiType, filename string, limits Limits, maxWait time.Duration, fn func(ctx context.Context) error) error {
	lease, err := g.Acquire(ctx, apiType, filename, limits, maxWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)
	return fn(ctx)
}

func (g *Gate) tryPhaseA(ctx context.Context, limits Limits) (bool, error) {
	now := g.clock.Now()
	_, err := g.store.Update(ctx, store.InFlightKey,
		[]store.Mutation{
			{Field: "in_flight", Op: store.OpIfNotExists, Value: int64(0)},
			{Field: "in_flight", Op: store.OpIncrBy, Value: int64(1)},
			{Field: "last_updated", Op: store.OpSet, Value: now.Unix()},
		},
		store.Precondition{Kind: store.CondNumericLessOr, Field: "in_flight", Value: limits.MaxInFlight},
		time.Time{},
	)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrConditionFailed) {
		return false, nil
	}
	return false, fmt.Errorf("rategate: phase A: %w", err)
}

func (g *Gate) tryPhaseB(ctx context.Context, limits Limits) (bool, error) {
	now := g.clock.Now()
	windowKey := store.RPMWindowKey(now)
	_, err := g.store.Update(ctx, windowKey,
		[]store.Mutation{
			{Field: "request_count", Op: store.OpIfNotExists, Value: int64(0)},
			{Field: "request_count", Op: store.OpIncrBy, Value: int64(1)},
		},
		store.Precondition{Kind: store.CondNumericLessOr, Field: "request_count", Value: limits.MaxRPM},
		now.Add(120*time.Second),
	)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrConditionFailed) {
		return false, nil
	}
	return false, fmt.Errorf("rategate: phase B: %w", err)
}

// compensatePhaseA undoes Phase A's increment with a clamped decrement
// (never below zero). Failure is logged only, never returned: the
// reconciler (C7) is the backstop for any drift this leaves behind, per
// spec.md §4.3 and the "compensation atomicity" open question.
func (g *Gate) compensatePhaseA(ctx context.Context) {
	_, err := g.store.Update(ctx, store.InFlightKey,
		[]store.Mutation{{Field: "in_flight", Op: store.OpIncrBy, Value: int64(-1)}},
		store.Precondition{Kind: store.CondNumericAtLeast, Field: "in_flight", Value: int64(1)},
		time.Time{},
	)
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		g.log.Warn("rategate: compensation decrement failed", "error", err)
	}
}

// release performs the unconditional (but clamped) release decrement and
// asks the registry to mark the tracking row released, if any. Per spec.md
// §4.3, release must never raise.
func (g *Gate) release(ctx context.Context, apiType, filename string) {
	now := g.clock.Now()
	_, err := g.store.Update(ctx, store.InFlightKey,
		[]store.Mutation{
			{Field: "in_flight", Op: store.OpIncrBy, Value: int64(-1)},
			{Field: "last_updated", Op: store.OpSet, Value: now.Unix()},
		},
		store.Precondition{Kind: store.CondNumericAtLeast, Field: "in_flight", Value: int64(1)},
		time.Time{},
	)
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		g.log.Warn("rategate: release decrement failed", "error", err)
	}
	if filename != "" && g.registry != nil {
		g.registry.Untrack(ctx, filename, apiType)
	}
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-g.clock.After(d):
	}
}

func (g *Gate) secondsUntilNextMinute() time.Duration {
	now := g.clock.Now()
	next := clock.MinuteFloor(now).Add(time.Minute)
	return next.Sub(now)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Stats is a snapshot of lifetime counters, grounded on
// internal/ratelimiter/core/metrics.go's atomic-counter style; promoted
// here into the Gate itself since the Gate is the only admission path.
type Stats struct {
	Attempts int64
	Admits   int64
	Timeouts int64
}

func (g *Gate) Stats() Stats {
	return Stats{Attempts: g.attempts.Load(), Admits: g.admits.Load(), Timeouts: g.timeouts.Load()}
}
