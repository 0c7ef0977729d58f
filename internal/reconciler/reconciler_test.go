package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/registry"
	"github.com/harperio/admitcore/internal/store"
)

var defaultCfg = Config{Enabled: true, MaxDrift: 5, StaleThreshold: 15 * time.Minute}

// Scenario D — Reconciliation after crash: in_flight := 5, 0 tracking rows,
// orchestrator reports 0 running workers/pipelines. Expect in_flight == 0,
// reason "no active work".
func TestRun_ScenarioD_ResetAfterCrash(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	if err := s.Put(ctx, store.InFlightKey, store.Fields{"in_flight": int64(5)}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(s, nil, 0, nil)
	rec := New(s, reg, orchestrator.Static{Workers: 0, Pipelines: 0}, nil, nil, nil)

	res, err := rec.Run(ctx, defaultCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Action != ActionResetToZero {
		t.Fatalf("action = %s, want RESET_TO_ZERO", res.Action)
	}
	if res.CounterAfter != 0 {
		t.Fatalf("counter after = %d, want 0", res.CounterAfter)
	}
	if res.Reason != ReasonNoActiveWork {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonNoActiveWork)
	}

	row, err := s.Get(ctx, store.InFlightKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, _ := row.Fields["in_flight"].(int64); n != 0 {
		t.Fatalf("stored in_flight = %d, want 0", n)
	}
}

func TestRun_ExceedsTrackedDrift(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	if err := s.Put(ctx, store.InFlightKey, store.Fields{"in_flight": int64(20)}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(s, nil, 0, nil)
	// 2 tracked files, drift=5: counter(20) > tracked(2)+5 -> reset to 2.
	reg.Track(ctx, "a.pdf", "autotag")
	reg.Track(ctx, "b.pdf", "autotag")
	rec := New(s, reg, orchestrator.Static{Workers: 3, Pipelines: 3}, nil, nil, nil)

	res, err := rec.Run(ctx, defaultCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Action != ActionResetToTracked || res.CounterAfter != 2 {
		t.Fatalf("action=%s counterAfter=%d, want RESET_TO_TRACKED/2", res.Action, res.CounterAfter)
	}
}

func TestRun_Disabled(t *testing.T) {
	s := store.NewMemStore(nil)
	reg := registry.New(s, nil, 0, nil)
	rec := New(s, reg, orchestrator.Static{}, nil, nil, nil)

	res, err := rec.Run(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Action != ActionNone {
		t.Fatalf("action = %s, want NONE", res.Action)
	}
}

func TestRun_CleansStaleTrackingRows(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	reg := registry.New(s, nil, 0, nil)
	key, err := reg.Track(ctx, "stale.pdf", "autotag")
	if err != nil {
		t.Fatal(err)
	}
	// Rewrite started_at to 20 minutes in the past.
	_, err = s.Update(ctx, key, []store.Mutation{
		{Field: "started_at", Op: store.OpSet, Value: time.Now().Add(-20 * time.Minute).Unix()},
	}, store.Precondition{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	rec := New(s, reg, orchestrator.Static{Workers: 1, Pipelines: 1}, nil, nil, nil)

	res, err := rec.Run(ctx, defaultCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.StaleEntriesCleaned != 1 {
		t.Fatalf("stale entries cleaned = %d, want 1", res.StaleEntriesCleaned)
	}
}
