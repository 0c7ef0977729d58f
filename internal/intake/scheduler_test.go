package intake

import (
	"context"
	"testing"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

var testCfg = Config{MaxInFlight: 10, MaxRunning: 10, BatchSize: 5, BatchSizeLow: 3}

// Scenario E — Intake throttle: INTAKE_MAX_IN_FLIGHT=10, BATCH_SIZE=5,
// in_flight==11. Expect 0 admissions, action SKIPPED.
func TestRun_ScenarioE_IntakeThrottle(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	if err := s.Put(ctx, store.InFlightKey, store.Fields{"in_flight": int64(11)}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	items := workitem.NewMemStore(nil)
	for i := 0; i < 20; i++ {
		items.Put(workitem.AreaIntake, itoaPath(i), time.Now(), 100)
	}
	sched := New(s, items, orchestrator.Static{Workers: 2, Pipelines: 2}, nil, nil)

	res, err := sched.Run(ctx, testCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Action != ActionSkipped {
		t.Fatalf("action = %s, want SKIPPED", res.Action)
	}
	if res.FilesProcessed != 0 {
		t.Fatalf("files processed = %d, want 0", res.FilesProcessed)
	}
	got, _ := items.List(ctx, workitem.AreaIntake)
	if len(got) != 20 {
		t.Fatalf("intake count = %d, want 20 (no items moved)", len(got))
	}
}

// Scenario F — Backoff honored: global_backoff_until = now + 30s. Expect 0
// admissions, SKIPPED, reason cites backoff seconds.
func TestRun_ScenarioF_BackoffHonored(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.Put(ctx, store.GlobalBackoffKey, store.Fields{"backoff_until": now.Add(30 * time.Second).Unix()}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	items := workitem.NewMemStore(nil)
	items.Put(workitem.AreaIntake, "a/X.pdf", now, 100)
	sched := New(s, items, orchestrator.Static{}, clock.NewManual(now), nil)

	res, err := sched.Run(ctx, testCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Action != ActionSkipped {
		t.Fatalf("action = %s, want SKIPPED", res.Action)
	}
	if res.Reason == "" {
		t.Fatal("expected a reason citing the backoff remainder")
	}
}

func TestRun_AdmitsRetryBeforeIntake(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	items := workitem.NewMemStore(nil)
	now := time.Now()
	items.Put(workitem.AreaRetry, "r1.pdf", now, 10)
	items.Put(workitem.AreaIntake, "i1.pdf", now, 10)
	sched := New(s, items, orchestrator.Static{}, nil, nil)

	res, err := sched.Run(ctx, testCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FromRetry != 1 || res.FromIntake != 1 {
		t.Fatalf("fromRetry=%d fromIntake=%d, want 1,1", res.FromRetry, res.FromIntake)
	}
	processing, _ := items.List(ctx, workitem.AreaProcessing)
	if len(processing) != 2 {
		t.Fatalf("processing count = %d, want 2", len(processing))
	}
}

func TestRun_StopsOnFirstMoveFailure(t *testing.T) {
	s := store.NewMemStore(nil)
	ctx := context.Background()
	inner := workitem.NewMemStore(nil)
	now := time.Now()
	inner.Put(workitem.AreaIntake, "a.pdf", now, 10)
	inner.Put(workitem.AreaIntake, "b.pdf", now.Add(time.Second), 10)
	failing := &workitem.FailingMove{Store: inner, FailAt: 1}
	sched := New(s, failing, orchestrator.Static{}, nil, nil)

	res, err := sched.Run(ctx, testCfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FilesProcessed != 0 {
		t.Fatalf("files processed = %d, want 0 (first move failed)", res.FilesProcessed)
	}
	if res.Reason == "" {
		t.Fatal("expected a reason explaining the stop")
	}
}

func itoaPath(i int) string {
	digits := "0123456789"
	if i < 10 {
		return "f" + string(digits[i]) + ".pdf"
	}
	return "f" + string(digits[i/10]) + string(digits[i%10]) + ".pdf"
}
