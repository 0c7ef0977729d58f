package failure

import (
	"context"
	"testing"
	"time"

	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

// Scenario C — Retry ladder: MAX_RETRIES=3, item X. Fail 4 times. Expected
// path: processing -> retry(rc=1) -> processing -> retry(rc=2) ->
// processing -> retry(rc=3) -> processing -> dead-letter(rc=4). Exactly 4
// failure records written.
func TestHandle_ScenarioC_RetryLadder(t *testing.T) {
	items := workitem.NewMemStore(nil)
	items.Put(workitem.AreaProcessing, "a/X.pdf", time.Now(), 10)
	s := store.NewMemStore(nil)
	maxRetries := func(context.Context) int { return 3 }
	c := New(s, items, maxRetries, nil, nil)

	ev := orchestrator.FailureEvent{ExecutionID: "exec-1", ItemPath: "processing/a/X.pdf", RawCause: "States.Timeout"}

	var results []Result
	for i := 0; i < 4; i++ {
		res, err := c.Handle(context.Background(), ev)
		if err != nil {
			t.Fatalf("handle #%d: %v", i+1, err)
		}
		results = append(results, res)
		// Simulate the orchestrator re-running the item: move it back to
		// processing from wherever Handle just routed it, preserving the
		// accumulated retry count (a fresh Put would reset it to zero).
		dstArea := workitem.AreaRetry
		if res.Action == ActionMovedToDeadLetter {
			dstArea = workitem.AreaDeadLetter
		}
		if err := items.Move(context.Background(), dstArea, workitem.AreaProcessing, "a/X.pdf", nil); err != nil {
			t.Fatalf("re-seed move #%d: %v", i+1, err)
		}
	}

	wantActions := []string{ActionMovedToRetry, ActionMovedToRetry, ActionMovedToRetry, ActionMovedToDeadLetter}
	for i, res := range results {
		if res.Action != wantActions[i] {
			t.Fatalf("failure #%d action = %s, want %s", i+1, res.Action, wantActions[i])
		}
		if res.RetryCount != i+1 {
			t.Fatalf("failure #%d retry_count = %d, want %d", i+1, res.RetryCount, i+1)
		}
	}

	records, err := s.Scan(context.Background(), failureRecordKeyPrefix, nil)
	if err != nil {
		t.Fatalf("scan failure records: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("failure records = %d, want 4", len(records))
	}
}

func TestHandle_MoveFailureLeavesItemAndTagsMoveFailed(t *testing.T) {
	inner := workitem.NewMemStore(nil)
	inner.Put(workitem.AreaProcessing, "b/Y.pdf", time.Now(), 10)
	failing := &workitem.FailingMove{Store: inner, FailAt: 1}
	s := store.NewMemStore(nil)
	c := New(s, failing, func(context.Context) int { return 3 }, nil, nil)

	res, err := c.Handle(context.Background(), orchestrator.FailureEvent{ItemPath: "processing/b/Y.pdf", RawCause: "boom"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Action != ActionMoveFailed {
		t.Fatalf("action = %s, want MOVE_FAILED", res.Action)
	}
}
