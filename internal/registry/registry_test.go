package registry

import (
	"context"
	"testing"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/store"
)

func TestTrackUntrack_RoundTrip(t *testing.T) {
	s := store.NewMemStore(nil)
	reg := New(s, nil, 0, nil)
	ctx := context.Background()

	key, err := reg.Track(ctx, "file.pdf", "autotag")
	if err != nil {
		t.Fatal(err)
	}
	if key == "" {
		t.Fatal("expected non-empty key")
	}

	active, err := reg.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Filename != "file.pdf" {
		t.Fatalf("active = %+v, want one entry for file.pdf", active)
	}

	reg.Untrack(ctx, "file.pdf", "autotag")

	active, err = reg.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %+v, want none after untrack", active)
	}
}

func TestUntrack_NoMatch_DoesNotError(t *testing.T) {
	s := store.NewMemStore(nil)
	reg := New(s, nil, 0, nil)
	reg.Untrack(context.Background(), "nonexistent.pdf", "autotag")
}

func TestListActive_OrderedOldestFirst(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s := store.NewMemStore(clk)
	reg := New(s, clk, 0, nil)
	ctx := context.Background()

	reg.Track(ctx, "second.pdf", "autotag")
	clk.Advance(time.Minute)
	reg.Track(ctx, "first-is-actually-later.pdf", "autotag")

	active, err := reg.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("len = %d, want 2", len(active))
	}
	if !active[0].StartedAt.Before(active[1].StartedAt) {
		t.Fatalf("active not ordered oldest-first: %+v", active)
	}
}
