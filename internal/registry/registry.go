// Package registry implements the In-Flight Registry (C4): per-call
// tracking rows for observability and reconciliation. Any registry error is
// non-fatal — the in-flight counter (C3) is the admission source of truth,
// C4 only enriches it.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/store"
)

// Registry tracks one row per active outbound call.
type Registry struct {
	store store.Store
	clock clock.Clock
	log   *slog.Logger
	ttl   time.Duration
}

// New constructs a Registry. ttl bounds the hard safety-net TTL on tracking
// rows (spec.md §4.4: 1 hour); clk/log may be nil.
func New(s store.Store, clk clock.Clock, ttl time.Duration, log *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{store: s, clock: clk, log: log, ttl: ttl}
}

// Track writes a fresh tracking row for filename/apiType and returns its
// key. Errors are logged and swallowed by callers per spec.md §4.4 — Track
// itself returns the error so C3 can decide whether to proceed (C3 treats a
// Track failure as non-fatal to the acquisition).
func (r *Registry) Track(ctx context.Context, filename, apiType string) (string, error) {
	key, err := store.FileTrackKey(filename)
	if err != nil {
		return "", err
	}
	now := r.clock.Now()
	fields := store.Fields{
		"filename":   filename,
		"api_type":   apiType,
		"started_at": now.Unix(),
	}
	if err := r.store.Put(ctx, key, fields, now.Add(r.ttl)); err != nil {
		r.log.Warn("registry: track failed", "filename", filename, "api_type", apiType, "error", err)
		return "", err
	}
	return key, nil
}

// Untrack scans tracking rows filtered by filename/apiType/released-absent
// and marks the first match released. If none is found it logs and
// proceeds without error, per spec.md §4.4.
func (r *Registry) Untrack(ctx context.Context, filename, apiType string) {
	rows, err := r.store.Scan(ctx, store.FileTrackPrefix(), func(row store.Row) bool {
		return matchesUnreleased(row, filename, apiType)
	})
	if err != nil {
		r.log.Warn("registry: untrack scan failed", "filename", filename, "api_type", apiType, "error", err)
		return
	}
	if len(rows) == 0 {
		r.log.Info("registry: no matching tracking row to release", "filename", filename, "api_type", apiType)
		return
	}
	now := r.clock.Now()
	target := rows[0]
	_, err = r.store.Update(ctx, target.Key,
		[]store.Mutation{
			{Field: "released", Op: store.OpSet, Value: true},
			{Field: "released_at", Op: store.OpSet, Value: now.Unix()},
		},
		store.Precondition{},
		time.Time{},
	)
	if err != nil {
		r.log.Warn("registry: untrack update failed", "key", target.Key, "error", err)
	}
}

// ActiveEntry is one row returned by ListActive.
type ActiveEntry struct {
	Key       string
	Filename  string
	APIType   string
	StartedAt time.Time
}

// ListActive scans tracking rows, filters out released ones, and returns
// them ordered oldest-first by started_at.
func (r *Registry) ListActive(ctx context.Context) ([]ActiveEntry, error) {
	rows, err := r.store.Scan(ctx, store.FileTrackPrefix(), func(row store.Row) bool {
		_, released := row.Fields["released"]
		return !released
	})
	if err != nil {
		return nil, err
	}
	out := make([]ActiveEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, ActiveEntry{
			Key:       row.Key,
			Filename:  fieldString(row.Fields["filename"]),
			APIType:   fieldString(row.Fields["api_type"]),
			StartedAt: unixField(row.Fields["started_at"]),
		})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartedAt.Before(out[j-1].StartedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func matchesUnreleased(row store.Row, filename, apiType string) bool {
	if _, released := row.Fields["released"]; released {
		return false
	}
	if filename != "" && fieldString(row.Fields["filename"]) != filename {
		return false
	}
	if apiType != "" && fieldString(row.Fields["api_type"]) != apiType {
		return false
	}
	return true
}

func fieldString(v any) string {
	s, _ := v.(string)
	return s
}

func unixField(v any) time.Time {
	switch n := v.(type) {
	case int64:
		return time.Unix(n, 0).UTC()
	case int:
		return time.Unix(int64(n), 0).UTC()
	default:
		return time.Time{}
	}
}
