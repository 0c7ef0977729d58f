// Package failure implements the Failure Controller (C6): on terminal
// pipeline failure, durably increments the item's retry count and routes it
// to the retry area or the dead-letter area, writing a durable failure
// record. Grounded on
// original_source/lambda/pdf-failure-cleanup/main.py's store_failure_record
// and build_clean_failure_reason, generalized to spec.md §4.6's action
// tags and record schema.
package failure

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/harperio/admitcore/internal/clock"
	"github.com/harperio/admitcore/internal/orchestrator"
	"github.com/harperio/admitcore/internal/store"
	"github.com/harperio/admitcore/internal/workitem"
)

const (
	ActionMovedToRetry      = "MOVED_TO_RETRY"
	ActionMovedToDeadLetter = "MOVED_TO_DEAD_LETTER"
	ActionMoveFailed        = "MOVE_FAILED"
)

const failureRecordKeyPrefix = "failure_"

// Controller handles one terminal failure per Handle call.
type Controller struct {
	store      store.Store
	items      workitem.Store
	maxRetries func(ctx context.Context) int
	clock      clock.Clock
	log        *slog.Logger

	// Notify is an optional, fire-and-forget diagnostic analyzer hook
	// (spec.md §4.6 step 7). It runs in its own goroutine; Handle does not
	// wait for it.
	Notify func(ctx context.Context, record store.FailureRecordRow)
}

// New constructs a Controller. maxRetries is called once per Handle
// invocation so callers can back it with the live Parameter Provider.
func New(s store.Store, items workitem.Store, maxRetries func(ctx context.Context) int, clk clock.Clock, log *slog.Logger) *Controller {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{store: s, items: items, maxRetries: maxRetries, clock: clk, log: log}
}

// Result is what Handle returns after processing one failure.
type Result struct {
	Action        string
	RetryCount    int
	CleanedReason string
	FailureID     string
}

// Handle processes one orchestrator.FailureEvent: reads the current
// retry-count, decides retry vs. dead-letter, moves the item, deletes its
// working directory, and writes a durable failure record.
func (c *Controller) Handle(ctx context.Context, ev orchestrator.FailureEvent) (Result, error) {
	maxRetries := c.maxRetries(ctx)
	subPath := itemSubPath(ev.ItemPath)

	retryCount, err := c.items.GetRetryCount(ctx, workitem.AreaProcessing, subPath)
	if err != nil {
		retryCount = 0
	}
	newCount := retryCount + 1

	action := ActionMovedToRetry
	dstArea := workitem.AreaRetry
	if retryCount >= maxRetries {
		action = ActionMovedToDeadLetter
		dstArea = workitem.AreaDeadLetter
	}

	moveErr := c.items.Move(ctx, workitem.AreaProcessing, dstArea, subPath, &newCount)
	if moveErr != nil {
		c.log.Error("failure controller: move failed, leaving item in place", "path", subPath, "error", moveErr)
		action = ActionMoveFailed
	}

	// Always delete working/scratch artifacts, regardless of move outcome.
	if err := c.items.DeleteWorkingDir(ctx, subPath); err != nil {
		c.log.Warn("failure controller: working dir cleanup failed", "path", subPath, "error", err)
	}

	cleaned := CleanReason(ev.RawCause)
	record, failureID, err := c.writeFailureRecord(ctx, subPath, newCount, action, cleaned, ev.ExecutionID)
	if err != nil {
		c.log.Error("failure controller: durable failure record write failed", "path", subPath, "error", err)
	}

	if c.Notify != nil {
		go c.Notify(context.WithoutCancel(ctx), record)
	}

	return Result{Action: action, RetryCount: newCount, CleanedReason: cleaned, FailureID: failureID}, nil
}

func (c *Controller) writeFailureRecord(ctx context.Context, itemID string, retryCount int, action, cleaned, executionID string) (store.FailureRecordRow, string, error) {
	now := c.clock.Now()
	id, err := randomID()
	if err != nil {
		return store.FailureRecordRow{}, "", err
	}
	record := store.FailureRecordRow{
		ItemID:        itemID,
		Timestamp:     now,
		RetryCount:    retryCount,
		Action:        action,
		CleanedReason: cleaned,
		ExecutionID:   executionID,
		Notified:      false,
		FailureDate:   now.Format("2006-01-02"),
	}
	key := failureRecordKeyPrefix + id
	// Idempotent-write intent: a fresh random id per call means a retried
	// Handle for the same logical failure produces a new record rather than
	// silently overwriting one — callers that need true dedup (e.g. an
	// at-least-once delivery orchestrator) should pass a stable id upstream
	// and use store.Update with CondFieldAbsent as the precondition, the
	// same pattern persistence/postgres.go's applied_commits table uses.
	err = c.store.Put(ctx, key, store.Fields{
		"item_id":        record.ItemID,
		"timestamp":      record.Timestamp.Unix(),
		"retry_count":    int64(record.RetryCount),
		"action":         record.Action,
		"cleaned_reason": record.CleanedReason,
		"execution_id":   record.ExecutionID,
		"notified":       record.Notified,
		"failure_date":   record.FailureDate,
	}, time.Time{})
	return record, id, err
}

func randomID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failure: generating record id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// itemSubPath strips a leading area prefix (e.g. "processing/") off an
// orchestrator-supplied item path, leaving the sub-path Move preserves.
func itemSubPath(itemPath string) string {
	itemPath = strings.TrimPrefix(itemPath, "/")
	if i := strings.Index(itemPath, "/"); i >= 0 {
		return itemPath[i+1:]
	}
	return path.Base(itemPath)
}
