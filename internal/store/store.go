// Package store implements the Counter Store (C1): a transactional KV
// abstraction with atomic conditional updates, TTL-based expiry, and
// scan-by-prefix. Every other component is written against this interface
// alone.
package store

import (
	"context"
	"time"
)

// Fields is the row representation at the store boundary: a flat map of
// named fields, closest to the source's duck-typed DynamoDB item. Component
// code (rate gate, registry, intake, reconciler, failure controller) reads
// and writes Fields directly by field name; it does not convert rows to the
// structs in rows.go.
type Fields map[string]any

// Row is a Fields value plus its key, returned by Get and Scan.
type Row struct {
	Key    string
	Fields Fields
}

// FieldOp names a mutation applied to one field by Update.
type FieldOp int

const (
	// OpSet unconditionally sets the field to Value.
	OpSet FieldOp = iota
	// OpIncrBy increments a numeric field by Value (a literal, signed int64).
	OpIncrBy
	// OpIfNotExists sets the field to Value only if absent; a precondition
	// check elsewhere in the same Update call may still combine with this.
	OpIfNotExists
)

// Mutation is one field-level change within an Update call.
type Mutation struct {
	Field string
	Op    FieldOp
	Value any
}

// CondKind names the shape of a Precondition check.
type CondKind int

const (
	CondFieldAbsent CondKind = iota
	CondFieldPresent
	CondNumericLess    // field < Value (false if absent)
	CondNumericLessOr  // (field < Value) OR (field absent)
	CondNumericAtLeast // field >= Value (false if absent) — used for clamped decrements
)

// Precondition gates an Update: the update only applies if the condition
// holds against the row as currently stored.
type Precondition struct {
	Kind  CondKind
	Field string
	Value any
}

// Store is the Counter Store interface (C1). All methods take a context so
// callers can bound round-trips; TTL is expressed as an absolute expiry
// time, never a duration, so the store and the caller agree on wall clock.
type Store interface {
	// Get returns the row for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Row, error)

	// Put unconditionally replaces the row at key. ttl is the zero Time for
	// no expiry.
	Put(ctx context.Context, key string, fields Fields, ttl time.Time) error

	// Update atomically applies mutations to key's row iff precondition
	// holds (a zero-value Precondition with Kind CondFieldAbsent and an
	// empty Field means "no precondition"). Returns the row after the
	// update, or ErrConditionFailed. ttl, if non-zero, is set on the row as
	// part of the same atomic operation.
	Update(ctx context.Context, key string, mutations []Mutation, cond Precondition, ttl time.Time) (Row, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns every row whose key has the given prefix and for which
	// filter returns true. filter may be nil to mean "match all". Rows are
	// returned eagerly in an implementation-defined order; callers that
	// need ordering by a field (C4's ListActive) sort the result themselves.
	Scan(ctx context.Context, prefix string, filter func(Row) bool) ([]Row, error)
}
