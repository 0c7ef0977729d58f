package store

import (
	"context"
	"sync"
	"time"

	"github.com/harperio/admitcore/internal/clock"
)

// managedRow wraps one logical KV row with its own mutex, mirroring
// core.managedVSA's per-key-state-under-sync.Map idiom: every row gets
// independent locking so hot keys don't contend with cold ones.
type managedRow struct {
	mu     sync.Mutex
	fields Fields
	ttl    time.Time // zero means no expiry
}

// MemStore is the in-memory reference implementation of Store, grounded on
// internal/ratelimiter/core/store.go's sync.Map-based Store: a fast-path
// Load, falling back to LoadOrStore on miss. Used by every unit test and all
// of the scenario tests (A-F); also suitable as a single-process store for
// small deployments.
type MemStore struct {
	rows  sync.Map // string -> *managedRow
	clock clock.Clock
}

// NewMemStore constructs an empty MemStore. clk may be nil to use the real
// clock.
func NewMemStore(clk clock.Clock) *MemStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemStore{clock: clk}
}

func (s *MemStore) getOrCreate(key string) *managedRow {
	if actual, ok := s.rows.Load(key); ok {
		return actual.(*managedRow)
	}
	fresh := &managedRow{}
	actual, _ := s.rows.LoadOrStore(key, fresh)
	return actual.(*managedRow)
}

func (s *MemStore) expired(r *managedRow) bool {
	return !r.ttl.IsZero() && s.clock.Now().After(r.ttl)
}

func (s *MemStore) Get(ctx context.Context, key string) (Row, error) {
	actual, ok := s.rows.Load(key)
	if !ok {
		return Row{}, ErrNotFound
	}
	r := actual.(*managedRow)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fields == nil || s.expired(r) {
		return Row{}, ErrNotFound
	}
	return Row{Key: key, Fields: cloneFields(r.fields)}, nil
}

func (s *MemStore) Put(ctx context.Context, key string, fields Fields, ttl time.Time) error {
	r := s.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = cloneFields(fields)
	r.ttl = ttl
	return nil
}

func (s *MemStore) Update(ctx context.Context, key string, mutations []Mutation, cond Precondition, ttl time.Time) (Row, error) {
	r := s.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fields == nil || s.expired(r) {
		r.fields = Fields{}
	}

	if !checkPrecondition(r.fields, cond) {
		return Row{}, ErrConditionFailed
	}

	for _, m := range mutations {
		switch m.Op {
		case OpSet:
			r.fields[m.Field] = m.Value
		case OpIfNotExists:
			if _, exists := r.fields[m.Field]; !exists {
				r.fields[m.Field] = m.Value
			}
		case OpIncrBy:
			cur, _ := toInt64(r.fields[m.Field])
			delta, _ := toInt64(m.Value)
			r.fields[m.Field] = cur + delta
		}
	}
	if !ttl.IsZero() {
		r.ttl = ttl
	}
	return Row{Key: key, Fields: cloneFields(r.fields)}, nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.rows.Delete(key)
	return nil
}

func (s *MemStore) Scan(ctx context.Context, prefix string, filter func(Row) bool) ([]Row, error) {
	var out []Row
	s.rows.Range(func(k, v any) bool {
		key := k.(string)
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			return true
		}
		r := v.(*managedRow)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fields == nil || s.expired(r) {
			return true
		}
		row := Row{Key: key, Fields: cloneFields(r.fields)}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
		return true
	})
	return out, nil
}

func checkPrecondition(fields Fields, cond Precondition) bool {
	if cond.Field == "" {
		return true
	}
	_, exists := fields[cond.Field]
	switch cond.Kind {
	case CondFieldAbsent:
		return !exists
	case CondFieldPresent:
		return exists
	case CondNumericLess:
		cur, _ := toInt64(fields[cond.Field])
		bound, _ := toInt64(cond.Value)
		return exists && cur < bound
	case CondNumericLessOr:
		if !exists {
			return true
		}
		cur, _ := toInt64(fields[cond.Field])
		bound, _ := toInt64(cond.Value)
		return cur < bound
	case CondNumericAtLeast:
		if !exists {
			return false
		}
		cur, _ := toInt64(fields[cond.Field])
		bound, _ := toInt64(cond.Value)
		return cur >= bound
	default:
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
