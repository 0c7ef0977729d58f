package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// fakeEvaler is a tiny in-process stand-in for a *redis.Client that
// interprets just enough of updateScript's ARGV contract to exercise
// RedisStore's Go-side encode/decode and error-mapping without a real
// Redis server, which the example corpus never provides a test double for.
type fakeEvaler struct {
	hashes map[string]map[string]string
}

func newFakeEvaler() *fakeEvaler {
	return &fakeEvaler{hashes: map[string]map[string]string{}}
}

func (f *fakeEvaler) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, ok := f.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (f *fakeEvaler) HSet(ctx context.Context, key string, values ...any) error {
	m, ok := f.hashes[key]
	if !ok {
		m = map[string]string{}
		f.hashes[key] = m
	}
	for i := 0; i+1 < len(values); i += 2 {
		m[values[i].(string)] = values[i+1].(string)
	}
	return nil
}

func (f *fakeEvaler) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeEvaler) ExpireAt(ctx context.Context, key string, at time.Time) error { return nil }

func (f *fakeEvaler) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range f.hashes {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func toArgInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

func (f *fakeEvaler) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	key := keys[0]
	condKind := args[0].(string)
	condField := args[1].(string)
	condBoundStr := args[2].(string)
	ttlSecs := toArgInt64(args[3])

	m, exists := f.hashes[key]
	_, fieldExists := m[condField]

	ok := true
	switch condKind {
	case "absent":
		ok = !fieldExists
	case "present":
		ok = fieldExists
	case "lt", "lt_or_absent":
		bound, _ := strconv.ParseInt(condBoundStr, 10, 64)
		if !fieldExists {
			ok = condKind == "lt_or_absent"
		} else {
			cur, _ := strconv.ParseInt(m[condField], 10, 64)
			ok = cur < bound
		}
	case "at_least":
		bound, _ := strconv.ParseInt(condBoundStr, 10, 64)
		if !fieldExists {
			ok = false
		} else {
			cur, _ := strconv.ParseInt(m[condField], 10, 64)
			ok = cur >= bound
		}
	}
	if !ok {
		return nil, errors.New("condition_failed")
	}

	if !exists {
		m = map[string]string{}
		f.hashes[key] = m
	}
	for i := 4; i+2 < len(args); i += 3 {
		op := args[i].(string)
		field := args[i+1].(string)
		value := args[i+2].(string)
		switch op {
		case "set":
			m[field] = value
		case "incr":
			cur, _ := strconv.ParseInt(m[field], 10, 64)
			delta, _ := strconv.ParseInt(value, 10, 64)
			m[field] = strconv.FormatInt(cur+delta, 10)
		case "ifabsent":
			if _, present := m[field]; !present {
				m[field] = value
			}
		}
	}
	_ = ttlSecs

	var flat []any
	for k, v := range m {
		flat = append(flat, k, v)
	}
	return flat, nil
}

func TestRedisStore_PutGet(t *testing.T) {
	s := NewRedisStore(newFakeEvaler(), "admitcore-test")
	ctx := context.Background()
	if err := s.Put(ctx, "k1", Fields{"a": int64(1)}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	row, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := row.Fields["a"].(int64); n != 1 {
		t.Fatalf("a = %d, want 1", n)
	}
}

func TestRedisStore_Update_ConditionFailed(t *testing.T) {
	s := NewRedisStore(newFakeEvaler(), "admitcore-test")
	ctx := context.Background()
	if err := s.Put(ctx, "counter", Fields{"n": int64(5)}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Update(ctx, "counter",
		[]Mutation{{Field: "n", Op: OpIncrBy, Value: int64(1)}},
		Precondition{Kind: CondNumericLessOr, Field: "n", Value: int64(5)}, time.Time{})
	if !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("err = %v, want ErrConditionFailed", err)
	}
}

func TestRedisStore_Update_Succeeds(t *testing.T) {
	s := NewRedisStore(newFakeEvaler(), "admitcore-test")
	ctx := context.Background()
	row, err := s.Update(ctx, "counter",
		[]Mutation{{Field: "n", Op: OpIfNotExists, Value: int64(0)}, {Field: "n", Op: OpIncrBy, Value: int64(1)}},
		Precondition{Kind: CondNumericLessOr, Field: "n", Value: int64(5)}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := row.Fields["n"].(int64); n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	s := NewRedisStore(newFakeEvaler(), "admitcore-test")
	ctx := context.Background()
	must(t, s.Put(ctx, "k1", Fields{"a": int64(1)}, time.Time{}))
	must(t, s.Delete(ctx, "k1"))
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
