package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Evaler abstracts the minimal client surface needed for conditional
// updates, grounded on internal/ratelimiter/persistence/redis.go's
// RedisEvaler. A github.com/redis/go-redis/v9 *redis.Client does not satisfy
// it directly; GoRedisEvaler in redisclient.go adapts one.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, values ...any) error
	Del(ctx context.Context, keys ...string) error
	ExpireAt(ctx context.Context, key string, at time.Time) error
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
}

// RedisStore implements Store against Redis hashes, one hash per logical
// row. Expiry is Redis's own key-level TTL (EXPIREAT on the hash); no
// expiry field is stored inside the hash. The conditional
// update is a single Lua EVAL so the precondition check and the mutation
// apply atomically, mirroring RedisPersister's SETNX+HINCRBY+EXPIRE script.
type RedisStore struct {
	client    Evaler
	keyPrefix string
}

// NewRedisStore wraps client. keyPrefix namespaces every row key, e.g. to
// separate multiple deployments sharing one Redis instance.
func NewRedisStore(client Evaler, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) hashKey(key string) string {
	if s.keyPrefix == "" {
		return "admitcore:" + key
	}
	return s.keyPrefix + ":" + key
}

// updateScript performs the precondition check and mutation application
// atomically. ARGV layout:
//
//	ARGV[1] = precondition kind: none|absent|present|lt|lt_or_absent|at_least
//	ARGV[2] = precondition field
//	ARGV[3] = precondition bound (numeric string, empty if unused)
//	ARGV[4] = ttl unix seconds (0 = leave unchanged)
//	ARGV[5..] = mutation triples: op, field, value  (op: set|incr|ifabsent)
//
// Returns a flat field/value array via redis.call('HGETALL', ...), or the
// sentinel {err="condition_failed"} on precondition failure.
const updateScript = `
local key = KEYS[1]
local condKind = ARGV[1]
local condField = ARGV[2]
local condBound = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local function getNum(field)
  local v = redis.call('HGET', key, field)
  if v == false then return nil end
  return tonumber(v)
end

local exists = redis.call('HEXISTS', key, condField) == 1
local ok = true
if condKind == 'absent' then
  ok = not exists
elseif condKind == 'present' then
  ok = exists
elseif condKind == 'lt' then
  local cur = getNum(condField)
  ok = exists and cur ~= nil and cur < condBound
elseif condKind == 'lt_or_absent' then
  if not exists then
    ok = true
  else
    local cur = getNum(condField)
    ok = cur ~= nil and cur < condBound
  end
elseif condKind == 'at_least' then
  if not exists then
    ok = false
  else
    local cur = getNum(condField)
    ok = cur ~= nil and cur >= condBound
  end
end

if not ok then
  return redis.error_reply('condition_failed')
end

local i = 5
while ARGV[i] ~= nil do
  local op = ARGV[i]
  local field = ARGV[i+1]
  local value = ARGV[i+2]
  if op == 'set' then
    redis.call('HSET', key, field, value)
  elseif op == 'incr' then
    redis.call('HINCRBY', key, field, tonumber(value))
  elseif op == 'ifabsent' then
    if redis.call('HEXISTS', key, field) == 0 then
      redis.call('HSET', key, field, value)
    end
  end
  i = i + 3
end

if ttl and ttl > 0 then
  redis.call('EXPIREAT', key, ttl)
end

return redis.call('HGETALL', key)
`

func (s *RedisStore) Get(ctx context.Context, key string) (Row, error) {
	m, err := s.client.HGetAll(ctx, s.hashKey(key))
	if err != nil {
		return Row{}, fmt.Errorf("%w: hgetall %s: %v", ErrStoreTransient, key, err)
	}
	if len(m) == 0 {
		return Row{}, ErrNotFound
	}
	return Row{Key: key, Fields: decodeStrings(m)}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, fields Fields, ttl time.Time) error {
	hk := s.hashKey(key)
	if err := s.client.Del(ctx, hk); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreTransient, key, err)
	}
	args := encodeFields(fields)
	if len(args) > 0 {
		if err := s.client.HSet(ctx, hk, args...); err != nil {
			return fmt.Errorf("%w: hset %s: %v", ErrStoreTransient, key, err)
		}
	}
	if !ttl.IsZero() {
		if err := s.client.ExpireAt(ctx, hk, ttl); err != nil {
			return fmt.Errorf("%w: expireat %s: %v", ErrStoreTransient, key, err)
		}
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, mutations []Mutation, cond Precondition, ttl time.Time) (Row, error) {
	condKind := "none"
	switch cond.Kind {
	case CondFieldAbsent:
		if cond.Field != "" {
			condKind = "absent"
		}
	case CondFieldPresent:
		condKind = "present"
	case CondNumericLess:
		condKind = "lt"
	case CondNumericLessOr:
		condKind = "lt_or_absent"
	case CondNumericAtLeast:
		condKind = "at_least"
	}
	bound := ""
	if n, ok := toInt64(cond.Value); ok {
		bound = strconv.FormatInt(n, 10)
	}
	ttlSecs := int64(0)
	if !ttl.IsZero() {
		ttlSecs = ttl.Unix()
	}

	args := []any{condKind, cond.Field, bound, ttlSecs}
	for _, m := range mutations {
		var op string
		switch m.Op {
		case OpSet:
			op = "set"
		case OpIncrBy:
			op = "incr"
		case OpIfNotExists:
			op = "ifabsent"
		}
		args = append(args, op, m.Field, fmt.Sprint(m.Value))
	}

	res, err := s.client.Eval(ctx, updateScript, []string{s.hashKey(key)}, args...)
	if err != nil {
		if isConditionFailed(err) {
			return Row{}, ErrConditionFailed
		}
		return Row{}, fmt.Errorf("%w: update %s: %v", ErrStoreTransient, key, err)
	}
	fields, err := decodeEvalHash(res)
	if err != nil {
		return Row{}, fmt.Errorf("%w: decode %s: %v", ErrStoreFatal, key, err)
	}
	return Row{Key: key, Fields: fields}, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.hashKey(key)); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreTransient, key, err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string, filter func(Row) bool) ([]Row, error) {
	keys, err := s.client.ScanKeys(ctx, s.hashKey(prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrStoreTransient, prefix, err)
	}
	var out []Row
	for _, hk := range keys {
		key := stripPrefix(hk, s.keyPrefix)
		row, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

func stripPrefix(hashKey, keyPrefix string) string {
	p := "admitcore:"
	if keyPrefix != "" {
		p = keyPrefix + ":"
	}
	if len(hashKey) > len(p) {
		return hashKey[len(p):]
	}
	return hashKey
}

func encodeFields(fields Fields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, fmt.Sprint(v))
	}
	return args
}

func decodeStrings(m map[string]string) Fields {
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = v
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}

func decodeEvalHash(res any) (Fields, error) {
	arr, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected eval result type %T", res)
	}
	out := make(Fields, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k := fmt.Sprint(arr[i])
		vs := fmt.Sprint(arr[i+1])
		if n, err := strconv.ParseInt(vs, 10, 64); err == nil {
			out[k] = n
		} else {
			out[k] = vs
		}
	}
	return out, nil
}

func isConditionFailed(err error) bool {
	return err != nil && (err.Error() == "condition_failed" || containsConditionFailed(err.Error()))
}

func containsConditionFailed(s string) bool {
	for i := 0; i+len("condition_failed") <= len(s); i++ {
		if s[i:i+len("condition_failed")] == "condition_failed" {
			return true
		}
	}
	return false
}
