package workitem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harperio/admitcore/internal/clock"
)

type memItem struct {
	area         string
	lastModified time.Time
	size         int64
	retryCount   int
}

// MemStore is an in-memory Store for unit and scenario tests (C, E, F): a
// plain map guarded by a single mutex.
type MemStore struct {
	mu    sync.Mutex
	items map[string]*memItem // subPath -> item (items live in exactly one area at a time)
	clock clock.Clock
}

func NewMemStore(clk clock.Clock) *MemStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemStore{items: make(map[string]*memItem), clock: clk}
}

// Put seeds subPath into area with the given mtime (List orders by mtime,
// oldest first, regardless of Put order); test helper, not part of the
// Store interface.
func (m *MemStore) Put(area, subPath string, mtime time.Time, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[subPath] = &memItem{area: area, lastModified: mtime, size: size}
}

func (m *MemStore) List(ctx context.Context, area string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for subPath, it := range m.items {
		if it.area != area {
			continue
		}
		out = append(out, Item{
			Area: area, SubPath: subPath, LastModified: it.lastModified,
			Size: it.size, RetryCount: it.retryCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	return out, nil
}

func (m *MemStore) Move(ctx context.Context, srcArea, dstArea, subPath string, retryCount *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[subPath]
	if !ok || it.area != srcArea {
		return ErrNotFound
	}
	it.area = dstArea
	it.lastModified = m.clock.Now()
	if retryCount != nil {
		it.retryCount = *retryCount
	}
	return nil
}

func (m *MemStore) GetRetryCount(ctx context.Context, area, subPath string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[subPath]
	if !ok {
		return 0, nil
	}
	return it.retryCount, nil
}

func (m *MemStore) DeleteWorkingDir(ctx context.Context, subPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(subPath, "/")
	for k := range m.items {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			if m.items[k].area == AreaWorking {
				delete(m.items, k)
			}
		}
	}
	return nil
}

// FailingMove wraps a Store and makes the Nth Move call (1-indexed) fail,
// for exercising the "stop admission on first failure" behavior (spec.md
// §4.5 step 5).
type FailingMove struct {
	Store
	FailAt int
	calls  int
	mu     sync.Mutex
}

func (f *FailingMove) Move(ctx context.Context, srcArea, dstArea, subPath string, retryCount *int) error {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls == f.FailAt
	f.mu.Unlock()
	if shouldFail {
		return ErrNotFound
	}
	return f.Store.Move(ctx, srcArea, dstArea, subPath, retryCount)
}
