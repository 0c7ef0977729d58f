package workitem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FSStore is a filesystem-backed Store standing in for the S3 bucket the
// original Lambda used (list_objects_v2/copy_object/delete_object in
// original_source/lambda/pdf-retry-processor/main.py): each area is a
// subdirectory of root, moves are a single os.Rename (no fsync). retry-count is kept in
// a sidecar "<name>.retrycount" file since plain files have no custom
// attribute the way an S3 object does.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (f *FSStore) areaDir(area string) string {
	return filepath.Join(f.root, strings.TrimSuffix(area, "/"))
}

func (f *FSStore) List(ctx context.Context, area string) ([]Item, error) {
	dir := f.areaDir(area)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workitem: list %s: %w", area, err)
	}
	var out []Item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".retrycount") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rc, _ := f.GetRetryCount(ctx, area, name)
		out = append(out, Item{Area: area, SubPath: name, LastModified: info.ModTime(), Size: info.Size(), RetryCount: rc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	return out, nil
}

func (f *FSStore) Move(ctx context.Context, srcArea, dstArea, subPath string, retryCount *int) error {
	srcPath := filepath.Join(f.areaDir(srcArea), subPath)
	dstPath := filepath.Join(f.areaDir(dstArea), subPath)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("workitem: mkdir for move: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("workitem: move %s -> %s: %w", srcPath, dstPath, err)
	}
	if retryCount != nil {
		if err := f.setRetryCount(dstArea, subPath, *retryCount); err != nil {
			return err
		}
	} else if err := f.copyRetryCountSidecar(srcArea, dstArea, subPath); err != nil {
		return err
	}
	return nil
}

func (f *FSStore) GetRetryCount(ctx context.Context, area, subPath string) (int, error) {
	b, err := os.ReadFile(f.sidecarPath(area, subPath))
	if err != nil {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (f *FSStore) setRetryCount(area, subPath string, n int) error {
	path := f.sidecarPath(area, subPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644)
}

func (f *FSStore) copyRetryCountSidecar(srcArea, dstArea, subPath string) error {
	n, _ := f.GetRetryCount(context.Background(), srcArea, subPath)
	_ = os.Remove(f.sidecarPath(srcArea, subPath))
	if n == 0 {
		return nil
	}
	return f.setRetryCount(dstArea, subPath, n)
}

func (f *FSStore) sidecarPath(area, subPath string) string {
	return filepath.Join(f.areaDir(area), subPath+".retrycount")
}

func (f *FSStore) DeleteWorkingDir(ctx context.Context, subPath string) error {
	dir := filepath.Join(f.areaDir(AreaWorking), subPath)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workitem: delete working dir %s: %w", subPath, err)
	}
	return nil
}
