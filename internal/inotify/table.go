package inotify

import (
	"path/filepath"
	"sort"
	"strings"
)

// WatchTable maps watched paths to watch descriptors and back. It is not
// safe for concurrent use; Session guards it with its lock.
type WatchTable struct {
	byPath   map[string]int32
	byHandle map[int32]string
}

func NewWatchTable() *WatchTable {
	return &WatchTable{
		byPath:   make(map[string]int32),
		byHandle: make(map[int32]string),
	}
}

// Put records path under wd. The kernel returns the same wd when an inode is
// watched twice, so any previous path for wd, and any previous wd for path,
// is dropped to keep the mapping one-to-one.
func (t *WatchTable) Put(path string, wd int32) {
	if old, ok := t.byHandle[wd]; ok && old != path {
		delete(t.byPath, old)
	}
	if old, ok := t.byPath[path]; ok && old != wd {
		delete(t.byHandle, old)
	}
	t.byPath[path] = wd
	t.byHandle[wd] = path
}

func (t *WatchTable) Handle(path string) (int32, bool) {
	wd, ok := t.byPath[path]
	return wd, ok
}

func (t *WatchTable) Path(wd int32) (string, bool) {
	path, ok := t.byHandle[wd]
	return path, ok
}

func (t *WatchTable) Delete(path string) (int32, bool) {
	wd, ok := t.byPath[path]
	if !ok {
		return 0, false
	}
	delete(t.byPath, path)
	delete(t.byHandle, wd)
	return wd, true
}

func (t *WatchTable) DeleteHandle(wd int32) (string, bool) {
	path, ok := t.byHandle[wd]
	if !ok {
		return "", false
	}
	delete(t.byHandle, wd)
	delete(t.byPath, path)
	return path, true
}

// Subtree returns root and every watched path beneath it, sorted.
func (t *WatchTable) Subtree(root string) []string {
	var out []string
	for path := range t.byPath {
		if isWithin(root, path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// DeleteTree drops root and everything beneath it and returns the handles
// that were removed, keyed by path.
func (t *WatchTable) DeleteTree(root string) map[string]int32 {
	removed := make(map[string]int32)
	for _, path := range t.Subtree(root) {
		wd, _ := t.Delete(path)
		removed[path] = wd
	}
	return removed
}

// Rename re-keys oldRoot and its sub-tree under newRoot. Watch descriptors
// follow the inode, so only the paths change.
func (t *WatchTable) Rename(oldRoot, newRoot string) int {
	moved := t.Subtree(oldRoot)
	handles := make([]int32, len(moved))
	for i, path := range moved {
		handles[i], _ = t.Delete(path)
	}
	for i, path := range moved {
		t.Put(newRoot+strings.TrimPrefix(path, oldRoot), handles[i])
	}
	return len(moved)
}

func (t *WatchTable) Len() int { return len(t.byPath) }

// Paths returns every watched path, sorted.
func (t *WatchTable) Paths() []string {
	out := make([]string, 0, len(t.byPath))
	for path := range t.byPath {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func (t *WatchTable) Handles() []int32 {
	out := make([]int32, 0, len(t.byHandle))
	for wd := range t.byHandle {
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isWithin(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
