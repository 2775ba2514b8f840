package inotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatchTablePutLookup(t *testing.T) {
	tbl := NewWatchTable()
	tbl.Put("/w", 1)
	tbl.Put("/w/a", 2)

	wd, ok := tbl.Handle("/w/a")
	assert.True(t, ok)
	assert.Equal(t, int32(2), wd)

	path, ok := tbl.Path(1)
	assert.True(t, ok)
	assert.Equal(t, "/w", path)

	_, ok = tbl.Handle("/nope")
	assert.False(t, ok)
	assert.Equal(t, 2, tbl.Len())
}

func TestWatchTableStaysBijective(t *testing.T) {
	tbl := NewWatchTable()
	tbl.Put("/w/a", 1)
	// same inode reached under another name
	tbl.Put("/w/b", 1)

	_, ok := tbl.Handle("/w/a")
	assert.False(t, ok)
	path, _ := tbl.Path(1)
	assert.Equal(t, "/w/b", path)

	// path re-watched, kernel hands out a new descriptor
	tbl.Put("/w/b", 2)
	_, ok = tbl.Path(1)
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, []int32{2}, tbl.Handles())
}

func TestWatchTableDelete(t *testing.T) {
	tbl := NewWatchTable()
	tbl.Put("/w", 1)
	tbl.Put("/w/a", 2)

	wd, ok := tbl.Delete("/w/a")
	assert.True(t, ok)
	assert.Equal(t, int32(2), wd)
	assert.Equal(t, []string{"/w"}, tbl.Paths())

	_, ok = tbl.Delete("/w/a")
	assert.False(t, ok)

	path, ok := tbl.DeleteHandle(1)
	assert.True(t, ok)
	assert.Equal(t, "/w", path)
	assert.Zero(t, tbl.Len())
}

func TestWatchTableSubtree(t *testing.T) {
	tbl := NewWatchTable()
	for i, p := range []string{"/w", "/w/a", "/w/a/b", "/w/ab", "/x"} {
		tbl.Put(p, int32(i+1))
	}

	assert.Equal(t, []string{"/w/a", "/w/a/b"}, tbl.Subtree("/w/a"))

	removed := tbl.DeleteTree("/w/a")
	assert.Equal(t, map[string]int32{"/w/a": 2, "/w/a/b": 3}, removed)
	assert.Equal(t, []string{"/w", "/w/ab", "/x"}, tbl.Paths())
}

func TestWatchTableRename(t *testing.T) {
	tbl := NewWatchTable()
	tbl.Put("/w", 1)
	tbl.Put("/w/old", 2)
	tbl.Put("/w/old/sub", 3)
	tbl.Put("/w/older", 4)

	n := tbl.Rename("/w/old", "/w/new")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"/w", "/w/new", "/w/new/sub", "/w/older"}, tbl.Paths())

	path, _ := tbl.Path(3)
	assert.Equal(t, "/w/new/sub", path)
}
