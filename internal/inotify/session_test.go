package inotify_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"

	"github.com/Hara602/treewatch/internal/inotify"
	"github.com/Hara602/treewatch/internal/inotify/inotifytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

// makeTree creates dirs (relative to a fresh temp dir) plus a file in each.
func makeTree(t *testing.T, dirs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range dirs {
		p := filepath.Join(root, d)
		require.NoError(t, os.MkdirAll(p, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(p, "file.txt"), []byte("x"), 0o644))
	}
	return root
}

func walkDirs(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func newSession(t *testing.T, fac *inotifytest.Facility, root string, recursive bool) *inotify.Session {
	t.Helper()
	s, err := inotify.NewSession(root, inotify.Options{Recursive: recursive, Facility: fac, NonBlocking: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSessionWatches(t *testing.T) {
	tests := []struct {
		name      string
		recursive bool
	}{
		{name: "flat", recursive: false},
		{name: "recursive", recursive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := makeTree(t, "a", "a/b", "a/b/c", "d")
			fac := inotifytest.New()
			s := newSession(t, fac, root, tt.recursive)

			if tt.recursive {
				assert.Equal(t, walkDirs(t, root), s.Watches())
			} else {
				assert.Equal(t, []string{root}, s.Watches())
			}
			assert.Len(t, fac.Watches(s.Fd()), s.Len())
			assert.True(t, s.NonBlocking())
			assert.Equal(t, inotify.InAllEvents, s.Mask())
		})
	}
}

func TestNewSessionSkipsSymlinkedDirectories(t *testing.T) {
	root := makeTree(t, "real")
	outside := makeTree(t, "elsewhere")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	s := newSession(t, inotifytest.New(), root, true)
	assert.Equal(t, []string{root, filepath.Join(root, "real")}, s.Watches())
}

func TestNewSessionNotADirectory(t *testing.T) {
	root := makeTree(t)
	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	fac := inotifytest.New()
	_, err := inotify.NewSession(file, inotify.Options{Facility: fac})
	assert.ErrorIs(t, err, inotify.ErrNotDirectory)

	_, err = inotify.NewSession(filepath.Join(root, "missing"), inotify.Options{Facility: fac})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNewSessionClosesDescriptorOnFailure(t *testing.T) {
	root := makeTree(t, "a")
	fac := inotifytest.New()
	fac.FailAdd(filepath.Join(root, "a"), &inotify.NativeError{Op: "inotify_add_watch", Errno: syscall.ENOSPC})

	_, err := inotify.NewSession(root, inotify.Options{Recursive: true, Facility: fac})
	var nerr *inotify.NativeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, syscall.ENOSPC, nerr.Errno)
	assert.True(t, fac.Closed(101))
}

func TestSessionAddDirectoryWatchRejectsFiles(t *testing.T) {
	root := makeTree(t, "a")
	s := newSession(t, inotifytest.New(), root, false)

	err := s.AddDirectoryWatch(filepath.Join(root, "a", "file.txt"), false)
	assert.ErrorIs(t, err, inotify.ErrNotDirectory)
	assert.Equal(t, []string{root}, s.Watches(), "other watches are unaffected")
}

func TestSessionRemoveWatch(t *testing.T) {
	root := makeTree(t, "a", "b")
	fac := inotifytest.New()
	s := newSession(t, fac, root, true)

	require.NoError(t, s.RemoveWatch(filepath.Join(root, "a")))
	assert.Equal(t, []string{root, filepath.Join(root, "b")}, s.Watches())
	assert.Len(t, fac.Watches(s.Fd()), 2)

	before := s.Watches()
	err := s.RemoveWatch(filepath.Join(root, "a"))
	assert.ErrorIs(t, err, inotify.ErrNotWatched)
	assert.Equal(t, before, s.Watches())
}

func TestSessionAddWatchFile(t *testing.T) {
	root := makeTree(t, "a")
	s := newSession(t, inotifytest.New(), root, false)

	file := filepath.Join(root, "a", "file.txt")
	require.NoError(t, s.AddWatch(file))
	_, ok := s.Handle(file)
	assert.True(t, ok)
}

func TestSessionCloseToleratesPartialFailure(t *testing.T) {
	root := makeTree(t, "a", "b", "c")
	fac := inotifytest.New()
	s, err := inotify.NewSession(root, inotify.Options{Recursive: true, Facility: fac})
	require.NoError(t, err)
	fd := s.Fd()

	boom := errors.New("rm failed")
	fac.FailRemove(filepath.Join(root, "b"), boom)

	err = s.Close()
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)

	assert.Equal(t, 4, fac.RemoveCalls(), "every handle got a removal attempt")
	assert.True(t, fac.Closed(fd))
	assert.Zero(t, s.Len())
}

func TestSessionDoubleClose(t *testing.T) {
	root := makeTree(t, "a")
	fac := inotifytest.New()
	s, err := inotify.NewSession(root, inotify.Options{Recursive: true, Facility: fac})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	calls := fac.RemoveCalls()
	require.NoError(t, s.Close())
	assert.Equal(t, calls, fac.RemoveCalls())

	assert.ErrorIs(t, s.AddWatch(root), inotify.ErrSessionClosed)
	assert.ErrorIs(t, s.RemoveWatch(root), inotify.ErrSessionClosed)
	_, err = s.ReadRecords(0)
	assert.ErrorIs(t, err, inotify.ErrSessionClosed)
}

func TestSessionReadEvents(t *testing.T) {
	root := makeTree(t, "a")
	fac := inotifytest.New()
	s := newSession(t, fac, root, true)
	rootWd := fac.Wd(s.Fd(), root)
	subWd := fac.Wd(s.Fd(), filepath.Join(root, "a"))

	// nothing queued on a non-blocking descriptor
	records, err := s.ReadRecords(0)
	require.NoError(t, err)
	assert.Empty(t, records)

	fac.Push(s.Fd(),
		inotify.Record{Wd: rootWd, Mask: inotify.InCreate, Name: "new.txt"},
		inotify.Record{Wd: subWd, Mask: inotify.InModify, Name: "file.txt"},
		inotify.Record{Wd: rootWd, Mask: inotify.InAttrib},
		inotify.Record{Wd: 999, Mask: inotify.InModify, Name: "stale"},
	)
	events, err := s.ReadEvents(0)
	require.NoError(t, err)

	var paths []string
	for ev := range events {
		paths = append(paths, ev.Path)
	}
	assert.Equal(t, []string{
		filepath.Join(root, "new.txt"),
		filepath.Join(root, "a", "file.txt"),
		root,
		"",
	}, paths)
}

func TestSessionReadEventsResolvesLazily(t *testing.T) {
	root := makeTree(t, "old")
	fac := inotifytest.New()
	s := newSession(t, fac, root, true)
	subWd := fac.Wd(s.Fd(), filepath.Join(root, "old"))

	fac.Push(s.Fd(),
		inotify.Record{Wd: subWd, Mask: inotify.InModify, Name: "x"},
		inotify.Record{Wd: subWd, Mask: inotify.InModify, Name: "y"},
	)
	events, err := s.ReadEvents(0)
	require.NoError(t, err)

	var paths []string
	for ev := range events {
		paths = append(paths, ev.Path)
		s.RenameTree(filepath.Join(root, "old"), filepath.Join(root, "new"))
	}
	assert.Equal(t, []string{filepath.Join(root, "old", "x"), filepath.Join(root, "new", "y")}, paths)
}

func TestSessionReadError(t *testing.T) {
	root := makeTree(t)
	fac := inotifytest.New()
	s := newSession(t, fac, root, false)

	fac.FailRead(s.Fd(), &inotify.NativeError{Op: "read", Errno: syscall.EIO})
	_, err := s.ReadRecords(0)
	assert.ErrorIs(t, err, syscall.EIO)
}

func TestSessionTreeOperations(t *testing.T) {
	root := makeTree(t, "a", "a/b", "c")
	fac := inotifytest.New()
	s := newSession(t, fac, root, true)

	assert.Equal(t, 2, s.ForgetTree(filepath.Join(root, "a")))
	assert.Equal(t, []string{root, filepath.Join(root, "c")}, s.Watches())
	assert.Len(t, fac.Watches(s.Fd()), 4, "forgetting leaves the kernel alone")

	require.NoError(t, s.RemoveTree(filepath.Join(root, "c")))
	assert.Equal(t, []string{root}, s.Watches())
	assert.Len(t, fac.Watches(s.Fd()), 3)

	wd := fac.Wd(s.Fd(), root)
	path, ok := s.ForgetHandle(wd)
	assert.True(t, ok)
	assert.Equal(t, root, path)
	assert.Zero(t, s.Len())
}

func TestSessionCloseIgnoresWatchesAlreadyDropped(t *testing.T) {
	root := makeTree(t, "gone", "gone/deep", "broken")
	fac := inotifytest.New()
	s, err := inotify.NewSession(root, inotify.Options{Recursive: true, Facility: fac})
	require.NoError(t, err)

	dropped := &inotify.NativeError{Op: "inotify_rm_watch", Errno: syscall.EINVAL}
	fac.FailRemove(filepath.Join(root, "gone"), dropped)
	fac.FailRemove(filepath.Join(root, "gone", "deep"), dropped)
	boom := errors.New("rm failed")
	fac.FailRemove(filepath.Join(root, "broken"), boom)

	err = s.Close()
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.True(t, fac.Closed(s.Fd()))
}
