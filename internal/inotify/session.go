package inotify

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Hara602/treewatch/internal/sysutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// minBufferSize holds one record with the longest possible name; a smaller
// read fails with EINVAL.
const minBufferSize = HeaderSize + 256

// Options configure a Session.
type Options struct {
	Recursive   bool
	Mask        Mask // defaults to InAllEvents
	NonBlocking bool
	Facility    Facility // defaults to Native()
	Logger      *zap.Logger
}

// Event is a Record resolved against the watch table. Path is the watched
// directory joined with Name, or empty when the watch descriptor is no
// longer in the table.
type Event struct {
	Record
	Path string
}

// Session owns one inotify descriptor and the watches of one observed root.
// Table mutations and lookups are serialized by mu; reads and waits on the
// descriptor are not, so Close must not race a Read or Wait in progress.
type Session struct {
	facility    Facility
	fd          int
	path        string
	mask        Mask
	recursive   bool
	nonBlocking bool
	logger      *zap.Logger

	mu     sync.Mutex
	table  *WatchTable
	closed bool
}

// NewSession opens a descriptor and watches path, and every directory below
// it when opts.Recursive is set.
func NewSession(path string, opts Options) (*Session, error) {
	if opts.Facility == nil {
		opts.Facility = Native()
	}
	if opts.Mask == 0 {
		opts.Mask = InAllEvents
	}
	if opts.Logger == nil {
		opts.Logger = sysutil.Log.Named("inotify")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fd, err := opts.Facility.Init(opts.NonBlocking)
	if err != nil {
		return nil, err
	}

	s := &Session{
		facility:    opts.Facility,
		fd:          fd,
		path:        abs,
		mask:        opts.Mask,
		recursive:   opts.Recursive,
		nonBlocking: opts.NonBlocking,
		logger:      opts.Logger.With(zap.String("root", abs)),
		table:       NewWatchTable(),
	}
	if err := s.AddDirectoryWatch(abs, opts.Recursive); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.logger.Debug("session opened",
		zap.Int("fd", fd),
		zap.Bool("recursive", opts.Recursive),
		zap.Int("watches", s.Len()))
	return s, nil
}

func (s *Session) Path() string         { return s.path }
func (s *Session) Mask() Mask           { return s.mask }
func (s *Session) Recursive() bool      { return s.recursive }
func (s *Session) NonBlocking() bool    { return s.nonBlocking }
func (s *Session) Fd() int              { return s.fd }
func (s *Session) IsRoot(p string) bool { return p == s.path }

// AddDirectoryWatch watches the directory at path and, when recursive, every
// directory beneath it in pre-order. Symbolic links are not followed.
// Subdirectories removed while the walk is in progress are skipped.
func (s *Session) AddDirectoryWatch(path string, recursive bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}

	if err := s.addWatch(path, s.mask|InOnlyDir); err != nil {
		return err
	}
	if !recursive {
		return nil
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			s.logger.Warn("skipping unreadable directory", zap.String("path", p), zap.Error(err))
			return filepath.SkipDir
		}
		if p == path || !d.IsDir() {
			return nil
		}
		if err := s.addWatch(p, s.mask|InOnlyDir|InDontFollow); err != nil {
			if IsVanished(err) {
				return filepath.SkipDir
			}
			return err
		}
		return nil
	})
}

// AddWatch watches a single path with the session mask.
func (s *Session) AddWatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return s.addWatch(abs, s.mask)
}

func (s *Session) addWatch(path string, mask Mask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	wd, err := s.facility.AddWatch(s.fd, path, mask)
	if err != nil {
		return err
	}
	s.table.Put(path, wd)
	return nil
}

// RemoveWatch stops watching path. It fails with ErrNotWatched, leaving the
// table untouched, when path has no watch.
func (s *Session) RemoveWatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	wd, ok := s.table.Delete(abs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatched, abs)
	}
	return s.facility.RemoveWatch(s.fd, wd)
}

// RemoveTree removes the watches on path and every watched path below it.
// Watches the kernel already dropped are not reported.
func (s *Session) RemoveTree(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	var errs error
	for p, wd := range s.table.DeleteTree(path) {
		if err := s.facility.RemoveWatch(s.fd, wd); err != nil && !IsVanished(err) {
			errs = multierr.Append(errs, fmt.Errorf("remove watch %s: %w", p, err))
		}
	}
	return errs
}

// ForgetHandle drops wd from the table without touching the kernel, for
// watches the kernel has already released (IN_IGNORED).
func (s *Session) ForgetHandle(wd int32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.DeleteHandle(wd)
}

// ForgetTree drops path and its sub-tree from the table without touching the
// kernel. Used for deleted directories whose watches die with them.
func (s *Session) ForgetTree(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table.DeleteTree(path))
}

// RenameTree re-keys a moved directory and its sub-tree.
func (s *Session) RenameTree(oldPath, newPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Rename(oldPath, newPath)
}

func (s *Session) Handle(path string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Handle(path)
}

// Watches returns every watched path, sorted.
func (s *Session) Watches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Paths()
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Len()
}

// Resolve attaches the absolute path to rec.
func (s *Session) Resolve(rec Record) Event {
	s.mu.Lock()
	dir, ok := s.table.Path(rec.Wd)
	s.mu.Unlock()

	ev := Event{Record: rec}
	if !ok {
		return ev
	}
	ev.Path = dir
	if rec.Name != "" {
		ev.Path = filepath.Join(dir, rec.Name)
	}
	return ev
}

// Wait blocks until the descriptor has data or timeout elapses.
func (s *Session) Wait(timeout time.Duration) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	return s.facility.Wait(s.fd, timeout)
}

// ReadRecords performs one read and decodes it. A non-blocking descriptor
// with nothing queued yields an empty batch.
func (s *Session) ReadRecords(bufferSize int) ([]Record, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	switch {
	case bufferSize <= 0:
		bufferSize = DefaultBufferSize
	case bufferSize < minBufferSize:
		bufferSize = minBufferSize
	}
	buf := make([]byte, bufferSize)
	n, err := s.facility.Read(s.fd, buf)
	if err != nil {
		if isTransient(err) {
			return nil, nil
		}
		return nil, err
	}
	return Decode(buf[:n]), nil
}

// ReadEvents performs one read. Paths are resolved as the sequence is
// consumed, so table changes made between items are visible to later ones.
func (s *Session) ReadEvents(bufferSize int) (iter.Seq[Event], error) {
	records, err := s.ReadRecords(bufferSize)
	if err != nil {
		return nil, err
	}
	return func(yield func(Event) bool) {
		for _, rec := range records {
			if !yield(s.Resolve(rec)) {
				return
			}
		}
	}, nil
}

// Close removes every watch and closes the descriptor. A failed removal is
// logged and collected but does not stop the others; watches the kernel has
// already dropped are not failures. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs error
	for _, wd := range s.table.Handles() {
		path, _ := s.table.DeleteHandle(wd)
		if err := s.facility.RemoveWatch(s.fd, wd); err != nil {
			if IsVanished(err) {
				// Released by the kernel; its IN_IGNORED was never read.
				s.logger.Debug("watch already gone", zap.String("path", path))
				continue
			}
			s.logger.Warn("remove watch failed", zap.String("path", path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("remove watch %s: %w", path, err))
		}
	}
	if err := s.facility.Close(s.fd); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.logger.Debug("session closed", zap.Int("fd", s.fd))
	return errs
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
