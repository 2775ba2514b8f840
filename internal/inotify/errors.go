package inotify

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrNotWatched      = errors.New("path is not watched")
	ErrSessionClosed   = errors.New("inotify session is closed")
	ErrRootInvalidated = errors.New("watch on root directory was removed by the kernel")
	ErrUnsupported     = errors.New("inotify is not supported on this platform")
)

// NativeError is a failed inotify system call.
type NativeError struct {
	Op    string
	Path  string
	Errno syscall.Errno
	Hint  string
}

func (e *NativeError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg = fmt.Sprintf("%s: %s (errno %d)", msg, e.Errno.Error(), int(e.Errno))
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

func (e *NativeError) Unwrap() error { return e.Errno }

// newNativeError wraps err when it carries an errno; anything else is
// returned with the operation prefixed.
func newNativeError(op, path string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &NativeError{Op: op, Path: path, Errno: errno}
	}
	if path != "" {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isTransient reports errors that only mean "no data yet".
func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR)
}

// IsVanished reports add/remove failures caused by the path or watch already
// being gone, the expected outcome of racing the filesystem.
func IsVanished(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.EINVAL) || errors.Is(err, ErrNotDirectory)
}
