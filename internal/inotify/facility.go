package inotify

import "time"

// Facility is the kernel side of a session: the four inotify primitives plus
// the poll used to wait for readiness. Every failure is returned as a
// *NativeError.
type Facility interface {
	Init(nonBlocking bool) (int, error)
	AddWatch(fd int, path string, mask Mask) (int32, error)
	RemoveWatch(fd int, wd int32) error
	Read(fd int, buf []byte) (int, error)
	// Wait blocks until fd is readable or timeout elapses. A negative
	// timeout waits forever.
	Wait(fd int, timeout time.Duration) (bool, error)
	Close(fd int) error
}
