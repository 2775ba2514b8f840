// Package inotifytest provides an in-memory inotify.Facility for tests that
// need scripted event batches or injected syscall failures.
package inotifytest

import (
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/Hara602/treewatch/internal/inotify"
)

type descriptor struct {
	nonBlocking bool
	closed      bool
	watches     map[int32]string
	batches     [][]byte
	readErr     error
	ready       chan struct{}
}

// Facility records every watch per descriptor and serves reads from batches
// queued with Push. It is safe for concurrent use.
type Facility struct {
	mu          sync.Mutex
	nextFd      int
	nextWd      int32
	fds         map[int]*descriptor
	failAdd     map[string]error
	failRemove  map[string]error
	removeCalls int
}

func New() *Facility {
	return &Facility{
		nextFd:     100,
		fds:        make(map[int]*descriptor),
		failAdd:    make(map[string]error),
		failRemove: make(map[string]error),
	}
}

var _ inotify.Facility = (*Facility)(nil)

func (f *Facility) Init(nonBlocking bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextFd++
	f.fds[f.nextFd] = &descriptor{
		nonBlocking: nonBlocking,
		watches:     make(map[int32]string),
		ready:       make(chan struct{}, 1),
	}
	return f.nextFd, nil
}

func (f *Facility) AddWatch(fd int, path string, mask inotify.Mask) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.open(fd, "inotify_add_watch")
	if err != nil {
		return -1, err
	}
	if err := f.failAdd[path]; err != nil {
		return -1, err
	}
	for wd, p := range d.watches {
		if p == path {
			return wd, nil
		}
	}
	f.nextWd++
	d.watches[f.nextWd] = path
	return f.nextWd, nil
}

func (f *Facility) RemoveWatch(fd int, wd int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeCalls++
	d, err := f.open(fd, "inotify_rm_watch")
	if err != nil {
		return err
	}
	path, ok := d.watches[wd]
	if !ok {
		return &inotify.NativeError{Op: "inotify_rm_watch", Errno: syscall.EINVAL}
	}
	if err := f.failRemove[path]; err != nil {
		return err
	}
	delete(d.watches, wd)
	return nil
}

// Read hands out one pushed batch per call. With nothing queued a
// non-blocking descriptor fails with EAGAIN and a blocking one waits.
func (f *Facility) Read(fd int, buf []byte) (int, error) {
	for {
		f.mu.Lock()
		d, err := f.open(fd, "read")
		if err != nil {
			f.mu.Unlock()
			return 0, err
		}
		if d.readErr != nil {
			err := d.readErr
			f.mu.Unlock()
			return 0, err
		}
		if len(d.batches) > 0 {
			batch := d.batches[0]
			d.batches = d.batches[1:]
			f.mu.Unlock()
			return copy(buf, batch), nil
		}
		nonBlocking, ready := d.nonBlocking, d.ready
		f.mu.Unlock()

		if nonBlocking {
			return 0, &inotify.NativeError{Op: "read", Errno: syscall.EAGAIN}
		}
		<-ready
	}
}

func (f *Facility) Wait(fd int, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	d, err := f.open(fd, "poll")
	if err != nil {
		f.mu.Unlock()
		return false, err
	}
	if len(d.batches) > 0 || d.readErr != nil {
		f.mu.Unlock()
		return true, nil
	}
	ready := d.ready
	f.mu.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ready:
		return true, nil
	case <-expired:
		return false, nil
	}
}

func (f *Facility) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.open(fd, "close")
	if err != nil {
		return err
	}
	d.closed = true
	d.watches = make(map[int32]string)
	return nil
}

// Push queues records as a single read batch on fd.
func (f *Facility) Push(fd int, records ...inotify.Record) {
	var batch []byte
	for _, rec := range records {
		batch = append(batch, inotify.Encode(rec)...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.fds[fd]
	d.batches = append(d.batches, batch)
	f.signal(d)
}

// FailRead makes every subsequent read on fd return err.
func (f *Facility) FailRead(fd int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.fds[fd]
	d.readErr = err
	f.signal(d)
}

// FailAdd makes adding a watch on path return err.
func (f *Facility) FailAdd(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAdd[path] = err
}

// FailRemove makes removing the watch on path return err.
func (f *Facility) FailRemove(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemove[path] = err
}

// Watches returns the live watches on fd, keyed by watch descriptor.
func (f *Facility) Watches(fd int) map[int32]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]string)
	if d, ok := f.fds[fd]; ok {
		for wd, p := range d.watches {
			out[wd] = p
		}
	}
	return out
}

// Wd returns the watch descriptor for path on fd.
func (f *Facility) Wd(fd int, path string) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.fds[fd]
	if !ok {
		return -1
	}
	for wd, p := range d.watches {
		if p == path {
			return wd
		}
	}
	return -1
}

// Descriptor returns the open descriptor watching path, or -1.
func (f *Facility) Descriptor(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, d := range f.fds {
		if d.closed {
			continue
		}
		for _, p := range d.watches {
			if p == path {
				return fd
			}
		}
	}
	return -1
}

// Descriptors returns every open descriptor watching path, in creation
// order.
func (f *Facility) Descriptors(path string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for fd, d := range f.fds {
		if d.closed {
			continue
		}
		for _, p := range d.watches {
			if p == path {
				out = append(out, fd)
				break
			}
		}
	}
	sort.Ints(out)
	return out
}

func (f *Facility) Closed(fd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.fds[fd]
	return ok && d.closed
}

func (f *Facility) RemoveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeCalls
}

func (f *Facility) open(fd int, op string) (*descriptor, error) {
	d, ok := f.fds[fd]
	if !ok || d.closed {
		return nil, &inotify.NativeError{Op: op, Errno: syscall.EBADF}
	}
	return d, nil
}

func (f *Facility) signal(d *descriptor) {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}
