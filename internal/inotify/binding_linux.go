//go:build linux

package inotify

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const maxUserWatchesPath = "/proc/sys/fs/inotify/max_user_watches"

var (
	nativeOnce sync.Once
	native     *linuxFacility
)

// Native returns the process-wide inotify binding. It is created on first
// use and lives until the process exits.
func Native() Facility {
	nativeOnce.Do(func() {
		native = &linuxFacility{maxUserWatches: readLimit(maxUserWatchesPath)}
	})
	return native
}

type linuxFacility struct {
	maxUserWatches int
}

func (l *linuxFacility) Init(nonBlocking bool) (int, error) {
	flags := unix.IN_CLOEXEC
	if nonBlocking {
		flags |= unix.IN_NONBLOCK
	}
	fd, err := unix.InotifyInit1(flags)
	if err != nil {
		return -1, newNativeError("inotify_init1", "", err)
	}
	return fd, nil
}

func (l *linuxFacility) AddWatch(fd int, path string, mask Mask) (int32, error) {
	wd, err := unix.InotifyAddWatch(fd, path, uint32(mask))
	if err != nil {
		nerr := newNativeError("inotify_add_watch", path, err)
		var ne *NativeError
		if errors.Is(err, unix.ENOSPC) && l.maxUserWatches > 0 && errors.As(nerr, &ne) {
			ne.Hint = fmt.Sprintf("watch limit of %d reached, raise fs.inotify.max_user_watches", l.maxUserWatches)
		}
		return -1, nerr
	}
	return int32(wd), nil
}

func (l *linuxFacility) RemoveWatch(fd int, wd int32) error {
	if _, err := unix.InotifyRmWatch(fd, uint32(wd)); err != nil {
		return newNativeError("inotify_rm_watch", strconv.Itoa(int(wd)), err)
	}
	return nil
}

func (l *linuxFacility) Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, newNativeError("read", "", err)
	}
	return n, nil
}

func (l *linuxFacility) Wait(fd int, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, newNativeError("poll", "", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, &NativeError{Op: "poll", Errno: unix.EBADF}
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0, nil
}

func (l *linuxFacility) Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return newNativeError("close", "", err)
	}
	return nil
}

func readLimit(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return n
}
