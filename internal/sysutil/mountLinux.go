//go:build linux

package sysutil

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"
)

const procMounts = "/proc/mounts"

// Mount is one line of /proc/mounts.
type Mount struct {
	Device string
	Point  string
	FSType string
}

// Mounts parses /proc/mounts.
func Mounts() ([]Mount, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Mount
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, Mount{Device: fields[0], Point: unescapeMount(fields[1]), FSType: fields[2]})
	}
	return out, scanner.Err()
}

// WaitForMount polls /proc/mounts until devPath is mounted, the context is
// done or timeout elapses. The mount point is empty when none was found.
// udev reports a partition before the desktop automounter has mounted it.
func WaitForMount(ctx context.Context, devPath string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		mounts, err := Mounts()
		if err == nil {
			for _, m := range mounts {
				if m.Device == devPath {
					return m.Point
				}
			}
		}
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
		}
	}
}

// unescapeMount undoes the octal escaping /proc/mounts applies to spaces,
// tabs, newlines and backslashes.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}
