//go:build linux

package mounts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/sysutil"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

const mountTimeout = 3 * time.Second

type linuxFollower struct {
	events chan model.MountEvent
	stop   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newFollower() Follower {
	return &linuxFollower{
		events: make(chan model.MountEvent, 10),
		stop:   make(chan struct{}),
		logger: sysutil.Log.Named("mounts"),
	}
}

func (f *linuxFollower) Start(ctx context.Context) (<-chan model.MountEvent, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, nil)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer conn.Close()
		defer cancel()

		go f.scanExisting(ctx)
		for {
			select {
			case <-f.stop:
				close(quit)
				return
			case <-ctx.Done():
				close(quit)
				return
			case err := <-errs:
				f.logger.Debug("udev monitor error", zap.Error(err))
			case uevent := <-queue:
				f.handle(ctx, uevent)
			}
		}
	}()
	return f.events, nil
}

func (f *linuxFollower) Stop() {
	f.once.Do(func() { close(f.stop) })
}

func (f *linuxFollower) handle(ctx context.Context, uevent netlink.UEvent) {
	if uevent.Env["SUBSYSTEM"] != "block" || uevent.Env["DEVTYPE"] != "partition" {
		return
	}
	devName := uevent.Env["DEVNAME"]
	if !strings.HasPrefix(devName, "/dev/") {
		devName = "/dev/" + devName
	}
	switch uevent.Action {
	case "add":
		go f.handleAdd(ctx, devName, "/sys"+uevent.Env["DEVPATH"])
	case "remove":
		f.send(ctx, model.MountEvent{Action: "remove", DevicePath: devName, TimeStamp: time.Now()})
	}
}

// handleAdd waits for the automounter before reporting the partition.
func (f *linuxFollower) handleAdd(ctx context.Context, devName, sysPath string) {
	usbRoot, ok := findUSBRoot(sysPath)
	if !ok {
		return
	}
	mountPoint := sysutil.WaitForMount(ctx, devName, mountTimeout)
	if mountPoint == "" {
		f.logger.Warn("device detected but never mounted", zap.String("dev", devName))
		return
	}
	f.send(ctx, describe(usbRoot, devName, mountPoint))
}

// scanExisting reports USB partitions that were mounted before Start.
func (f *linuxFollower) scanExisting(ctx context.Context) {
	mounts, err := sysutil.Mounts()
	if err != nil {
		f.logger.Error("failed to scan existing mounts", zap.Error(err))
		return
	}
	for _, m := range mounts {
		if !strings.HasPrefix(m.Device, "/dev/") || strings.HasPrefix(m.Device, "/dev/loop") {
			continue
		}
		sysPath, err := filepath.EvalSymlinks("/sys/class/block/" + filepath.Base(m.Device))
		if err != nil {
			continue
		}
		usbRoot, ok := findUSBRoot(sysPath)
		if !ok {
			continue
		}
		f.logger.Info("found mounted USB device", zap.String("dev", m.Device), zap.String("mount", m.Point))
		f.send(ctx, describe(usbRoot, m.Device, m.Point))
	}
}

func (f *linuxFollower) send(ctx context.Context, ev model.MountEvent) {
	select {
	case f.events <- ev:
	case <-ctx.Done():
	case <-f.stop:
	}
}

func describe(usbRoot, devName, mountPoint string) model.MountEvent {
	return model.MountEvent{
		Action:     "add",
		DevicePath: devName,
		MountPoint: mountPoint,
		VendorID:   readAttr(usbRoot, "idVendor"),
		ProductID:  readAttr(usbRoot, "idProduct"),
		Product:    readAttr(usbRoot, "product"),
		Serial:     readAttr(usbRoot, "serial"),
		TimeStamp:  time.Now(),
	}
}

// findUSBRoot walks up sysfs from a block device to the USB device that
// carries it, recognised by its idVendor attribute.
func findUSBRoot(sysPath string) (string, bool) {
	dir := sysPath
	for i := 0; i < 10; i++ {
		dir = filepath.Dir(dir)
		if dir == "/" || dir == "." {
			break
		}
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
	}
	return "", false
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
