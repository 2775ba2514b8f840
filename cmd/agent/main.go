package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hara602/treewatch/internal/config"
	"github.com/Hara602/treewatch/internal/emitter"
	"github.com/Hara602/treewatch/internal/inotify"
	"github.com/Hara602/treewatch/internal/inspect"
	"github.com/Hara602/treewatch/internal/journal"
	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/mounts"
	"github.com/Hara602/treewatch/internal/observer"
	"github.com/Hara602/treewatch/internal/sysutil"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()
	if err := sysutil.InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		os.Exit(2)
	}
	defer sysutil.Log.Sync()

	sysutil.Log.Info("treewatch agent starting", zap.Int("watches", len(cfg.Watches)))

	handlers := []observer.Handler{observer.HandlerFunc(logEvent)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			sysutil.Log.Fatal("journal init failed", zap.Error(err))
		}
		defer j.Close()
		handlers = append(handlers, j)
	}
	if cfg.Inspect {
		handlers = append(handlers, inspect.NewHandler())
	}
	handler := chain(handlers)

	mask := inotify.DefaultMask
	if cfg.AllEvents {
		mask = inotify.InAllEvents
	}
	obs := observer.New(observer.Config{
		QueueSize:   cfg.QueueSize,
		Dispatchers: cfg.Dispatchers,
		Emitter: emitter.Config{
			Timeout:    cfg.ReadTimeout,
			BufferSize: cfg.BufferSize,
			Mask:       mask,
		},
		OnError: func(w emitter.Watch, err error) {
			sysutil.Log.Error("watch lost", zap.String("path", w.Path), zap.Error(err))
		},
	})
	obs.Start()
	defer func() {
		if err := obs.Stop(); err != nil {
			sysutil.Log.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	for _, w := range cfg.Watches {
		if err := obs.Schedule(emitter.Watch{Path: w.Path, Recursive: w.Recursive}, handler); err != nil {
			sysutil.Log.Error("failed to watch", zap.String("path", w.Path), zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mountEvents <-chan model.MountEvent
	if cfg.Removable.Enabled {
		follower := mounts.New()
		events, err := follower.Start(ctx)
		if err != nil {
			sysutil.Log.Fatal("mount follower init failed", zap.Error(err))
		}
		defer follower.Stop()
		mountEvents = events
	}

	// device path -> watch on its mount point, for unscheduling on removal
	mounted := make(map[string]emitter.Watch)
	for {
		select {
		case m := <-mountEvents:
			switch m.Action {
			case "add":
				sysutil.Log.Info("removable media mounted",
					zap.String("mount", m.MountPoint),
					zap.String("vid", m.VendorID),
					zap.String("pid", m.ProductID),
					zap.String("product", m.Product))
				w := emitter.Watch{Path: m.MountPoint, Recursive: !cfg.Removable.Flat}
				if err := obs.Schedule(w, handler); err != nil {
					sysutil.Log.Error("failed to watch mount", zap.String("mount", m.MountPoint), zap.Error(err))
					continue
				}
				mounted[m.DevicePath] = w
			case "remove":
				w, ok := mounted[m.DevicePath]
				if !ok {
					continue
				}
				delete(mounted, m.DevicePath)
				sysutil.Log.Info("removable media removed", zap.String("dev", m.DevicePath))
				if err := obs.Unschedule(w); err != nil {
					sysutil.Log.Debug("unschedule after removal", zap.String("mount", w.Path), zap.Error(err))
				}
			}

		case <-ctx.Done():
			sysutil.Log.Info("shutting down")
			return
		}
	}
}

func logEvent(ev model.Event) {
	fields := []zap.Field{
		zap.Stringer("kind", ev.Kind),
		zap.String("path", ev.SrcPath),
		zap.Bool("dir", ev.IsDirectory),
	}
	if ev.DestPath != "" {
		fields = append(fields, zap.String("dest", ev.DestPath))
	}
	sysutil.Log.Info("event", fields...)
}

func chain(handlers []observer.Handler) observer.Handler {
	return observer.HandlerFunc(func(ev model.Event) {
		for _, h := range handlers {
			h.Dispatch(ev)
		}
	})
}
