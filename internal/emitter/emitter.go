// Package emitter turns the raw inotify stream of one watched root into
// normalized events on a shared queue.
//
// Inotify only watches a single directory level, so in recursive mode the
// emitter adds a watch for each new subdirectory as soon as its creation is
// reported. Files created inside the new directory before that watch exists
// are never reported by the kernel; the emitter narrows that window by
// emitting Created events for whatever it finds in the directory right after
// watching it. Events can still be lost when directories are created and
// filled faster than the watches can be added.
package emitter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hara602/treewatch/internal/inotify"
	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/sysutil"
	"go.uber.org/zap"
)

const DefaultTimeout = time.Second

// Queue receives emitted events. Put blocks while the queue is full.
type Queue interface {
	Put(ctx context.Context, ev model.Event) error
}

// Watch describes the observed root.
type Watch struct {
	Path      string
	Recursive bool
}

type Config struct {
	// Timeout bounds each wait for data, and so how long Stop waits for the
	// loop to notice it.
	Timeout    time.Duration
	BufferSize int
	Mask       inotify.Mask
	Facility   inotify.Facility
	Logger     *zap.Logger
}

type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Emitter drives one inotify session on its own goroutine.
type Emitter struct {
	queue      Queue
	watch      Watch
	session    *inotify.Session
	timeout    time.Duration
	bufferSize int
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error

	closeOnce  sync.Once
	releaseErr error
	overflows  atomic.Int64
}

// New opens the session for w. Errors such as a root that is not a directory
// surface here, before anything runs.
func New(q Queue, w Watch, cfg Config) (*Emitter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = inotify.DefaultBufferSize
	}
	if cfg.Mask == 0 {
		cfg.Mask = inotify.DefaultMask
	}
	if cfg.Logger == nil {
		cfg.Logger = sysutil.Log.Named("emitter")
	}

	session, err := inotify.NewSession(w.Path, inotify.Options{
		Recursive:   w.Recursive,
		Mask:        cfg.Mask,
		NonBlocking: true,
		Facility:    cfg.Facility,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		queue:      q,
		watch:      Watch{Path: session.Path(), Recursive: w.Recursive},
		session:    session,
		timeout:    cfg.Timeout,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger.With(zap.String("root", session.Path())),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the event loop. It does nothing unless the emitter is idle.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Idle {
		return
	}
	e.state = Running
	go e.run()
}

// Stop ends the loop and releases every watch and the descriptor. It may be
// called any number of times from any goroutine; once it returns no native
// resources are held. The result of releasing the session is returned on
// every call.
func (e *Emitter) Stop() error {
	e.mu.Lock()
	prev := e.state
	e.state = Stopped
	e.mu.Unlock()

	e.cancel()
	if prev == Idle {
		e.release()
		close(e.done)
	} else {
		<-e.done
		e.release()
	}
	return e.releaseErr
}

// Done is closed once the emitter has stopped and released its session.
func (e *Emitter) Done() <-chan struct{} { return e.done }

// Err is the error that stopped the loop, nil if it was stopped by Stop.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Emitter) Watch() Watch { return e.watch }

// Session exposes the underlying session, e.g. to add a watch by hand.
func (e *Emitter) Session() *inotify.Session { return e.session }

// Overflows counts kernel queue overflows seen so far.
func (e *Emitter) Overflows() int64 { return e.overflows.Load() }

func (e *Emitter) run() {
	defer close(e.done)
	e.logger.Info("emitter started", zap.Bool("recursive", e.watch.Recursive))

	for {
		if e.ctx.Err() != nil {
			e.logger.Info("emitter stopped")
			return
		}
		if err := e.queueEvents(e.ctx); err != nil {
			if e.ctx.Err() != nil {
				e.logger.Info("emitter stopped")
				return
			}
			e.fail(err)
			return
		}
	}
}

func (e *Emitter) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.state = Stopped
	e.mu.Unlock()

	e.logger.Error("emitter failed", zap.Error(err))
	e.release()
}

// release closes the session exactly once.
func (e *Emitter) release() {
	e.closeOnce.Do(func() {
		if err := e.session.Close(); err != nil {
			e.logger.Warn("releasing watches failed", zap.Error(err))
			e.releaseErr = err
		}
	})
}

// queueEvents waits up to the timeout for one batch and queues its events.
func (e *Emitter) queueEvents(ctx context.Context) error {
	ready, err := e.session.Wait(e.timeout)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	records, err := e.session.ReadRecords(e.bufferSize)
	if err != nil {
		return err
	}
	return e.handleBatch(ctx, records)
}
