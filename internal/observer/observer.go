// Package observer schedules one emitter per watched root and runs the
// dispatchers that hand queued events to handlers.
package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Hara602/treewatch/internal/emitter"
	"github.com/Hara602/treewatch/internal/model"
	"github.com/Hara602/treewatch/internal/queue"
	"github.com/Hara602/treewatch/internal/sysutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultDispatchers = 1

// Handler receives the events of the watches it was scheduled for. With more
// than one dispatcher, Dispatch is called concurrently.
type Handler interface {
	Dispatch(ev model.Event)
}

type HandlerFunc func(ev model.Event)

func (f HandlerFunc) Dispatch(ev model.Event) { f(ev) }

type Config struct {
	QueueSize   int
	Dispatchers int
	Emitter     emitter.Config
	// OnError is called when an emitter stops on its own because of an
	// error. The watch is unscheduled by then.
	OnError func(w emitter.Watch, err error)
	Logger  *zap.Logger
}

type scheduled struct {
	emitter  *emitter.Emitter
	handlers []Handler
}

// delivery is a queued event tagged with the watch whose emitter produced
// it, so overlapping watches each reach only their own handlers.
type delivery struct {
	watch emitter.Watch
	event model.Event
}

// watchQueue is the queue as seen by one emitter.
type watchQueue struct {
	watch emitter.Watch
	queue *queue.EventQueue[delivery]
}

func (q watchQueue) Put(ctx context.Context, ev model.Event) error {
	return q.queue.Put(ctx, delivery{watch: q.watch, event: ev})
}

// Observer keeps one emitter per watch. A watch is a path plus its recursive
// flag: the same path may be scheduled flat and recursive at once.
type Observer struct {
	cfg    Config
	queue  *queue.EventQueue[delivery]
	logger *zap.Logger

	mu      sync.RWMutex
	watches map[emitter.Watch]*scheduled

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
}

func New(cfg Config) *Observer {
	if cfg.Dispatchers <= 0 {
		cfg.Dispatchers = DefaultDispatchers
	}
	if cfg.Logger == nil {
		cfg.Logger = sysutil.Log.Named("observer")
	}
	if cfg.Emitter.Logger == nil {
		cfg.Emitter.Logger = cfg.Logger.Named("emitter")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		cfg:     cfg,
		queue:   queue.New[delivery](cfg.QueueSize),
		logger:  cfg.Logger,
		watches: make(map[emitter.Watch]*scheduled),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the dispatchers.
func (o *Observer) Start() {
	o.start.Do(func() {
		for i := 0; i < o.cfg.Dispatchers; i++ {
			o.wg.Add(1)
			go o.dispatch()
		}
	})
}

// Schedule starts watching w and routes its events to h. Scheduling a watch
// that already exists, same path and same recursive flag, only adds the
// handler.
func (o *Observer) Schedule(w emitter.Watch, h Handler) error {
	w, err := absWatch(w)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if s, ok := o.watches[w]; ok {
		s.handlers = append(s.handlers, h)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	em, err := emitter.New(watchQueue{watch: w, queue: o.queue}, w, o.cfg.Emitter)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", w.Path, err)
	}

	o.mu.Lock()
	if s, ok := o.watches[w]; ok {
		// Lost a race with another Schedule of the same watch.
		s.handlers = append(s.handlers, h)
		o.mu.Unlock()
		return em.Stop()
	}
	o.watches[w] = &scheduled{emitter: em, handlers: []Handler{h}}
	o.mu.Unlock()

	em.Start()
	go o.supervise(w, em)
	o.logger.Info("watch scheduled", zap.String("path", w.Path), zap.Bool("recursive", w.Recursive))
	return nil
}

// Unschedule stops watching w.
func (o *Observer) Unschedule(w emitter.Watch) error {
	w, err := absWatch(w)
	if err != nil {
		return err
	}
	o.mu.Lock()
	s, ok := o.watches[w]
	delete(o.watches, w)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unschedule %s: not scheduled", w.Path)
	}
	o.logger.Info("watch unscheduled", zap.String("path", w.Path), zap.Bool("recursive", w.Recursive))
	return s.emitter.Stop()
}

// Watches lists the scheduled watches by path, flat before recursive.
func (o *Observer) Watches() []emitter.Watch {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]emitter.Watch, 0, len(o.watches))
	for w := range o.watches {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return !out[i].Recursive && out[j].Recursive
	})
	return out
}

// Stop stops every emitter, then the dispatchers.
func (o *Observer) Stop() error {
	o.mu.Lock()
	watches := o.watches
	o.watches = make(map[emitter.Watch]*scheduled)
	o.mu.Unlock()

	var errs error
	for w, s := range watches {
		if err := s.emitter.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", w.Path, err))
		}
	}
	o.cancel()
	o.wg.Wait()
	return errs
}

// supervise reports an emitter that stopped on its own and drops its watch.
func (o *Observer) supervise(w emitter.Watch, em *emitter.Emitter) {
	<-em.Done()
	err := em.Err()
	if err == nil {
		return
	}

	o.mu.Lock()
	if s, ok := o.watches[w]; ok && s.emitter == em {
		delete(o.watches, w)
	}
	o.mu.Unlock()

	o.logger.Error("emitter stopped with error", zap.String("path", w.Path), zap.Error(err))
	if o.cfg.OnError != nil {
		o.cfg.OnError(w, err)
	}
}

func (o *Observer) dispatch() {
	defer o.wg.Done()
	for {
		d, err := o.queue.Get(o.ctx)
		if err != nil {
			return
		}
		for _, h := range o.handlersFor(d.watch) {
			h.Dispatch(d.event)
		}
	}
}

// handlersFor returns the handlers of w. Events still queued for a watch that
// was unscheduled since are dropped.
func (o *Observer) handlersFor(w emitter.Watch) []Handler {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.watches[w]
	if !ok {
		return nil
	}
	return append([]Handler(nil), s.handlers...)
}

func absWatch(w emitter.Watch) (emitter.Watch, error) {
	root, err := filepath.Abs(w.Path)
	if err != nil {
		return w, err
	}
	w.Path = root
	return w, nil
}
