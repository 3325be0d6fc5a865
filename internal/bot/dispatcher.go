package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spendbot/internal/core"
	"spendbot/internal/log"
)

const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 64
	DefaultHandlerTimeout = 30 * time.Second
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// EventHandler is the unit of work run by the dispatcher.
type EventHandler interface {
	Handle(ctx context.Context, ev core.InboundEvent) State
}

// QueueObserver is told the queue depth whenever it changes.
type QueueObserver interface {
	SetQueueDepth(depth int)
}

type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        DefaultWorkers,
		QueueSize:      DefaultQueueSize,
		HandlerTimeout: DefaultHandlerTimeout,
	}
}

// Dispatcher runs handlers for inbound events on a fixed number of workers.
// Dispatch blocks while the queue is full, which pushes back on the
// messaging collaborator instead of spawning unbounded goroutines.
// Every accepted event is settled exactly once: after its handler returns,
// or as dropped when the dispatcher stops before starting it.
type Dispatcher struct {
	handler  EventHandler
	cfg      DispatcherConfig
	queue    chan core.InboundEvent
	observer QueueObserver
	logger   *log.Logger

	mu       sync.Mutex
	stopped  bool
	stopping chan struct{}
	pending  sync.WaitGroup
}

func NewDispatcher(handler EventHandler, cfg DispatcherConfig, observer QueueObserver, logger *log.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaults.HandlerTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Dispatcher{
		handler:  handler,
		cfg:      cfg,
		queue:    make(chan core.InboundEvent, cfg.QueueSize),
		stopping: make(chan struct{}),
		observer: observer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Dispatch queues ev for handling. It blocks while the queue is full and
// returns early when ctx is done or the dispatcher has stopped. An error
// means ev was not accepted and will not be settled.
func (d *Dispatcher) Dispatch(ctx context.Context, ev core.InboundEvent) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.pending.Add(1)
	d.mu.Unlock()
	defer d.pending.Done()

	select {
	case d.queue <- ev:
		d.observeDepth()
		return nil
	case <-d.stopping:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is done. Handlers already started are
// allowed to finish within their own timeout; queued events that were not
// started are settled as dropped so their source can redeliver them.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)

	d.logger.InfoContext(ctx, "Dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
		"handler_timeout", d.cfg.HandlerTimeout)

loop:
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-d.queue:
			d.observeDepth()
			// Go blocks while all workers are busy.
			g.Go(func() error {
				d.handle(ctx, ev)
				return nil
			})
		}
	}

	if dropped := d.stop(); dropped > 0 {
		d.logger.WarnContext(ctx, "Dropped queued events on shutdown", "count", dropped)
	}
	err := g.Wait()
	d.logger.InfoContext(ctx, "Dispatcher stopped", log.FieldOperation, log.OpShutdown)
	return err
}

// stop refuses further dispatches, waits for callers already inside Dispatch
// and settles whatever is left in the queue as dropped.
func (d *Dispatcher) stop() int {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.stopping)
	}
	d.mu.Unlock()
	d.pending.Wait()

	dropped := 0
	for {
		select {
		case ev := <-d.queue:
			ev.Settle(false)
			dropped++
		default:
			d.observeDepth()
			return dropped
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev core.InboundEvent) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.HandlerTimeout)
	defer cancel()
	defer ev.Settle(true)

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(hctx, "Handler panicked",
				"panic", r,
				log.FieldEventID, ev.EventID,
				"error_type", log.ErrorTypeInternal)
		}
	}()

	start := time.Now()
	state := d.handler.Handle(hctx, ev)
	if state != StateReceived {
		d.logger.DebugContext(hctx, "Event processed",
			log.FieldEventID, ev.EventID,
			"state", state.String(),
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}

func (d *Dispatcher) observeDepth() {
	if d.observer != nil {
		d.observer.SetQueueDepth(len(d.queue))
	}
}
