package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendbot/internal/core"
)

type blockingHandler struct {
	running  atomic.Int32
	maxSeen  atomic.Int32
	handled  atomic.Int32
	release  chan struct{}
	deadline atomic.Bool
}

func (h *blockingHandler) Handle(ctx context.Context, ev core.InboundEvent) State {
	n := h.running.Add(1)
	for {
		m := h.maxSeen.Load()
		if n <= m || h.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if _, ok := ctx.Deadline(); ok {
		h.deadline.Store(true)
	}
	<-h.release
	h.running.Add(-1)
	h.handled.Add(1)
	return StateSubmitted
}

type depthRecorder struct {
	mu     sync.Mutex
	depths []int
}

func (d *depthRecorder) SetQueueDepth(depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depths = append(d.depths, depth)
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	depth := &depthRecorder{}
	d := NewDispatcher(handler, DispatcherConfig{Workers: 2, QueueSize: 10, HandlerTimeout: time.Second}, depth, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	for i := 0; i < 6; i++ {
		require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: fmt.Sprintf("$e%d", i)}))
	}

	require.Eventually(t, func() bool { return handler.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	// Give the run loop a chance to over-schedule if it were going to.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), handler.maxSeen.Load())

	close(handler.release)
	require.Eventually(t, func() bool { return handler.handled.Load() == 6 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
	assert.LessOrEqual(t, handler.maxSeen.Load(), int32(2))
	assert.True(t, handler.deadline.Load(), "handlers must run with a deadline")
	assert.NotEmpty(t, depth.depths)
}

func TestDispatcher_DispatchBlocksWhenFull(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	d := NewDispatcher(handler, DispatcherConfig{Workers: 1, QueueSize: 1, HandlerTimeout: time.Second}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	// One running, one held by the run loop waiting for a worker, one queued.
	require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: "$1"}))
	require.Eventually(t, func() bool { return handler.running.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: "$2"}))
	require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: "$3"}))

	short, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	err := d.Dispatch(short, core.InboundEvent{EventID: "$4"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(handler.release)
}

type settleLog struct {
	mu      sync.Mutex
	results map[string][]bool
}

func newSettleLog() *settleLog {
	return &settleLog{results: make(map[string][]bool)}
}

func (s *settleLog) event(id string) core.InboundEvent {
	return core.InboundEvent{EventID: id, OnSettled: func(handled bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.results[id] = append(s.results[id], handled)
	}}
}

func (s *settleLog) get(id string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.results[id]...)
}

func TestDispatcher_SettlesHandledEvents(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	close(handler.release)
	settled := newSettleLog()
	d := NewDispatcher(handler, DispatcherConfig{Workers: 2, QueueSize: 4, HandlerTimeout: time.Second}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	require.NoError(t, d.Dispatch(ctx, settled.event("$1")))
	require.NoError(t, d.Dispatch(ctx, settled.event("$2")))
	require.Eventually(t, func() bool {
		return len(settled.get("$1")) == 1 && len(settled.get("$2")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
	assert.Equal(t, []bool{true}, settled.get("$1"))
	assert.Equal(t, []bool{true}, settled.get("$2"))
}

func TestDispatcher_SettlesQueuedEventsAsDroppedOnStop(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	close(handler.release)
	settled := newSettleLog()
	d := NewDispatcher(handler, DispatcherConfig{Workers: 1, QueueSize: 3, HandlerTimeout: time.Second}, nil, nil)

	for _, id := range []string{"$1", "$2", "$3"} {
		require.NoError(t, d.Dispatch(context.Background(), settled.event(id)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Equal(t, int32(0), handler.handled.Load())
	for _, id := range []string{"$1", "$2", "$3"} {
		assert.Equal(t, []bool{false}, settled.get(id), id)
	}

	err := d.Dispatch(context.Background(), settled.event("$4"))
	assert.ErrorIs(t, err, ErrDispatcherStopped)
	assert.Empty(t, settled.get("$4"))
}

func TestDispatcher_PanicStillSettles(t *testing.T) {
	settled := newSettleLog()
	d := NewDispatcher(&panickingHandler{}, DispatcherConfig{Workers: 1, QueueSize: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Dispatch(ctx, settled.event("$boom")))
	require.Eventually(t, func() bool { return len(settled.get("$boom")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, settled.get("$boom"))
}

func TestDispatcher_DispatchAfterStop(t *testing.T) {
	d := NewDispatcher(&blockingHandler{release: make(chan struct{})}, DispatcherConfig{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	err := d.Dispatch(context.Background(), core.InboundEvent{EventID: "$late"})
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

type panickingHandler struct{ calls atomic.Int32 }

func (h *panickingHandler) Handle(ctx context.Context, ev core.InboundEvent) State {
	if h.calls.Add(1) == 1 {
		panic("first event explodes")
	}
	return StateSubmitted
}

func TestDispatcher_PanicDoesNotStopProcessing(t *testing.T) {
	handler := &panickingHandler{}
	d := NewDispatcher(handler, DispatcherConfig{Workers: 1, QueueSize: 4}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: "$1"}))
	require.NoError(t, d.Dispatch(ctx, core.InboundEvent{EventID: "$2"}))

	require.Eventually(t, func() bool { return handler.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDefaultDispatcherConfig(t *testing.T) {
	d := NewDispatcher(&panickingHandler{}, DispatcherConfig{QueueSize: -1}, nil, nil)
	assert.Equal(t, DefaultWorkers, d.cfg.Workers)
	assert.Equal(t, DefaultQueueSize, d.cfg.QueueSize)
	assert.Equal(t, DefaultHandlerTimeout, d.cfg.HandlerTimeout)
}
