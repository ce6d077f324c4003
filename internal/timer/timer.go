// Package timer drives the kernel's tick clock: a counter of ticks since
// process start (centiseconds at the default tick) and the TIMEOUT
// scheduling behind it. Expired timeouts turn
// into messages from the reserved SystemTimer source.
package timer

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	"github.com/rushrushgogogo/skynet/internal/message"
)

// DefaultTick is the original runtime's clock resolution.
const DefaultTick = 10 * time.Millisecond

// Sink receives the messages expired timeouts synthesize.
type Sink interface {
	PushMessage(destination message.Handle, m message.Message) error
}

type event struct {
	expire  uint32
	handle  message.Handle
	session int32
	seq     uint64
}

type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].expire != h[j].expire {
		return h[i].expire < h[j].expire
	}
	// Same-tick timeouts fire in registration order.
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// Timer is the process clock and timeout scheduler.
type Timer struct {
	interval time.Duration
	logger   *slog.Logger
	startSec uint32
	now      atomic.Uint32
	seq      atomic.Uint64

	mu     sync.Mutex
	events eventHeap
	sink   Sink

	stop chan struct{}
	done chan struct{}
}

// New creates a stopped timer ticking at interval.
func New(interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultTick
	}
	return &Timer{
		interval: interval,
		logger:   logger.With("component", "timer"),
		startSec: uint32(time.Now().Unix()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetSink wires the delivery path; must happen before Start.
func (t *Timer) SetSink(sink Sink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Now returns ticks elapsed since process start.
func (t *Timer) Now() uint32 { return t.now.Load() }

// StartTime returns the process start in wall-clock seconds.
func (t *Timer) StartTime() uint32 { return t.startSec }

// Timeout schedules a wake for handle after the given ticks; zero ticks mean
// the next tick. The wake is a message with source SystemTimer carrying the
// session.
func (t *Timer) Timeout(handle message.Handle, ticks int, session int32) {
	if ticks < 0 {
		ticks = 0
	}
	expire := t.now.Load() + uint32(ticks)
	if ticks == 0 {
		expire++
	}
	t.mu.Lock()
	heap.Push(&t.events, event{
		expire:  expire,
		handle:  handle,
		session: session,
		seq:     t.seq.Add(1),
	})
	t.mu.Unlock()
}

// advance moves the clock one tick and fires everything due.
func (t *Timer) advance() {
	now := t.now.Add(1)
	for {
		t.mu.Lock()
		if len(t.events) == 0 || t.events[0].expire > now {
			t.mu.Unlock()
			return
		}
		ev := heap.Pop(&t.events).(event)
		sink := t.sink
		t.mu.Unlock()

		if sink == nil {
			continue
		}
		m := message.Message{Source: message.SystemTimer, Session: ev.session}
		if err := sink.PushMessage(ev.handle, m); err != nil {
			t.logger.Error("drop timeout", "handle", ev.handle, "session", ev.session, "err", err)
		}
	}
}

func (t *Timer) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.advance()
		}
	}
}

// Start begins ticking in the background.
func (t *Timer) Start() { go t.run() }

// Stop halts the clock and waits for the tick goroutine to exit.
func (t *Timer) Stop() {
	close(t.stop)
	<-t.done
}

// Module hooks the timer lifecycle into the fx application; construction is
// wired from config by the caller.
var Module = fx.Module("timer",
	fx.Invoke(func(lc fx.Lifecycle, t *Timer) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { t.Start(); return nil },
			OnStop:  func(context.Context) error { t.Stop(); return nil },
		})
	}),
)
