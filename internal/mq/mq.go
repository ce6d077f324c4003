// Package mq implements the per-service FIFO mailbox and the global ready
// ring the worker pool drains. A mailbox appears in the global ring at most
// once; the in-global flag stays set for the whole dispatch so concurrent
// senders never double-enqueue, and the dispatcher's ForcePush is the only
// way a mailbox returns to circulation.
package mq

import (
	"sync"

	"github.com/rushrushgogogo/skynet/internal/message"
)

const defaultQueueSize = 16

// Queue is the MPSC mailbox of a single service.
type Queue struct {
	handle message.Handle
	global *Global

	mu      sync.Mutex
	buf     []message.Message
	head    int
	tail    int
	length  int
	inGlob  bool
	release bool
}

// Global is the MPMC ring of ready mailboxes shared by all workers.
type Global struct {
	mu    sync.Mutex
	ring  []*Queue
	head  int
	tail  int
	count int
}

// NewGlobal creates an empty ready ring.
func NewGlobal() *Global {
	return &Global{ring: make([]*Queue, 64)}
}

func (g *Global) push(q *Queue) {
	g.mu.Lock()
	if g.count == len(g.ring) {
		grown := make([]*Queue, len(g.ring)*2)
		for i := 0; i < g.count; i++ {
			grown[i] = g.ring[(g.head+i)%len(g.ring)]
		}
		g.ring = grown
		g.head = 0
		g.tail = g.count
	}
	g.ring[g.tail] = q
	g.tail = (g.tail + 1) % len(g.ring)
	g.count++
	g.mu.Unlock()
}

// Pop removes and returns the next ready mailbox, or nil when idle.
func (g *Global) Pop() *Queue {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		return nil
	}
	q := g.ring[g.head]
	g.ring[g.head] = nil
	g.head = (g.head + 1) % len(g.ring)
	g.count--
	return q
}

// Len reports how many mailboxes are currently ready.
func (g *Global) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// New creates the mailbox for handle. The in-global flag starts set: messages
// pushed during service init must not enqueue the mailbox before the creator
// force-pushes it after a successful init.
func New(g *Global, handle message.Handle) *Queue {
	return &Queue{
		handle: handle,
		global: g,
		buf:    make([]message.Message, defaultQueueSize),
		inGlob: true,
	}
}

// Handle returns the owning service's handle.
func (q *Queue) Handle() message.Handle { return q.handle }

// Len reports the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

func (q *Queue) append(m message.Message) {
	if q.length == len(q.buf) {
		grown := make([]message.Message, len(q.buf)*2)
		for i := 0; i < q.length; i++ {
			grown[i] = q.buf[(q.head+i)%len(q.buf)]
		}
		q.buf = grown
		q.head = 0
		q.tail = q.length
	}
	q.buf[q.tail] = m
	q.tail = (q.tail + 1) % len(q.buf)
	q.length++
}

// Push appends m and, when the mailbox is not already circulating, enqueues
// it on the global ring.
func (q *Queue) Push(m message.Message) {
	q.mu.Lock()
	q.append(m)
	wake := !q.inGlob
	q.inGlob = true
	q.mu.Unlock()
	if wake {
		q.global.push(q)
	}
}

// Pop removes the oldest message. On an empty mailbox it clears the in-global
// flag and reports false: the mailbox leaves circulation until the next Push.
func (q *Queue) Pop() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.length == 0 {
		q.inGlob = false
		return message.Message{}, false
	}
	m := q.buf[q.head]
	q.buf[q.head] = message.Message{}
	q.head = (q.head + 1) % len(q.buf)
	q.length--
	return m, true
}

// ForcePush re-enqueues the mailbox unconditionally. Only the worker that
// popped the mailbox (or the context creator, once, after init) may call it;
// that restriction is what keeps the at-most-once ring invariant.
func (q *Queue) ForcePush() {
	q.mu.Lock()
	q.inGlob = true
	q.mu.Unlock()
	q.global.push(q)
}

// MarkRelease flags the mailbox for self-destruction and makes sure it will
// come around the ring one last time to be drained.
func (q *Queue) MarkRelease() {
	q.mu.Lock()
	q.release = true
	wake := !q.inGlob
	q.inGlob = true
	q.mu.Unlock()
	if wake {
		q.global.push(q)
	}
}

// Release finishes a mailbox whose context is gone. If MarkRelease was seen
// it drains the mailbox and returns the messages dropped with it; otherwise
// the retirement race is still in flight, the mailbox is pushed back for a
// later pass and nil is returned.
func (q *Queue) Release() (dropped []message.Message) {
	q.mu.Lock()
	if !q.release {
		q.inGlob = true
		q.mu.Unlock()
		q.global.push(q)
		return nil
	}
	dropped = make([]message.Message, 0, q.length)
	for q.length > 0 {
		dropped = append(dropped, q.buf[q.head])
		q.buf[q.head] = message.Message{}
		q.head = (q.head + 1) % len(q.buf)
		q.length--
	}
	q.mu.Unlock()
	return dropped
}
