// Package multicast implements fan-out channels: a single publish clones the
// payload into one shared envelope whose reference count tracks outstanding
// per-subscriber deliveries.
package multicast

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/rushrushgogogo/skynet/internal/message"
)

// Sink is the local delivery path envelopes ride on.
type Sink interface {
	PushMessage(destination message.Handle, m message.Message) error
}

// Manager creates channels and dispatches their envelopes.
type Manager struct {
	mu     sync.Mutex
	sink   Sink
	logger *slog.Logger
}

// NewManager creates a manager; the sink is wired before any publish.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "multicast")}
}

// SetSink wires the local delivery path.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Dispatch hands this subscriber its share of a fan-out and releases the
// reference the mailbox slot held on the envelope.
func (m *Manager) Dispatch(env *message.Envelope, deliver func(source message.Handle, payload []byte)) {
	deliver(env.Source, env.Payload)
	env.Release()
}

// Channel is one multicast group: a subscriber set fed by Publish.
type Channel struct {
	manager *Manager

	mu   sync.Mutex
	subs map[message.Handle]struct{}
}

// NewChannel creates an empty channel on the manager's delivery path.
func (m *Manager) NewChannel() *Channel {
	return &Channel{manager: m, subs: make(map[message.Handle]struct{})}
}

// Subscribe adds h to the channel.
func (c *Channel) Subscribe(h message.Handle) {
	c.mu.Lock()
	c.subs[h] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes h from the channel.
func (c *Channel) Unsubscribe(h message.Handle) {
	c.mu.Lock()
	delete(c.subs, h)
	c.mu.Unlock()
}

// Len reports the subscriber count.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Publish fans payload out to every subscriber: one envelope, one mailbox
// slot and one reference per recipient. Subscribers whose mailbox is gone
// are dropped from the channel.
func (c *Channel) Publish(source message.Handle, payload []byte) int {
	c.manager.mu.Lock()
	sink := c.manager.sink
	c.manager.mu.Unlock()
	if sink == nil {
		return 0
	}

	c.mu.Lock()
	targets := make([]message.Handle, 0, len(c.subs))
	for h := range c.subs {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	env := message.NewEnvelope(source, bytes.Clone(payload))
	delivered := 0
	for _, h := range targets {
		env.Retain()
		m := message.Message{Session: message.SessionMulticast, Envelope: env}
		if err := sink.PushMessage(h, m); err != nil {
			env.Release()
			c.Unsubscribe(h)
			c.manager.logger.Error("drop multicast delivery", "to", h, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}
