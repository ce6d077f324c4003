// Package group implements the numeric group registry behind the GROUP
// command. Each group owns a multicast channel and, once queried, a relay
// agent service whose mailbox is the group's public address: anything sent
// to the agent fans out to the members.
package group

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/multicast"
)

// AgentModule is the built-in module name of the per-group relay service.
const AgentModule = "mcgroup"

// ErrNotBound reports use of the registry before the kernel was wired in.
var ErrNotBound = errors.New("group registry not bound")

// LaunchFunc starts a service and returns its handle.
type LaunchFunc func(module, param string) (message.Handle, error)

// RetireFunc retires a handle.
type RetireFunc func(h message.Handle) bool

type entry struct {
	channel *multicast.Channel
	agent   message.Handle
}

// Manager is the group registry.
type Manager struct {
	multicast *multicast.Manager

	mu     sync.Mutex
	groups map[int]*entry
	launch LaunchFunc
	retire RetireFunc
}

// NewManager creates an empty registry on top of the multicast manager.
func NewManager(mc *multicast.Manager) *Manager {
	return &Manager{multicast: mc, groups: make(map[int]*entry)}
}

// Bind wires the kernel operations the registry needs for agent lifecycle.
func (m *Manager) Bind(launch LaunchFunc, retire RetireFunc) {
	m.mu.Lock()
	m.launch = launch
	m.retire = retire
	m.mu.Unlock()
}

func (m *Manager) ensure(group int) *entry {
	e, ok := m.groups[group]
	if !ok {
		e = &entry{channel: m.multicast.NewChannel()}
		m.groups[group] = e
	}
	return e
}

// Channel returns the group's multicast channel, creating the group if
// needed. The relay agent publishes through it.
func (m *Manager) Channel(group int) *multicast.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensure(group).channel
}

// Enter subscribes h to the group.
func (m *Manager) Enter(group int, h message.Handle) error {
	m.mu.Lock()
	e := m.ensure(group)
	m.mu.Unlock()
	e.channel.Subscribe(h)
	return nil
}

// Leave unsubscribes h from the group.
func (m *Manager) Leave(group int, h message.Handle) error {
	m.mu.Lock()
	e, ok := m.groups[group]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.channel.Unsubscribe(h)
	return nil
}

// Query returns the group's public address, launching the relay agent on
// first use. The agent must exist before the handle escapes so the channel
// is created first and the launch is synchronous.
func (m *Manager) Query(group int) (message.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.launch == nil {
		return 0, ErrNotBound
	}
	e := m.ensure(group)
	if e.agent != 0 {
		return e.agent, nil
	}
	agent, err := m.launch(AgentModule, strconv.Itoa(group))
	if err != nil {
		return 0, fmt.Errorf("group %d agent: %w", group, err)
	}
	e.agent = agent
	return agent, nil
}

// Clear drops the group: members are unsubscribed implicitly and the relay
// agent, if any, is retired.
func (m *Manager) Clear(group int) error {
	m.mu.Lock()
	e, ok := m.groups[group]
	if ok {
		delete(m.groups, group)
	}
	retire := m.retire
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if e.agent != 0 {
		if retire == nil {
			return ErrNotBound
		}
		retire(e.agent)
	}
	return nil
}
