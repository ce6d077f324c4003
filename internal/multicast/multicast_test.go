package multicast

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushrushgogogo/skynet/internal/message"
)

type captureSink struct {
	mu       sync.Mutex
	failFor  map[message.Handle]bool
	messages map[message.Handle][]message.Message
}

func newCaptureSink() *captureSink {
	return &captureSink{
		failFor:  make(map[message.Handle]bool),
		messages: make(map[message.Handle][]message.Message),
	}
}

func (s *captureSink) PushMessage(destination message.Handle, m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[destination] {
		return errors.New("retired")
	}
	s.messages[destination] = append(s.messages[destination], m)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *captureSink) {
	t.Helper()
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink := newCaptureSink()
	m.SetSink(sink)
	return m, sink
}

func TestPublishFansOut(t *testing.T) {
	m, sink := newTestManager(t)
	ch := m.NewChannel()
	ch.Subscribe(0x01)
	ch.Subscribe(0x02)
	ch.Subscribe(0x03)

	delivered := ch.Publish(0x99, []byte("news"))
	assert.Equal(t, 3, delivered)

	for _, h := range []message.Handle{1, 2, 3} {
		msgs := sink.messages[h]
		require.Len(t, msgs, 1)
		assert.Equal(t, message.SessionMulticast, msgs[0].Session)
		require.NotNil(t, msgs[0].Envelope)
		assert.EqualValues(t, 0x99, msgs[0].Envelope.Source)
		assert.Equal(t, "news", string(msgs[0].Envelope.Payload))
	}

	// One shared envelope across all slots.
	assert.Same(t, sink.messages[1][0].Envelope, sink.messages[2][0].Envelope)
}

func TestDispatchReleasesEnvelope(t *testing.T) {
	m, sink := newTestManager(t)
	ch := m.NewChannel()
	ch.Subscribe(0x01)
	ch.Subscribe(0x02)
	require.Equal(t, 2, ch.Publish(0x09, []byte("payload")))

	env := sink.messages[1][0].Envelope
	var sources []message.Handle
	deliver := func(source message.Handle, payload []byte) {
		sources = append(sources, source)
		assert.Equal(t, "payload", string(payload))
	}

	m.Dispatch(env, deliver)
	m.Dispatch(env, deliver)
	assert.Equal(t, []message.Handle{0x09, 0x09}, sources)
	// Both outstanding references are gone now.
	assert.True(t, env.Retain().Release())
}

func TestDeadSubscriberIsPruned(t *testing.T) {
	m, sink := newTestManager(t)
	ch := m.NewChannel()
	ch.Subscribe(0x01)
	ch.Subscribe(0x02)
	sink.failFor[0x02] = true

	assert.Equal(t, 1, ch.Publish(0x09, []byte("x")))
	assert.Equal(t, 1, ch.Len())

	// Next publish no longer attempts the dead handle.
	sink.failFor[0x02] = false
	assert.Equal(t, 1, ch.Publish(0x09, []byte("y")))
	assert.Empty(t, sink.messages[0x02])
}

func TestUnsubscribe(t *testing.T) {
	m, _ := newTestManager(t)
	ch := m.NewChannel()
	ch.Subscribe(0x01)
	ch.Subscribe(0x02)
	ch.Unsubscribe(0x01)
	assert.Equal(t, 1, ch.Len())
}

func TestPublishWithoutSink(t *testing.T) {
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch := m.NewChannel()
	ch.Subscribe(0x01)
	assert.Equal(t, 0, ch.Publish(0x09, []byte("x")))
}
