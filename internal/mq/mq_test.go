package mq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushrushgogogo/skynet/internal/message"
)

func TestQueueFIFO(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)

	for i := 0; i < 40; i++ {
		q.Push(message.Message{Session: int32(i), Data: []byte(fmt.Sprintf("m%d", i))})
	}
	require.Equal(t, 40, q.Len())

	for i := 0; i < 40; i++ {
		m, ok := q.Pop()
		require.True(t, ok)
		assert.EqualValues(t, i, m.Session)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueGrowthPreservesOrder(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)

	// Interleave pushes and pops so the ring wraps before growing.
	for i := 0; i < 10; i++ {
		q.Push(message.Message{Session: int32(i)})
	}
	for i := 0; i < 5; i++ {
		m, ok := q.Pop()
		require.True(t, ok)
		require.EqualValues(t, i, m.Session)
	}
	for i := 10; i < 40; i++ {
		q.Push(message.Message{Session: int32(i)})
	}
	for i := 5; i < 40; i++ {
		m, ok := q.Pop()
		require.True(t, ok)
		require.EqualValues(t, i, m.Session)
	}
}

func TestNewQueueStaysOutOfRingUntilForced(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)

	// A fresh mailbox is born "in global" so init-time sends do not enqueue
	// it; the creator's ForcePush is what puts it into circulation.
	q.Push(message.Message{Session: 1})
	assert.Nil(t, g.Pop())

	q.ForcePush()
	assert.Same(t, q, g.Pop())
	assert.Nil(t, g.Pop())
}

func TestPushReenqueuesAfterEmptyPop(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)
	q.ForcePush()
	require.Same(t, q, g.Pop())

	// Empty pop takes the mailbox out of circulation...
	_, ok := q.Pop()
	require.False(t, ok)
	assert.Nil(t, g.Pop())

	// ...and the next push brings it back exactly once.
	q.Push(message.Message{Session: 1})
	q.Push(message.Message{Session: 2})
	require.Same(t, q, g.Pop())
	assert.Nil(t, g.Pop())
}

func TestPushDuringDispatchDoesNotDoubleEnqueue(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)
	q.Push(message.Message{Session: 1})
	q.ForcePush()
	require.Same(t, q, g.Pop())

	// Mid-dispatch: popped from the ring, one message taken, flag still set.
	_, ok := q.Pop()
	require.True(t, ok)
	q.Push(message.Message{Session: 2})
	assert.Nil(t, g.Pop())

	// The dispatcher's heartbeat is the only way back in.
	q.ForcePush()
	assert.Same(t, q, g.Pop())
	assert.Nil(t, g.Pop())
}

func TestReleaseDrainsOnlyWhenMarked(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)
	q.Push(message.Message{Session: 1, Data: []byte("a")})
	q.Push(message.Message{Session: 2, Data: []byte("b")})
	q.ForcePush()
	require.Same(t, q, g.Pop())

	// Not marked yet: the retirement race is still in flight, the queue is
	// pushed back for a later pass.
	assert.Nil(t, q.Release())
	require.Same(t, q, g.Pop())

	q.MarkRelease()
	dropped := q.Release()
	require.Len(t, dropped, 2)
	assert.EqualValues(t, 1, dropped[0].Session)
	assert.EqualValues(t, 2, dropped[1].Session)
	assert.Equal(t, 0, q.Len())
}

func TestMarkReleaseWakesIdleQueue(t *testing.T) {
	g := NewGlobal()
	q := New(g, 7)
	q.ForcePush()
	require.Same(t, q, g.Pop())
	_, ok := q.Pop()
	require.False(t, ok) // out of circulation now

	q.MarkRelease()
	// The mark re-enqueues so a worker comes around to drain it.
	assert.Same(t, q, g.Pop())
	assert.Empty(t, q.Release())
}

func TestGlobalRingGrowth(t *testing.T) {
	g := NewGlobal()
	queues := make([]*Queue, 100)
	for i := range queues {
		queues[i] = New(g, message.Handle(i+1))
		queues[i].ForcePush()
	}
	require.Equal(t, 100, g.Len())
	for i := range queues {
		assert.Same(t, queues[i], g.Pop())
	}
	assert.Nil(t, g.Pop())
}

func TestQueueHandle(t *testing.T) {
	g := NewGlobal()
	q := New(g, 0x0100002A)
	assert.EqualValues(t, 0x0100002A, q.Handle())
}
