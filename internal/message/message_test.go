package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleHarborBits(t *testing.T) {
	assert.EqualValues(t, 0, Handle(0x00FFFFFF).Harbor())
	assert.EqualValues(t, 1, Handle(0x01000001).Harbor())
	assert.EqualValues(t, 255, Handle(0xFF000000).Harbor())
	assert.EqualValues(t, 255, SystemTimer.Harbor())
}

func TestEnvelopeRefCount(t *testing.T) {
	env := NewEnvelope(0x09, []byte("shared"))
	env.Retain()
	env.Retain()
	assert.False(t, env.Release())
	assert.True(t, env.Release())
}

func TestMessageSize(t *testing.T) {
	m := Message{Data: []byte("abc")}
	assert.Equal(t, 3, m.Size())

	mc := Message{Session: SessionMulticast, Envelope: NewEnvelope(1, []byte("abcdef"))}
	assert.Equal(t, 6, mc.Size())

	assert.Equal(t, 0, (&Message{}).Size())
}

func TestReservedConstantsDoNotCollide(t *testing.T) {
	// Allocated sessions are always >= 1; the sentinels must stay outside
	// that range.
	assert.Negative(t, SessionMulticast)
	assert.Positive(t, SessionMax)
	assert.NotEqual(t, SessionMulticast, -SessionMax)
}
