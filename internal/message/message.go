// Package message holds the shared wire records of the kernel: handles,
// sessions, local and remote message envelopes, and the reserved constants
// every other subsystem agrees on.
package message

import (
	"math"
	"sync/atomic"
)

// Handle identifies a live service context. The high 8 bits carry the harbor
// (node) id, the low 24 bits are locally unique. Zero means "unset/self".
type Handle uint32

const (
	// HarborShift splits a handle into its harbor and local parts.
	HarborShift = 24
	// HandleMask extracts the node-local part of a handle.
	HandleMask Handle = (1 << HarborShift) - 1

	// SystemTimer is the reserved source of timer deliveries. It sits in the
	// top harbor range so it can never collide with a live local handle.
	SystemTimer Handle = 0xffffff00

	// SessionMax bounds allocated sessions; the per-context counter wraps to 1.
	SessionMax int32 = math.MaxInt32
	// SessionMulticast marks a delivery as a multicast envelope. It is
	// unreachable by allocation (allocated sessions are >= 1) and by
	// caller-supplied correlation ids (negative sessions request allocation).
	SessionMulticast int32 = math.MinInt32

	// GlobalNameLength is the fixed width of harbor-published names.
	GlobalNameLength = 16
)

// Harbor returns the node id encoded in h.
func (h Handle) Harbor() uint32 { return uint32(h >> HarborShift) }

// Message is a single mailbox entry. Ownership of Data transfers into the
// mailbox on push and out on pop; after handing a message off, the sender
// must not retain the slice.
type Message struct {
	Source  Handle
	Session int32
	Data    []byte

	// Envelope is set instead of Data when Session == SessionMulticast; the
	// dispatcher hands it to the multicast subsystem for fan-out.
	Envelope *Envelope
}

// Size reports the payload length for drop accounting.
func (m *Message) Size() int {
	if m.Envelope != nil {
		return len(m.Envelope.Payload)
	}
	return len(m.Data)
}

// Remote is the hand-off record for harbor. Exactly one of Destination and
// Name addresses it: a non-zero Destination routes by handle, otherwise Name
// is a global name published somewhere in the cluster.
type Remote struct {
	Destination Handle
	Name        string
	Message     []byte
	Session     int32
	Source      Handle
}

// RemoteName binds a handle to a global name. Ownership transfers to harbor
// on Register.
type RemoteName struct {
	Name   string
	Handle Handle
}

// Envelope is a multicast payload shared by every subscriber's mailbox slot.
// The reference count tracks outstanding deliveries so fan-out statistics
// stay honest; Release reports when the last delivery consumed it.
type Envelope struct {
	Source  Handle
	Payload []byte
	ref     atomic.Int32
}

// NewEnvelope wraps a payload for fan-out with no outstanding references yet.
func NewEnvelope(source Handle, payload []byte) *Envelope {
	return &Envelope{Source: source, Payload: payload}
}

// Retain adds one outstanding delivery and returns the envelope for chaining.
func (e *Envelope) Retain() *Envelope {
	e.ref.Add(1)
	return e
}

// Release drops one outstanding delivery, reporting true when e was the last.
func (e *Envelope) Release() bool {
	return e.ref.Add(-1) == 0
}
