package core

import (
	"github.com/rushrushgogogo/skynet/internal/message"
)

// DispatchMessage runs one iteration of the dispatch loop: pop a ready
// mailbox, deliver exactly one of its messages to the owning service, then
// push the mailbox back into circulation. It reports false when the ready
// ring was empty so the caller can back off.
//
// The unconditional ForcePush at the end is the scheduling heartbeat: a
// non-empty mailbox is always revisited even if no new message arrives, and
// it is the only way a mailbox returns to the ring after dispatch.
func (s *System) DispatchMessage() bool {
	q := s.global.Pop()
	if q == nil {
		return false
	}

	handle := q.Handle()
	ctx := s.registry.Grab(handle)
	if ctx == nil {
		// Retired while queued; drain whatever is left and skip the slot.
		if dropped := q.Release(); len(dropped) > 0 {
			s.errorf(nil, "drop message queue",
				"handle", IDToHex(handle), "messages", len(dropped))
		}
		return true
	}

	msg, ok := q.Pop()
	if !ok {
		// Empty mailbox leaves circulation; the next push re-enqueues it.
		ctx.Release()
		return true
	}

	if ctx.cb == nil {
		s.errorf(nil, "drop message without callback",
			"from", IDToHex(msg.Source), "to", IDToHex(handle), "size", msg.Size())
	} else {
		s.dispatch(ctx, &msg)
	}

	q.ForcePush()
	ctx.Release()
	return true
}

func (s *System) dispatch(ctx *Context, msg *message.Message) {
	if !ctx.init {
		panic("skynet: dispatch before init")
	}
	ctx.calling.begin()
	defer ctx.calling.end()

	switch {
	case msg.Source == message.SystemTimer:
		// Timer deliveries carry the session in place and own their payload.
		ctx.cb(ctx, ctx.cbUD, msg.Session, 0, msg.Data)
	case msg.Session == message.SessionMulticast:
		s.multicast.Dispatch(msg.Envelope, func(source message.Handle, payload []byte) {
			ctx.cb(ctx, ctx.cbUD, 0, source, payload)
		})
	default:
		reserve := ctx.cb(ctx, ctx.cbUD, msg.Session, msg.Source, msg.Data)
		if s.forwarding(ctx, msg) {
			reserve = true
		}
		if !reserve {
			// Neither the callback nor a forward took the buffer; recycle.
			msg.Data = nil
		}
	}
}

// forwarding consumes the context's forward slot: when a callback armed it,
// the just-dispatched message is re-routed there with its source and session
// intact. Reports whether the buffer was taken over.
func (s *System) forwarding(ctx *Context, msg *message.Message) bool {
	if ctx.forward == 0 {
		return false
	}
	des := ctx.forward
	ctx.forward = 0
	if s.harbor.IsRemote(des) {
		rmsg := &message.Remote{
			Destination: des,
			Message:     msg.Data,
			Source:      msg.Source,
			Session:     msg.Session,
		}
		if err := s.harbor.Send(rmsg); err != nil {
			s.errorf(nil, "drop message on remote forward",
				"from", IDToHex(msg.Source), "to", IDToHex(des), "size", msg.Size(), "err", err)
		}
		return true
	}
	if err := s.push(des, *msg); err != nil {
		s.errorf(nil, "drop message on forward",
			"from", IDToHex(msg.Source), "to", IDToHex(des), "size", msg.Size())
	}
	return true
}

// push delivers m onto the destination's mailbox, grabbing the owning
// context for the duration of the push.
func (s *System) push(destination message.Handle, m message.Message) error {
	ctx := s.registry.Grab(destination)
	if ctx == nil {
		return ErrRetired
	}
	ctx.queue.Push(m)
	ctx.Release()
	return nil
}

// PushMessage exposes the local delivery path to collaborators (timer,
// harbor inbound) that synthesize messages for a handle.
func (s *System) PushMessage(destination message.Handle, m message.Message) error {
	return s.push(destination, m)
}
