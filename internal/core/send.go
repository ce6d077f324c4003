package core

import (
	"bytes"

	"github.com/rushrushgogogo/skynet/internal/message"
)

// SendFlags adjust payload handling on the send path.
type SendFlags int

const (
	// DontCopy transfers the caller's buffer as-is; the caller must not
	// retain or reuse it afterwards.
	DontCopy SendFlags = 1 << iota
)

func payload(data []byte, flags SendFlags) []byte {
	if flags&DontCopy != 0 || data == nil {
		return data
	}
	// The copy is what travels; callers keep their slice.
	return bytes.Clone(data)
}

// Send routes a message from source to destination. A zero source stands for
// the sending context itself; a negative session requests allocation of a
// fresh one, which is returned. Returns -1 when the destination dropped the
// message.
func (s *System) Send(ctx *Context, source, destination message.Handle, session int32, data []byte, flags SendFlags) int32 {
	sessionID := session
	if source == 0 {
		source = ctx.handle
	}
	if session < 0 {
		session = ctx.NewSession()
		// The wire carries the negated id so the receiver can tell a
		// request (reply expected) from a plain correlation.
		sessionID = -session
	}

	msg := payload(data, flags)
	if destination == 0 {
		// No destination: the session allocation side effect still stands.
		return session
	}

	if s.harbor.IsRemote(destination) {
		rmsg := &message.Remote{
			Destination: destination,
			Message:     msg,
			Source:      source,
			Session:     sessionID,
		}
		if err := s.harbor.Send(rmsg); err != nil {
			s.errorf(ctx, "drop remote message",
				"from", IDToHex(source), "to", IDToHex(destination), "size", len(msg), "err", err)
			return -1
		}
		return session
	}

	err := s.push(destination, message.Message{Source: source, Session: sessionID, Data: msg})
	if err != nil {
		s.errorf(nil, "drop message",
			"from", IDToHex(source), "to", IDToHex(destination), "size", len(msg))
		return -1
	}
	return session
}

// SendName routes a message by textual address: ":hex" for a handle, ".name"
// for a locally registered name, anything else for a harbor-published global
// name. The session allocation side effect is preserved even when the name
// does not resolve, to keep caller state machines consistent.
func (s *System) SendName(ctx *Context, addr string, session int32, data []byte, flags SendFlags) int32 {
	sessionID := session
	source := ctx.handle
	if session < 0 {
		session = ctx.NewSession()
		sessionID = -session
	}

	msg := payload(data, flags)
	if addr == "" {
		return session
	}

	var destination message.Handle
	switch addr[0] {
	case ':':
		destination = ParseHex(addr[1:])
	case '.':
		destination = s.registry.FindName(addr[1:])
		if destination == 0 {
			s.errorf(ctx, "drop message to unknown name", "to", addr, "size", len(msg))
			return session
		}
	default:
		rmsg := &message.Remote{
			Name:    addr,
			Message: msg,
			Source:  source,
			Session: sessionID,
		}
		if err := s.harbor.Send(rmsg); err != nil {
			s.errorf(ctx, "drop global message", "to", addr, "size", len(msg), "err", err)
		}
		return session
	}

	if s.harbor.IsRemote(destination) {
		rmsg := &message.Remote{
			Destination: destination,
			Message:     msg,
			Source:      source,
			Session:     sessionID,
		}
		if err := s.harbor.Send(rmsg); err != nil {
			s.errorf(ctx, "drop remote message",
				"from", IDToHex(source), "to", addr, "size", len(msg), "err", err)
			return -1
		}
		return session
	}

	err := s.push(destination, message.Message{Source: source, Session: sessionID, Data: msg})
	if err != nil {
		s.errorf(nil, "drop message",
			"from", IDToHex(source), "to", addr, "size", len(msg))
		return -1
	}
	return session
}

// Send is the context-scoped send: the context itself is the source.
func (c *Context) Send(destination message.Handle, session int32, data []byte, flags SendFlags) int32 {
	return c.system.Send(c, 0, destination, session, data, flags)
}

// SendName sends by textual address from this context.
func (c *Context) SendName(addr string, session int32, data []byte, flags SendFlags) int32 {
	return c.system.SendName(c, addr, session, data, flags)
}
