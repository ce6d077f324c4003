package core

import (
	"github.com/rushrushgogogo/skynet/internal/message"
)

const hexDigits = "0123456789ABCDEF"

// IDToHex renders a handle as its wire form: a colon followed by exactly
// eight uppercase hex digits.
func IDToHex(id message.Handle) string {
	var buf [9]byte
	buf[0] = ':'
	for i := 0; i < 8; i++ {
		buf[i+1] = hexDigits[(id>>((7-i)*4))&0xf]
	}
	return string(buf[:])
}

// ParseHex decodes up to eight hex digits into a handle, stopping at the
// first non-hex byte. An unparsable string yields zero.
func ParseHex(s string) message.Handle {
	var h message.Handle
	for i := 0; i < len(s) && i < 8; i++ {
		var d message.Handle
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			d = message.Handle(c - '0')
		case c >= 'a' && c <= 'f':
			d = message.Handle(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = message.Handle(c-'A') + 10
		default:
			return h
		}
		h = h<<4 | d
	}
	return h
}

// QueryName resolves a textual address to a handle: ":hex" decodes directly,
// ".name" consults the local registry. Global names cannot be queried and
// resolve to zero with a logged error.
func (s *System) QueryName(ctx *Context, name string) message.Handle {
	if name == "" {
		return 0
	}
	switch name[0] {
	case ':':
		return ParseHex(name[1:])
	case '.':
		return s.registry.FindName(name[1:])
	}
	s.errorf(ctx, "unsupported global name query", "name", name)
	return 0
}

// QueryName resolves a textual address from this context.
func (c *Context) QueryName(name string) message.Handle {
	return c.system.QueryName(c, name)
}
