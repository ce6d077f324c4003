package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rushrushgogogo/skynet/internal/message"
)

func TestNewSessionMonotonic(t *testing.T) {
	ctx := &Context{}
	for want := int32(1); want <= 100; want++ {
		assert.Equal(t, want, ctx.NewSession())
	}
}

func TestNewSessionWrap(t *testing.T) {
	ctx := &Context{}
	ctx.sessionID.Store(message.SessionMax - 2)
	assert.Equal(t, message.SessionMax-1, ctx.NewSession())
	// The counter never reaches SessionMax; it wraps back to 1.
	assert.Equal(t, int32(1), ctx.NewSession())
	assert.Equal(t, int32(2), ctx.NewSession())
}

func TestSplitLaunch(t *testing.T) {
	cases := []struct {
		in, mod, args string
	}{
		{"echo", "echo", ""},
		{"echo hello world", "echo", "hello world"},
		{"  echo  padded", "echo", "padded"},
		{"echo line one\r\nline two", "echo", "line one"},
		{"echo\targs after tab", "echo", "args after tab"},
		{"", "", ""},
	}
	for _, c := range cases {
		mod, args := splitLaunch(c.in)
		assert.Equal(t, c.mod, mod, "input %q", c.in)
		assert.Equal(t, c.args, args, "input %q", c.in)
	}
}

func TestLeadingInt(t *testing.T) {
	assert.Equal(t, 10, leadingInt("10"))
	assert.Equal(t, 10, leadingInt(" 10 trailing"))
	assert.Equal(t, -3, leadingInt("-3"))
	assert.Equal(t, 0, leadingInt("junk"))
	assert.Equal(t, 0, leadingInt(""))
}
