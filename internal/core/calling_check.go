//go:build callingcheck

package core

import "sync/atomic"

// callingGuard asserts the single-active-dispatch invariant: at most one
// worker may be inside a context's callback at any instant. Enabled with the
// callingcheck build tag; the release build carries no state.
type callingGuard struct {
	flag atomic.Int32
}

func (g *callingGuard) begin() {
	if !g.flag.CompareAndSwap(0, 1) {
		panic("skynet: concurrent dispatch on one context")
	}
}

func (g *callingGuard) end() {
	g.flag.Store(0)
}
