//go:build !callingcheck

package core

// callingGuard is a no-op outside callingcheck builds.
type callingGuard struct{}

func (callingGuard) begin() {}
func (callingGuard) end()   {}
