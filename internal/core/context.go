// Package core implements the actor kernel: service contexts and their
// lifecycle, the dispatch loop the worker pool drives, message routing with
// forwarding and multicast fan-out, and the text command surface services use
// to manipulate the runtime.
package core

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/mq"
)

var (
	// ErrUnknownModule reports a launch of a module the loader cannot resolve.
	ErrUnknownModule = errors.New("unknown module")
	// ErrRetired reports a push to a handle that no longer resolves.
	ErrRetired = errors.New("destination retired")
)

// Callback handles one delivered message. Returning true means the service
// retains data beyond the call; the kernel then treats the buffer as consumed
// and will not recycle it.
type Callback func(ctx *Context, ud any, session int32, source message.Handle, data []byte) bool

// Service is the per-instance contract a module fulfils. Init runs on the
// creating goroutine before any dispatch; it is expected to call
// [Context.SetCallback] and may already send messages and issue commands.
type Service interface {
	Init(ctx *Context, param string) error
	Release()
}

// Factory produces instances of one named service module.
type Factory interface {
	Name() string
	Create() (Service, error)
}

// Context is the runtime record of a single service. It is created with a
// refcount of two (one for the creator, one for the handle registry) and is
// destroyed only after retirement once every outstanding grab released.
type Context struct {
	system   *System
	handle   message.Handle
	modName  string
	instance Service
	queue    *mq.Queue

	cb   Callback
	cbUD any

	ref       atomic.Int32
	sessionID atomic.Int32

	// forward holds the re-route destination set from inside a callback;
	// consumed and cleared right after the callback returns. Only the worker
	// currently dispatching this context touches it.
	forward message.Handle

	// init flips to true only after the module's Init returned successfully;
	// dispatching before that is a kernel bug.
	init bool

	calling callingGuard
}

// Handle returns the context's stable handle.
func (c *Context) Handle() message.Handle { return c.handle }

// ModuleName returns the name of the module the context runs.
func (c *Context) ModuleName() string { return c.modName }

// QueueLen reports the number of pending mailbox messages, for diagnostics.
func (c *Context) QueueLen() int { return c.queue.Len() }

// Ref reports the current reference count, for diagnostics.
func (c *Context) Ref() int { return int(c.ref.Load()) }

// Grab atomically takes one reference.
func (c *Context) Grab() {
	c.ref.Add(1)
}

// Release drops one reference. On the last release the module instance is
// released, the mailbox is marked for self-destruction on its next drain and
// nil is returned; callers use the nil result to gate post-release access.
func (c *Context) Release() *Context {
	if c.ref.Add(-1) == 0 {
		c.instance.Release()
		c.queue.MarkRelease()
		return nil
	}
	return c
}

// NewSession allocates the next correlation id from the context's monotonic
// counter, wrapping from SessionMax back to 1.
func (c *Context) NewSession() int32 {
	session := c.sessionID.Add(1)
	if session >= message.SessionMax {
		c.sessionID.Store(1)
		return 1
	}
	return session
}

// SetCallback installs the message callback. It may be set at most once,
// normally from the module's Init.
func (c *Context) SetCallback(ud any, cb Callback) {
	if c.cb != nil {
		panic("skynet: callback already set")
	}
	c.cb = cb
	c.cbUD = ud
}

// Forward re-routes the message currently being dispatched to destination
// instead of recycling it. Only the worker inside this context's callback may
// call it, and only once per delivery.
func (c *Context) Forward(destination message.Handle) {
	if c.forward != 0 {
		panic("skynet: forward slot already set")
	}
	c.forward = destination
}

// Inject pushes a synthesized message straight onto the context's own
// mailbox, bypassing send routing. Used for self-injection by the owner.
func (c *Context) Inject(data []byte, source message.Handle, session int32) {
	c.queue.Push(message.Message{Source: source, Session: session, Data: data})
}

// Launch creates and initializes a new service context running the named
// module. The returned context may be nil without error when the service
// retired itself during init.
func (s *System) Launch(name, param string) (*Context, error) {
	factory, ok := s.loader.Query(name)
	if !ok {
		return nil, fmt.Errorf("launch %s: %w", name, ErrUnknownModule)
	}
	inst, err := factory.Create()
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", name, err)
	}

	ctx := &Context{
		system:   s,
		modName:  name,
		instance: inst,
	}
	ctx.ref.Store(2)
	// Init may already use the handle and the mailbox, so both exist first.
	ctx.handle = s.registry.Register(ctx)
	queue := mq.New(s.global, ctx.handle)
	ctx.queue = queue

	ctx.calling.begin()
	err = inst.Init(ctx, param)
	ctx.calling.end()
	if err != nil {
		s.logger.Error("service init failed", "module", name, "handle", IDToHex(ctx.handle), "err", err)
		ctx.Release()
		s.registry.Retire(ctx.handle)
		// One trip around the ring so a worker drains the dead mailbox.
		queue.ForcePush()
		return nil, fmt.Errorf("launch %s: %w", name, err)
	}

	ret := ctx.Release()
	if ret != nil {
		ctx.init = true
	}
	// Force the mailbox into circulation even when empty so bootstrap
	// self-messages sent during init are dispatched.
	queue.ForcePush()
	return ret, nil
}
