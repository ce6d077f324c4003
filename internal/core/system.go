package core

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/mq"
)

// Registry is the handle-registry contract the kernel consumes.
type Registry interface {
	Register(ctx *Context) message.Handle
	Retire(h message.Handle) bool
	Grab(h message.Handle) *Context
	FindName(name string) message.Handle
	NameHandle(h message.Handle, name string) (string, bool)
}

// Loader resolves module names to factories.
type Loader interface {
	Query(name string) (Factory, bool)
}

// Timer schedules future wakes and exposes the tick clock.
type Timer interface {
	Timeout(h message.Handle, ticks int, session int32)
	Now() uint32
	StartTime() uint32
}

// Harbor routes messages destined to remote nodes and publishes global names.
type Harbor interface {
	IsRemote(h message.Handle) bool
	Send(rmsg *message.Remote) error
	Register(name message.RemoteName) error
}

// Multicaster expands a multicast envelope into per-subscriber deliveries.
// Dispatch invokes deliver for this subscriber's share of the fan-out and
// releases the envelope reference the mailbox slot held.
type Multicaster interface {
	Dispatch(env *message.Envelope, deliver func(source message.Handle, payload []byte))
}

// Groups is the numeric group registry behind the GROUP command.
type Groups interface {
	Enter(group int, h message.Handle) error
	Leave(group int, h message.Handle) error
	Query(group int) (message.Handle, error)
	Clear(group int) error
}

// Environment is the runtime key/value table behind GETENV and SETENV.
type Environment interface {
	Get(key string) string
	Set(key, value string)
}

// System is the process-wide kernel: it owns the global ready ring and ties
// the handle registry, module loader, timer, harbor, multicast, group and
// environment collaborators together. Contexts are mutated only by their own
// dispatching worker; everything in here is safe under the worker pool.
type System struct {
	registry  Registry
	loader    Loader
	global    *mq.Global
	timer     Timer
	harbor    Harbor
	multicast Multicaster
	groups    Groups
	env       Environment
	logger    *slog.Logger
}

// SystemParams collects the kernel's collaborators for construction.
type SystemParams struct {
	fx.In

	Registry  Registry
	Loader    Loader
	Global    *mq.Global
	Timer     Timer
	Harbor    Harbor
	Multicast Multicaster
	Groups    Groups
	Env       Environment
	Logger    *slog.Logger
}

// NewSystem assembles the kernel around its collaborators.
func NewSystem(p SystemParams) *System {
	return &System{
		registry:  p.Registry,
		loader:    p.Loader,
		global:    p.Global,
		timer:     p.Timer,
		harbor:    p.Harbor,
		multicast: p.Multicast,
		groups:    p.Groups,
		env:       p.Env,
		logger:    p.Logger.With("component", "core"),
	}
}

// Module wires the kernel into the fx application.
var Module = fx.Module("core",
	fx.Provide(
		mq.NewGlobal,
		NewSystem,
	),
)

// Global exposes the ready ring for diagnostics.
func (s *System) Global() *mq.Global { return s.global }

// errorf is the kernel's error sink: every drop, rejection and delivery
// failure funnels through here with the acting service attached.
func (s *System) errorf(ctx *Context, msg string, args ...any) {
	logger := s.logger
	if ctx != nil {
		logger = logger.With("service", IDToHex(ctx.handle))
	}
	logger.Error(msg, args...)
}
