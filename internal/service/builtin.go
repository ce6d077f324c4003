// Package service ships the built-in service modules every node carries:
// the blackhole dead-letter target, the echo responder, the launcher and the
// per-group multicast relay.
package service

import (
	"log/slog"
	"strconv"

	"github.com/rushrushgogogo/skynet/internal/core"
	"github.com/rushrushgogogo/skynet/internal/group"
	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/module"
)

// Register adds every built-in module to the loader registry.
func Register(reg *module.Registry, groups *group.Manager, logger *slog.Logger) {
	reg.Add(module.NewFactory("blackhole", func() (core.Service, error) {
		return &Blackhole{}, nil
	}))
	reg.Add(module.NewFactory("echo", func() (core.Service, error) {
		return &Echo{}, nil
	}))
	reg.Add(module.NewFactory("launcher", func() (core.Service, error) {
		return &Launcher{logger: logger}, nil
	}))
	reg.Add(module.NewFactory(group.AgentModule, func() (core.Service, error) {
		return &GroupAgent{groups: groups}, nil
	}))
}

// Blackhole accepts and discards everything sent to it.
type Blackhole struct{}

// Init installs the discarding callback.
func (b *Blackhole) Init(ctx *core.Context, param string) error {
	ctx.SetCallback(nil, func(*core.Context, any, int32, message.Handle, []byte) bool {
		return false
	})
	return nil
}

// Release implements [core.Service].
func (b *Blackhole) Release() {}

// Echo replies to every message with the same payload and session. A
// negative (request) session is passed to Send as is, so that reply goes out
// under a session freshly allocated by the echo service.
type Echo struct{}

// Init installs the echoing callback.
func (e *Echo) Init(ctx *core.Context, param string) error {
	ctx.SetCallback(nil, func(ctx *core.Context, _ any, session int32, source message.Handle, data []byte) bool {
		if source == 0 {
			// Timer wakes have nothing to echo to.
			return false
		}
		ctx.Send(source, session, data, 0)
		return false
	})
	return nil
}

// Release implements [core.Service].
func (e *Echo) Release() {}

// Launcher starts services on request: the payload is a launch line in the
// LAUNCH grammar and the reply is the new service's ":hex" handle, or empty
// on failure.
type Launcher struct {
	logger *slog.Logger
}

// Init installs the launching callback.
func (l *Launcher) Init(ctx *core.Context, param string) error {
	ctx.SetCallback(nil, func(ctx *core.Context, _ any, session int32, source message.Handle, data []byte) bool {
		result := ctx.Command("LAUNCH", string(data))
		if result == "" {
			l.logger.Warn("launch request failed", "line", string(data))
		}
		if source != 0 {
			ctx.Send(source, session, []byte(result), 0)
		}
		return false
	})
	return nil
}

// Release implements [core.Service].
func (l *Launcher) Release() {}

// GroupAgent is the relay behind a group's public address: every delivery is
// republished to the group's multicast channel.
type GroupAgent struct {
	groups *group.Manager
}

// Init parses the group id and installs the relay callback. The channel is
// resolved per delivery, not here: the agent is launched while the group
// registry lock is held.
func (g *GroupAgent) Init(ctx *core.Context, param string) error {
	id, err := strconv.Atoi(param)
	if err != nil {
		return err
	}
	ctx.SetCallback(nil, func(_ *core.Context, _ any, _ int32, source message.Handle, data []byte) bool {
		// Publish copies data into the envelope, so the buffer is not reserved.
		g.groups.Channel(id).Publish(source, data)
		return false
	})
	return nil
}

// Release implements [core.Service].
func (g *GroupAgent) Release() {}
