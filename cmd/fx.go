package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"

	"github.com/rushrushgogogo/skynet/config"
	consolesrv "github.com/rushrushgogogo/skynet/infra/server/http"
	"github.com/rushrushgogogo/skynet/internal/core"
	"github.com/rushrushgogogo/skynet/internal/env"
	"github.com/rushrushgogogo/skynet/internal/group"
	"github.com/rushrushgogogo/skynet/internal/handle"
	"github.com/rushrushgogogo/skynet/internal/harbor"
	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/module"
	"github.com/rushrushgogogo/skynet/internal/multicast"
	"github.com/rushrushgogogo/skynet/internal/service"
	"github.com/rushrushgogogo/skynet/internal/timer"
	"github.com/rushrushgogogo/skynet/internal/worker"
)

// NewApp assembles the node: kernel, collaborators and their lifecycles.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvidePubSub,
			ProvideStorage,
			ProvideTimer,
			ProvideHarbor,
			ProvideEnv,
			module.NewRegistry,
			multicast.NewManager,
			group.NewManager,
			ProvideWorkers,
			ProvideConsole,

			// Collaborator interfaces the kernel consumes.
			func(s *handle.Storage) core.Registry { return s },
			func(r *module.Registry) core.Loader { return r },
			func(t *timer.Timer) core.Timer { return t },
			func(h *harbor.Harbor) core.Harbor { return h },
			func(m *multicast.Manager) core.Multicaster { return m },
			func(g *group.Manager) core.Groups { return g },
			func(e *env.Store) core.Environment { return e },
		),
		core.Module,
		timer.Module,
		fx.Invoke(registerBuiltins),
		fx.Invoke(wireKernel),
		fx.Invoke(runNode),
	)
}

// ProvideLogger builds the process logger the whole node shares.
func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// ProvidePubSub builds the in-process pubsub the harbor rides on.
func ProvidePubSub(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger))
}

// ProvideStorage builds the handle registry for the configured harbor id.
func ProvideStorage(cfg *config.Config) *handle.Storage {
	return handle.NewStorage(cfg.Harbor)
}

// ProvideTimer builds the tick clock.
func ProvideTimer(cfg *config.Config, logger *slog.Logger) *timer.Timer {
	return timer.New(cfg.Tick, logger)
}

// ProvideHarbor builds the node's harbor on the shared pubsub.
func ProvideHarbor(cfg *config.Config, ps *gochannel.GoChannel, logger *slog.Logger) (*harbor.Harbor, error) {
	return harbor.New(cfg.Harbor, ps, ps, logger)
}

// ProvideEnv seeds the runtime environment from config.
func ProvideEnv(cfg *config.Config) *env.Store {
	return env.NewStore(cfg.Env)
}

// ProvideWorkers sizes the dispatch pool.
func ProvideWorkers(cfg *config.Config, sys *core.System, logger *slog.Logger) *worker.Pool {
	return worker.NewPool(sys, cfg.Workers, logger)
}

// ProvideConsole builds the debug console.
func ProvideConsole(cfg *config.Config, storage *handle.Storage, sys *core.System, logger *slog.Logger) *consolesrv.Console {
	return consolesrv.NewConsole(cfg.DebugConsole, storage, sys.Global(), logger)
}

func registerBuiltins(reg *module.Registry, groups *group.Manager, logger *slog.Logger) {
	service.Register(reg, groups, logger)
}

// wireKernel closes the loops the constructors cannot: collaborators that
// deliver back into the kernel get their sinks, the group registry gets its
// launcher.
func wireKernel(sys *core.System, t *timer.Timer, h *harbor.Harbor, mc *multicast.Manager, g *group.Manager, storage *handle.Storage) {
	t.SetSink(sys)
	h.SetSink(sys)
	mc.SetSink(sys)
	g.Bind(
		func(mod, param string) (message.Handle, error) {
			ctx, err := sys.Launch(mod, param)
			if err != nil {
				return 0, err
			}
			if ctx == nil {
				return 0, fmt.Errorf("%s exited during init", mod)
			}
			return ctx.Handle(), nil
		},
		storage.Retire,
	)
}

func runNode(lc fx.Lifecycle, cfg *config.Config, sys *core.System, h *harbor.Harbor, pool *worker.Pool, console *consolesrv.Console, e *env.Store, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := h.Start(); err != nil {
				return err
			}
			pool.Start()
			console.Start()
			if cfg.Bootstrap != "" {
				mod, args, _ := strings.Cut(cfg.Bootstrap, " ")
				if _, err := sys.Launch(mod, args); err != nil {
					return fmt.Errorf("bootstrap: %w", err)
				}
				logger.Info("bootstrap launched", "line", cfg.Bootstrap)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := console.Stop(ctx); err != nil {
				logger.Error("console stop failed", "err", err)
			}
			if err := pool.Stop(); err != nil {
				return err
			}
			h.Stop()
			return nil
		},
	})

	// Keep the environment table in step with the config file on disk.
	config.Watch("", e.Merge)
}
