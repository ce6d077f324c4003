// Package http serves the node's read-only debug console: a small chi
// router exposing health and the live service table.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rushrushgogogo/skynet/internal/core"
	"github.com/rushrushgogogo/skynet/internal/handle"
	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/mq"
)

type serviceInfo struct {
	Handle string `json:"handle"`
	Module string `json:"module"`
	Queue  int    `json:"queue"`
	Ref    int    `json:"ref"`
}

// Console is the debug HTTP server.
type Console struct {
	addr    string
	storage *handle.Storage
	global  *mq.Global
	logger  *slog.Logger
	server  *http.Server
}

// NewConsole builds a stopped console for addr; an empty addr disables it.
func NewConsole(addr string, storage *handle.Storage, global *mq.Global, logger *slog.Logger) *Console {
	return &Console{
		addr:    addr,
		storage: storage,
		global:  global,
		logger:  logger.With("component", "console"),
	}
}

func (c *Console) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/services", func(w http.ResponseWriter, _ *http.Request) {
		services := make([]serviceInfo, 0, 16)
		c.storage.Each(func(h message.Handle, ctx *core.Context) {
			services = append(services, serviceInfo{
				Handle: core.IDToHex(h),
				Module: ctx.ModuleName(),
				Queue:  ctx.QueueLen(),
				Ref:    ctx.Ref(),
			})
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"services": services,
			"ready":    c.global.Len(),
		})
	})
	return r
}

// Start begins serving; a disabled console starts as a no-op.
func (c *Console) Start() {
	if c.addr == "" {
		return
	}
	c.server = &http.Server{Addr: c.addr, Handler: c.router()}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("console serve failed", "addr", c.addr, "err", err)
		}
	}()
	c.logger.Info("console listening", "addr", c.addr)
}

// Stop shuts the server down gracefully.
func (c *Console) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.server.Shutdown(shutdownCtx)
}
