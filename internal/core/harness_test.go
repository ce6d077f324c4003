package core_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushrushgogogo/skynet/internal/core"
	"github.com/rushrushgogogo/skynet/internal/env"
	"github.com/rushrushgogogo/skynet/internal/group"
	"github.com/rushrushgogogo/skynet/internal/handle"
	"github.com/rushrushgogogo/skynet/internal/message"
	"github.com/rushrushgogogo/skynet/internal/module"
	"github.com/rushrushgogogo/skynet/internal/mq"
	"github.com/rushrushgogogo/skynet/internal/multicast"
	"github.com/rushrushgogogo/skynet/internal/service"
)

type timeoutReq struct {
	handle  message.Handle
	ticks   int
	session int32
}

type fakeTimer struct {
	mu       sync.Mutex
	timeouts []timeoutReq
	now      uint32
	start    uint32
}

func (t *fakeTimer) Timeout(h message.Handle, ticks int, session int32) {
	t.mu.Lock()
	t.timeouts = append(t.timeouts, timeoutReq{handle: h, ticks: ticks, session: session})
	t.mu.Unlock()
}

func (t *fakeTimer) Now() uint32       { return t.now }
func (t *fakeTimer) StartTime() uint32 { return t.start }

type fakeHarbor struct {
	mu      sync.Mutex
	local   uint32
	sent    []*message.Remote
	names   []message.RemoteName
	sendErr error
}

func (h *fakeHarbor) IsRemote(handle message.Handle) bool {
	return handle.Harbor() != h.local
}

func (h *fakeHarbor) Send(rmsg *message.Remote) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, rmsg)
	return nil
}

func (h *fakeHarbor) Register(name message.RemoteName) error {
	h.mu.Lock()
	h.names = append(h.names, name)
	h.mu.Unlock()
	return nil
}

type harness struct {
	sys     *core.System
	storage *handle.Storage
	loader  *module.Registry
	timer   *fakeTimer
	harbor  *fakeHarbor
	groups  *group.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	storage := handle.NewStorage(0)
	loader := module.NewRegistry()
	ft := &fakeTimer{}
	fh := &fakeHarbor{local: 0}
	mc := multicast.NewManager(logger)
	groups := group.NewManager(mc)

	sys := core.NewSystem(core.SystemParams{
		Registry:  storage,
		Loader:    loader,
		Global:    mq.NewGlobal(),
		Timer:     ft,
		Harbor:    fh,
		Multicast: mc,
		Groups:    groups,
		Env:       env.NewStore(nil),
		Logger:    logger,
	})
	mc.SetSink(sys)
	groups.Bind(func(mod, param string) (message.Handle, error) {
		ctx, err := sys.Launch(mod, param)
		if err != nil {
			return 0, err
		}
		if ctx == nil {
			return 0, fmt.Errorf("%s exited during init", mod)
		}
		return ctx.Handle(), nil
	}, storage.Retire)
	service.Register(loader, groups, logger)

	return &harness{sys: sys, storage: storage, loader: loader, timer: ft, harbor: fh, groups: groups}
}

// drain runs the dispatch loop until the ready ring is idle.
func (h *harness) drain() {
	for h.sys.DispatchMessage() {
	}
}

type record struct {
	session int32
	source  message.Handle
	data    string
}

// probe is a test service recording every delivery; onMessage, when set,
// decides the reserve result and may drive the context.
type probe struct {
	mu        sync.Mutex
	records   []record
	onInit    func(ctx *core.Context) error
	onMessage func(ctx *core.Context, session int32, source message.Handle, data []byte) bool
}

func (p *probe) Init(ctx *core.Context, param string) error {
	ctx.SetCallback(nil, func(ctx *core.Context, _ any, session int32, source message.Handle, data []byte) bool {
		p.mu.Lock()
		p.records = append(p.records, record{session: session, source: source, data: string(data)})
		p.mu.Unlock()
		if p.onMessage != nil {
			return p.onMessage(ctx, session, source, data)
		}
		return false
	})
	if p.onInit != nil {
		return p.onInit(ctx)
	}
	return nil
}

func (p *probe) Release() {}

func (p *probe) recorded() []record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]record(nil), p.records...)
}

type initService struct {
	init func(ctx *core.Context, param string) error
}

func (s *initService) Init(ctx *core.Context, param string) error { return s.init(ctx, param) }
func (s *initService) Release()                                   {}

// moduleFactory wraps a bare init function as a loadable module.
func moduleFactory(name string, init func(ctx *core.Context, param string) error) core.Factory {
	return module.NewFactory(name, func() (core.Service, error) {
		return &initService{init: init}, nil
	})
}

// launchProbe registers a one-off module for p and launches it.
func (h *harness) launchProbe(t *testing.T, name string, p *probe) *core.Context {
	t.Helper()
	h.loader.Add(module.NewFactory(name, func() (core.Service, error) { return p, nil }))
	ctx, err := h.sys.Launch(name, "")
	require.NoError(t, err)
	require.NotNil(t, ctx)
	return ctx
}
