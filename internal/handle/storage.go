// Package handle implements the handle registry: allocation of per-context
// ids, grab-with-refcount lookup, local name binding and retirement.
package handle

import (
	"sync"

	"github.com/rushrushgogogo/skynet/internal/core"
	"github.com/rushrushgogogo/skynet/internal/message"
)

// Storage maps live handles to their contexts. It holds one reference to
// every registered context (part of the initial refcount of two); Retire
// drops that reference, after which only in-flight grabs keep the context
// alive.
type Storage struct {
	harbor uint32

	mu       sync.RWMutex
	contexts map[message.Handle]*core.Context
	names    map[string]message.Handle
	lastID   uint32
}

// NewStorage creates an empty registry for the given harbor id.
func NewStorage(harborID uint32) *Storage {
	return &Storage{
		harbor:   harborID,
		contexts: make(map[message.Handle]*core.Context),
		names:    make(map[string]message.Handle),
	}
}

// Register assigns ctx a fresh handle carrying the node's harbor id.
func (s *Storage) Register(ctx *core.Context) message.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.lastID++
		id := s.lastID & uint32(message.HandleMask)
		if id == 0 {
			// zero is reserved for "unset/self"
			continue
		}
		h := message.Handle(id | s.harbor<<message.HarborShift)
		if _, taken := s.contexts[h]; taken {
			continue
		}
		s.contexts[h] = ctx
		return h
	}
}

// Grab resolves h to its live context, incrementing the refcount so the
// caller may use it until the matching Release. A retired handle resolves to
// nil. The increment is safe under the read lock: while a context is still
// registered the registry's own reference keeps the count above zero.
func (s *Storage) Grab(h message.Handle) *core.Context {
	s.mu.RLock()
	ctx, ok := s.contexts[h]
	if ok {
		ctx.Grab()
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return ctx
}

// Retire removes h from the registry and drops the registry's reference.
// Physical destruction waits for the remaining grabs to release.
func (s *Storage) Retire(h message.Handle) bool {
	s.mu.Lock()
	ctx, ok := s.contexts[h]
	if ok {
		delete(s.contexts, h)
		for name, bound := range s.names {
			if bound == h {
				delete(s.names, name)
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ctx.Release()
	return true
}

// FindName resolves a local ".name" binding, zero when unbound.
func (s *Storage) FindName(name string) message.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[name]
}

// NameHandle binds name to h. The binding fails on a clash with a different
// handle or when h is not registered.
func (s *Storage) NameHandle(h message.Handle, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.contexts[h]; !live {
		return "", false
	}
	if bound, exists := s.names[name]; exists && bound != h {
		return "", false
	}
	s.names[name] = h
	return name, true
}

// Each calls fn for every live context, for diagnostics.
func (s *Storage) Each(fn func(h message.Handle, ctx *core.Context)) {
	s.mu.RLock()
	handles := make([]message.Handle, 0, len(s.contexts))
	ctxs := make([]*core.Context, 0, len(s.contexts))
	for h, ctx := range s.contexts {
		handles = append(handles, h)
		ctxs = append(ctxs, ctx)
	}
	s.mu.RUnlock()
	for i := range handles {
		fn(handles[i], ctxs[i])
	}
}
