package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus, routing Cast/Call directly to peer
// HandlerRegistries registered on the same bus. Used for single-process
// tests and for the concrete scenarios in spec.md §8.
type MemoryBus struct {
	mu       sync.RWMutex
	registry *MemoryRegistry
	handlers map[string]Handler
	host     string
}

// NewMemoryBus builds a MemoryBus for host, registering it into the
// shared peer directory every other MemoryBus built from registry also
// shares.
func NewMemoryBus(host string, registry *MemoryRegistry) *MemoryBus {
	b := &MemoryBus{registry: registry, handlers: make(map[string]Handler), host: host}
	registry.mu.Lock()
	registry.peers[host] = b
	registry.mu.Unlock()
	return b
}

// MemoryRegistry is the shared peer directory multiple MemoryBus
// instances (one per simulated host) register into.
type MemoryRegistry struct {
	mu    sync.Mutex
	peers map[string]*MemoryBus
}

// NewMemoryRegistry builds an empty shared peer directory.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{peers: make(map[string]*MemoryBus)}
}

// Register implements HandlerRegistry.
func (b *MemoryBus) Register(method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = h
}

// Cast implements Bus. An unreachable peer drops the cast silently,
// matching the fire-and-forget contract.
func (b *MemoryBus) Cast(ctx context.Context, host, method, payload string) error {
	peer := b.peer(host)
	if peer == nil {
		return nil
	}
	go func() {
		h := peer.handler(method)
		if h != nil {
			_, _ = h(ctx, payload)
		}
	}()
	return nil
}

// Call implements Bus.
func (b *MemoryBus) Call(ctx context.Context, host, method, payload string) (string, error) {
	peer := b.peer(host)
	if peer == nil {
		return "", fmt.Errorf("transport: host %q unreachable", host)
	}
	h := peer.handler(method)
	if h == nil {
		return "", fmt.Errorf("transport: host %q has no handler for %q", host, method)
	}
	return h(ctx, payload)
}

func (b *MemoryBus) peer(host string) *MemoryBus {
	b.registry.mu.Lock()
	defer b.registry.mu.Unlock()
	return b.registry.peers[host]
}

func (b *MemoryBus) handler(method string) Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[method]
}
