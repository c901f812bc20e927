package transport

import (
	"context"
	"sync"

	"github.com/signalsfoundry/cosim-runtime/core"
)

// InProcessHub wires a set of InProcessTransports together for a
// single-process federation (tests, demos, and the degenerate one-core
// federation with no network hop at all).
type InProcessHub struct {
	mu     sync.RWMutex
	nodes  map[uint16]*InProcessTransport
}

// NewInProcessHub constructs an empty hub.
func NewInProcessHub() *InProcessHub {
	return &InProcessHub{nodes: make(map[uint16]*InProcessTransport)}
}

// NewTransport registers and returns a transport for nodeIndex.
func (h *InProcessHub) NewTransport(nodeIndex uint16) *InProcessTransport {
	t := &InProcessTransport{hub: h, self: nodeIndex}
	h.mu.Lock()
	h.nodes[nodeIndex] = t
	h.mu.Unlock()
	return t
}

func (h *InProcessHub) deliver(ctx context.Context, destNode uint16, m core.ActionMessage) error {
	h.mu.RLock()
	dest, ok := h.nodes[destNode]
	h.mu.RUnlock()
	if !ok {
		return core.ErrTransportFailure
	}
	dest.mu.RLock()
	recv := dest.recv
	dest.mu.RUnlock()
	if recv != nil {
		recv(m)
	}
	return nil
}

// InProcessTransport delivers ActionMessages via direct function calls
// within the same process, grounded on the priority-queue actor idiom
// already used for local dispatch (no serialization needed).
type InProcessTransport struct {
	hub  *InProcessHub
	self uint16

	mu   sync.RWMutex
	recv func(core.ActionMessage)
}

func (t *InProcessTransport) Send(ctx context.Context, destNode uint16, m core.ActionMessage) error {
	return t.hub.deliver(ctx, destNode, m)
}

func (t *InProcessTransport) SetReceiver(fn func(core.ActionMessage)) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

func (t *InProcessTransport) Close() error {
	t.hub.mu.Lock()
	delete(t.hub.nodes, t.self)
	t.hub.mu.Unlock()
	return nil
}
