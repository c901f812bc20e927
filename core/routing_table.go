package core

import "sync"

// RoutingTable forwards ActionMessages by destination id (spec §4.4 "every
// ActionMessage routed via a broker has a dest-id resolvable in that
// broker's routing table or is forwarded to parent"). Each broker/core
// keeps one RoutingTable mapping a child node index to the send function
// for the link that reaches it.
type RoutingTable struct {
	mu       sync.RWMutex
	routes   map[uint16]func(ActionMessage)
	parent   func(ActionMessage)
	selfNode uint16
	local    func(ActionMessage) // delivered to this node's own handlers
}

// NewRoutingTable constructs a routing table for the node identified by
// selfNode.
func NewRoutingTable(selfNode uint16) *RoutingTable {
	return &RoutingTable{
		routes:   make(map[uint16]func(ActionMessage)),
		selfNode: selfNode,
	}
}

// SetLocalHandler installs the function invoked for messages destined to
// this node itself.
func (t *RoutingTable) SetLocalHandler(fn func(ActionMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = fn
}

// SetParent installs the forwarding function used when a destination node
// is not a known child (spec §4.4: "or is forwarded to parent"). A root
// broker has no parent, so leaving this unset is valid there.
func (t *RoutingTable) SetParent(fn func(ActionMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parent = fn
}

// AddChildRoute installs the forwarding function for messages destined to
// nodeIndex or any handle it owns.
func (t *RoutingTable) AddChildRoute(nodeIndex uint16, fn func(ActionMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[nodeIndex] = fn
}

// RemoveChildRoute deletes a previously-installed child route, e.g. on
// disconnect (spec §4.6).
func (t *RoutingTable) RemoveChildRoute(nodeIndex uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, nodeIndex)
}

// Route forwards m towards its DestID: to the local handler if it targets
// this node, to a known child route if the destination's node index is a
// child, or up to the parent otherwise. Returns false if there is nowhere
// to send it (no child route and no parent), the caller should then treat
// this as ErrTransportFailure / an unroutable message.
func (t *RoutingTable) Route(m ActionMessage) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	destNode := m.DestID.NodeIndex()
	if destNode == t.selfNode || m.DestID == NoId {
		if t.local != nil {
			t.local(m)
			return true
		}
		return false
	}
	if fn, ok := t.routes[destNode]; ok {
		fn(m)
		return true
	}
	if t.parent != nil {
		t.parent(m)
		return true
	}
	return false
}

// Broadcast forwards m to every known child route plus, if requested, the
// parent. Used for BROADCAST_NAME_TABLE and federation-wide DISCONNECT
// notices.
func (t *RoutingTable) Broadcast(m ActionMessage, includeParent bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, fn := range t.routes {
		fn(m)
	}
	if includeParent && t.parent != nil {
		t.parent(m)
	}
}

// ChildCount returns the number of currently-registered child routes.
func (t *RoutingTable) ChildCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
