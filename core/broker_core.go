package core

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/cosim-runtime/internal/logging"
)

// BrokerCore is the broker-facing half of a node: it authoritatively
// resolves global name collisions for its subtree (or, at the root, for the
// whole federation), allocates node indices for children, and drives the
// registration/disconnection protocol described in spec §4.5 and §4.6.
// Grounded on CoreBroker in the original source, generalized to Go
// composition (spec §9 design note) the same way CoreBase is.
type BrokerCore struct {
	Base *BrokerBase

	nodeIndex uint16
	isRoot    bool
	log       logging.Logger

	parentSend func(ActionMessage)

	mu           sync.Mutex
	children     map[uint16]func(ActionMessage) // node index -> send function
	nextChildIdx uint16
	globalNames  map[string]GlobalId // root-authoritative; empty on non-root brokers
	coordinator  *TimeCoordinator    // aggregates the subtree's time state
	minChildren  int
	registered   int
	initDone     bool

	initTimer *time.Timer // arms ActionInitTimeout; nil once initDone or if minChildren == 0
}

// NewBrokerCore constructs a BrokerCore. isRoot selects whether this broker
// keeps the authoritative global name table (only the root does; interior
// brokers forward REGISTER_* upward and rely on the root's NAME_COLLISION /
// BROADCAST_NAME_TABLE replies).
func NewBrokerCore(nodeIndex uint16, isRoot bool, parentSend func(ActionMessage), log logging.Logger, opts Options) *BrokerCore {
	if log == nil {
		log = logging.Noop()
	}
	b := &BrokerCore{
		nodeIndex:    nodeIndex,
		isRoot:       isRoot,
		log:          log,
		parentSend:   parentSend,
		children:     make(map[uint16]func(ActionMessage)),
		nextChildIdx: 1,
		globalNames:  make(map[string]GlobalId),
		minChildren:  opts.MinBrokers + opts.MinFederates,
	}
	b.coordinator = NewTimeCoordinator(NewNodeId(nodeIndex), b.deliverCoordinatorOutput)
	b.Base = NewBrokerBase(NewNodeId(nodeIndex).String(), b, log, opts)

	if opts.Timeout > 0 && b.minChildren > 0 {
		b.initTimer = time.AfterFunc(opts.Timeout, func() {
			b.AddActionMessage(ActionMessage{Action: ActionInitTimeout, SourceID: NewNodeId(nodeIndex)})
		})
	}
	return b
}

// Run starts the actor loop.
func (b *BrokerCore) Run(ctx context.Context) { b.Base.Run(ctx) }

// AddActionMessage enqueues an inbound ActionMessage from a child link or
// the transport layer.
func (b *BrokerCore) AddActionMessage(m ActionMessage) { b.Base.AddActionMessage(m) }

// AllocateChildIndex assigns the next node index and installs send as the
// route to reach it (spec §4.5: "the root assigns node indices to joining
// cores/brokers").
func (b *BrokerCore) AllocateChildIndex(send func(ActionMessage)) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.nextChildIdx
	b.nextChildIdx++
	b.children[idx] = send
	return idx
}

func (b *BrokerCore) routeToChild(destNode uint16, m ActionMessage) bool {
	b.mu.Lock()
	send, ok := b.children[destNode]
	b.mu.Unlock()
	if !ok {
		return false
	}
	send(m)
	return true
}

// ---- CommandProcessor ----

// ProcessCommand handles regular-band traffic: TICK bookkeeping and
// forwarding of value publications that pass through this broker on their
// way from a source core to a destination core.
func (b *BrokerCore) ProcessCommand(m ActionMessage) {
	switch m.Action {
	case ActionTick, ActionStop:
		// no broker-specific bookkeeping beyond BrokerBase's own counters.
	case ActionPublish:
		b.forward(m)
	default:
		b.log.Debug(context.Background(), "broker: unhandled regular command", logging.Any("action", m.Action.String()))
	}
}

// ProcessPriorityCommand handles registration, name resolution, time
// aggregation, and disconnect/error/query traffic passing through this
// broker.
func (b *BrokerCore) ProcessPriorityCommand(m ActionMessage) {
	switch m.Action {
	case ActionRegisterBroker, ActionRegisterFederate, ActionRegisterPublication, ActionRegisterInput, ActionRegisterEndpoint:
		b.handleRegistration(m)

	case ActionAddSourceTarget, ActionBroadcastNameTable:
		b.forward(m)

	case ActionTimeRequest, ActionTimeGrant, ActionTimeDependency:
		b.aggregateTime(m)

	case ActionAddDependency:
		b.coordinator.AddDependency(m.SourceID, m.Flags.Has(FlagIterate))
		b.addDependentEdge(m.SourceID, m.DestID)
	case ActionRemoveDependency:
		b.coordinator.RemoveDependency(m.SourceID)
		b.removeDependentEdge(m.SourceID, m.DestID)
	case ActionAddDependent:
		b.coordinator.AddDependent(m.SourceID)
	case ActionRemoveDependent:
		b.coordinator.RemoveDependent(m.SourceID)

	case ActionDisconnect:
		b.handleDisconnect(m)

	case ActionInitTimeout:
		b.handleInitTimeout()

	case ActionError:
		b.log.Error(context.Background(), "broker: propagated error", logging.String("from", m.SourceID.String()))
		if !b.isRoot && b.parentSend != nil {
			b.parentSend(m)
		}

	case ActionQuery, ActionQueryReply:
		b.forward(m)

	default:
		b.log.Debug(context.Background(), "broker: unhandled priority command", logging.Any("action", m.Action.String()))
	}
}

// ProcessDisconnect propagates DISCONNECT to every remaining child and, if
// this is not the root, to the parent (spec §4.6: "up and down the tree").
func (b *BrokerCore) ProcessDisconnect() {
	if b.initTimer != nil {
		b.initTimer.Stop()
	}
	b.mu.Lock()
	children := make([]func(ActionMessage), 0, len(b.children))
	for _, send := range b.children {
		children = append(children, send)
	}
	b.mu.Unlock()
	disc := ActionMessage{Action: ActionDisconnect, SourceID: NewNodeId(b.nodeIndex), DestID: NoId}
	for _, send := range children {
		send(disc)
	}
	if !b.isRoot && b.parentSend != nil {
		b.parentSend(disc)
	}
}

// handleRegistration resolves a name against the authoritative table at the
// root, or forwards upward from an interior broker (spec §4.5).
func (b *BrokerCore) handleRegistration(m ActionMessage) {
	if !b.isRoot {
		if b.parentSend != nil {
			b.parentSend(m)
		}
		return
	}
	b.mu.Lock()
	if _, exists := b.globalNames[m.Name]; exists && m.Name != "" {
		b.mu.Unlock()
		b.routeReply(m.SourceID.NodeIndex(), ActionMessage{Action: ActionNameCollision, DestID: m.SourceID, MessageID: m.MessageID, Name: m.Name})
		return
	}
	if m.Name != "" {
		b.globalNames[m.Name] = m.SourceID
	}
	b.registered++
	initDone := !b.initDone && b.minChildren > 0 && b.registered >= b.minChildren
	if initDone {
		b.initDone = true
	}
	b.mu.Unlock()

	b.routeReply(m.SourceID.NodeIndex(), m)

	if initDone {
		if b.initTimer != nil {
			b.initTimer.Stop()
		}
		b.broadcastNameTable()
	}
}

// handleInitTimeout implements the spec §5/§7 INIT_TIMEOUT behavior: if the
// required child count still hasn't registered by the deadline, this broker
// reports ERROR up and down its tree and tears itself down rather than
// waiting forever.
func (b *BrokerCore) handleInitTimeout() {
	b.mu.Lock()
	if b.initDone {
		b.mu.Unlock()
		return
	}
	registered, required := b.registered, b.minChildren
	children := make([]func(ActionMessage), 0, len(b.children))
	for _, send := range b.children {
		children = append(children, send)
	}
	b.mu.Unlock()

	b.log.Error(context.Background(), "broker: init-timeout elapsed before required children registered",
		logging.Int("registered", registered), logging.Int("required", required))

	errMsg := ActionMessage{Action: ActionError, SourceID: NewNodeId(b.nodeIndex), Payload: []byte("init-timeout")}
	for _, send := range children {
		send(errMsg)
	}
	if !b.isRoot && b.parentSend != nil {
		b.parentSend(errMsg)
	}

	b.ProcessDisconnect()
	b.Base.Terminate()
}

func (b *BrokerCore) broadcastNameTable() {
	b.mu.Lock()
	children := make([]func(ActionMessage), 0, len(b.children))
	for _, send := range b.children {
		children = append(children, send)
	}
	b.mu.Unlock()
	table := ActionMessage{Action: ActionBroadcastNameTable, SourceID: NewNodeId(b.nodeIndex)}
	for _, send := range children {
		send(table)
	}
}

func (b *BrokerCore) routeReply(destNode uint16, m ActionMessage) {
	if destNode == b.nodeIndex {
		return
	}
	if !b.routeToChild(destNode, m) && b.parentSend != nil {
		b.parentSend(m)
	}
}

// forward routes m towards its DestID: down to the matching child if one
// owns that node index, or up to the parent otherwise (spec §4.4).
func (b *BrokerCore) forward(m ActionMessage) {
	destNode := m.DestID.NodeIndex()
	if b.routeToChild(destNode, m) {
		return
	}
	if b.parentSend != nil {
		b.parentSend(m)
	}
}

// aggregateTime folds a child's time report into this broker's own
// coordinator, whose dependents are the broker's other children and (for a
// non-root broker) whose own grants are forwarded to the parent.
func (b *BrokerCore) aggregateTime(m ActionMessage) {
	switch m.Action {
	case ActionTimeRequest:
		b.coordinator.RequestTime(m.Time, m.Flags.Has(FlagIterate))
	case ActionTimeGrant:
		b.coordinator.ProcessTimeGrant(m.SourceID, m.Time)
	case ActionTimeDependency:
		b.coordinator.ProcessTimeDependency(m.SourceID, m.Time, DecodeMinDe(m.Payload))
	}
}

// addDependentEdge completes the reciprocal side of an ActionAddDependency
// crossing this broker: sourceID's owner (a child or, failing that, the
// parent) is told dependentID now depends on it, so its coordinator's
// TIME_DEPENDENCY/TIME_GRANT updates reach this broker's aggregate
// coordinator as sourceID advances (spec §4.3).
func (b *BrokerCore) addDependentEdge(sourceID, dependentID GlobalId) {
	out := ActionMessage{Action: ActionAddDependent, SourceID: dependentID, DestID: sourceID}
	if b.routeToChild(sourceID.NodeIndex(), out) {
		return
	}
	if !b.isRoot && b.parentSend != nil {
		b.parentSend(out)
	}
}

// removeDependentEdge is the reciprocal teardown for addDependentEdge.
func (b *BrokerCore) removeDependentEdge(sourceID, dependentID GlobalId) {
	out := ActionMessage{Action: ActionRemoveDependent, SourceID: dependentID, DestID: sourceID}
	if b.routeToChild(sourceID.NodeIndex(), out) {
		return
	}
	if !b.isRoot && b.parentSend != nil {
		b.parentSend(out)
	}
}

func (b *BrokerCore) deliverCoordinatorOutput(m ActionMessage) {
	if m.DestID != NoId && m.DestID != NewNodeId(b.nodeIndex) {
		if b.routeToChild(m.DestID.NodeIndex(), m) {
			return
		}
	}
	if !b.isRoot && b.parentSend != nil {
		b.parentSend(m)
	}
}

// handleDisconnect removes the disconnecting node as both a dependency and
// dependent of this broker's coordinator, drops its child route if it was a
// direct child, and forwards the notice onward. If every child has now
// disconnected and this broker itself is mid-shutdown, its actor loop will
// observe that via ChildCount when processing its own STOP.
func (b *BrokerCore) handleDisconnect(m ActionMessage) {
	b.coordinator.Disconnect(m.SourceID)
	b.mu.Lock()
	delete(b.children, m.SourceID.NodeIndex())
	b.mu.Unlock()

	if !b.isRoot && b.parentSend != nil {
		b.parentSend(m)
	}
	b.mu.Lock()
	children := make([]func(ActionMessage), 0, len(b.children))
	for idx, send := range b.children {
		if idx != m.SourceID.NodeIndex() {
			children = append(children, send)
		}
	}
	b.mu.Unlock()
	for _, send := range children {
		send(m)
	}
}
