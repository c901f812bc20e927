package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/cosim-runtime/internal/logging"
)

// FederateState is the lifecycle phase of a single federate hosted by a
// CoreBase (spec §4.6): Created -> Initializing -> Executing -> Finalizing
// -> Finalized. Transitions only ever move forward.
type FederateState int

const (
	FederateCreated FederateState = iota
	FederateInitializing
	FederateExecuting
	FederateFinalizing
	FederateFinalized
)

func (s FederateState) String() string {
	switch s {
	case FederateCreated:
		return "created"
	case FederateInitializing:
		return "initializing"
	case FederateExecuting:
		return "executing"
	case FederateFinalizing:
		return "finalizing"
	case FederateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

type federateRecord struct {
	id          GlobalId
	name        string
	state       FederateState
	coordinator *TimeCoordinator
}

// CoreBase is the federate-facing half of a node: it hosts zero or more
// federates, owns their handles, their published values, and one
// TimeCoordinator per federate. It implements CommandProcessor and is driven
// by an embedded BrokerBase actor loop. Grounded on CommonCore's role in the
// original source, generalized from "the C++ core process" to a composable
// Go type per the spec §9 design note.
type CoreBase struct {
	Base *BrokerBase

	nodeIndex uint16
	ids       *idAllocator
	handles   *HandleRegistry
	routing   *RoutingTable
	log       logging.Logger

	parentSend func(ActionMessage)

	mu              sync.Mutex
	federates       map[GlobalId]*federateRecord
	federatesByName map[string]GlobalId
	values          map[GlobalId]*ValueCell   // keyed by input handle id
	sourceToInputs  map[GlobalId][]GlobalId   // publication handle id -> matched input ids
	pendingReply    map[uint64]chan ActionMessage
	pendingTime     map[GlobalId]chan ActionMessage

	nextMessageID uint64
}

// NewCoreBase constructs a CoreBase for node index nodeIndex. parentSend
// forwards an ActionMessage towards this core's parent broker; it is nil for
// a core with no broker (a degenerate single-core federation).
func NewCoreBase(nodeIndex uint16, parentSend func(ActionMessage), log logging.Logger, opts Options) *CoreBase {
	if log == nil {
		log = logging.Noop()
	}
	c := &CoreBase{
		nodeIndex:       nodeIndex,
		ids:             newIdAllocator(nodeIndex),
		handles:         NewHandleRegistry(),
		routing:         NewRoutingTable(nodeIndex),
		log:             log,
		parentSend:      parentSend,
		federates:       make(map[GlobalId]*federateRecord),
		federatesByName: make(map[string]GlobalId),
		values:          make(map[GlobalId]*ValueCell),
		sourceToInputs:  make(map[GlobalId][]GlobalId),
		pendingReply:    make(map[uint64]chan ActionMessage),
		pendingTime:     make(map[GlobalId]chan ActionMessage),
	}
	c.routing.SetLocalHandler(c.AddActionMessage)
	if parentSend != nil {
		c.routing.SetParent(parentSend)
	}
	c.Base = NewBrokerBase(NewNodeId(nodeIndex).String(), c, log, opts)
	return c
}

// Run starts the actor loop; it blocks until termination.
func (c *CoreBase) Run(ctx context.Context) { c.Base.Run(ctx) }

// AddActionMessage enqueues an inbound ActionMessage, from the transport
// layer or from a sibling routing table.
func (c *CoreBase) AddActionMessage(m ActionMessage) { c.Base.AddActionMessage(m) }

func (c *CoreBase) nextID() uint64 { return atomic.AddUint64(&c.nextMessageID, 1) }

// registerPending installs a reply channel for id, to be fulfilled from the
// actor loop goroutine when a correlated reply arrives.
func (c *CoreBase) registerPending(id uint64) chan ActionMessage {
	ch := make(chan ActionMessage, 1)
	c.mu.Lock()
	c.pendingReply[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *CoreBase) fulfillPending(id uint64, m ActionMessage) {
	c.mu.Lock()
	ch, ok := c.pendingReply[id]
	if ok {
		delete(c.pendingReply, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *CoreBase) awaitReply(ctx context.Context, id uint64, ch chan ActionMessage) (ActionMessage, error) {
	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingReply, id)
		c.mu.Unlock()
		return ActionMessage{}, ctx.Err()
	}
}

// ---- Blocking API surface, safe to call from any goroutine ----

// RegisterFederate creates a new federate under this core, blocking until
// the root broker has confirmed no name collision exists (spec §4.5).
func (c *CoreBase) RegisterFederate(ctx context.Context, name string) (GlobalId, error) {
	id, err := c.ids.allocate()
	if err != nil {
		return NoId, err
	}
	mid := c.nextID()
	ch := c.registerPending(mid)
	c.AddActionMessage(ActionMessage{
		Action:    ActionRegisterFederate,
		SourceID:  id,
		DestID:    NoId,
		MessageID: mid,
		Name:      name,
	})
	reply, err := c.awaitReply(ctx, mid, ch)
	if err != nil {
		return NoId, err
	}
	if reply.Action == ActionNameCollision {
		return NoId, ErrNameCollision
	}
	return id, nil
}

// RegisterHandle registers a publication, input, or endpoint owned by
// federateID, blocking until any global-name collision check clears.
func (c *CoreBase) RegisterHandle(ctx context.Context, federateID GlobalId, kind HandleKind, key string, global bool, typeTag, units string, opts HandleOption) (GlobalId, error) {
	id, err := c.ids.allocate()
	if err != nil {
		return NoId, err
	}
	h := &Handle{
		ID: id, Kind: kind, Key: key, Global: global,
		TypeTag: typeTag, Units: units, Options: opts, FederateID: federateID,
	}
	if err := c.handles.Register(h); err != nil {
		return NoId, err
	}
	if kind == HandleInput {
		c.mu.Lock()
		c.values[id] = NewValueCell(nil, opts)
		c.mu.Unlock()
	}

	action := ActionRegisterPublication
	switch kind {
	case HandleInput:
		action = ActionRegisterInput
	case HandleSourceEndpoint, HandleDestinationEndpoint:
		action = ActionRegisterEndpoint
	}

	mid := c.nextID()
	ch := c.registerPending(mid)
	c.AddActionMessage(ActionMessage{
		Action: action, SourceID: id, DestID: NoId, MessageID: mid, Name: h.QualifiedKey(),
	})
	reply, err := c.awaitReply(ctx, mid, ch)
	if err != nil {
		c.handles.Remove(id)
		return NoId, err
	}
	if reply.Action == ActionNameCollision {
		c.handles.Remove(id)
		return NoId, ErrNameCollision
	}
	return id, nil
}

// EnterInitializing transitions a federate from Created to Initializing.
func (c *CoreBase) EnterInitializing(ctx context.Context, federateID GlobalId) error {
	return c.blockingLifecycle(ctx, federateID, ActionEnterInitializing)
}

// EnterExecuting transitions a federate from Initializing to Executing,
// establishing its TimeCoordinator and announcing its initial time state.
func (c *CoreBase) EnterExecuting(ctx context.Context, federateID GlobalId) error {
	return c.blockingLifecycle(ctx, federateID, ActionEnterExecuting)
}

// Finalize transitions a federate to Finalizing then Finalized, tearing down
// its dependency edges.
func (c *CoreBase) Finalize(ctx context.Context, federateID GlobalId) error {
	return c.blockingLifecycle(ctx, federateID, ActionFinalize)
}

func (c *CoreBase) blockingLifecycle(ctx context.Context, federateID GlobalId, action ActionCode) error {
	mid := c.nextID()
	ch := c.registerPending(mid)
	c.AddActionMessage(ActionMessage{Action: action, SourceID: federateID, DestID: federateID, MessageID: mid})
	reply, err := c.awaitReply(ctx, mid, ch)
	if err != nil {
		return err
	}
	if reply.Action == ActionError {
		return ErrRequired
	}
	return nil
}

// RequestTime asks federateID's coordinator to advance to t, blocking until
// a grant is produced (spec §4.3, §5).
func (c *CoreBase) RequestTime(ctx context.Context, federateID GlobalId, t LogicalTime, iterate bool) (LogicalTime, MessageFlags, error) {
	c.mu.Lock()
	rec, ok := c.federates[federateID]
	if !ok {
		c.mu.Unlock()
		return 0, 0, ErrInvalidHandle
	}
	ch := make(chan ActionMessage, 1)
	c.pendingTime[federateID] = ch
	c.mu.Unlock()

	rec.coordinator.RequestTime(t, iterate)

	select {
	case m := <-ch:
		return m.Time, m.Flags, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingTime, federateID)
		c.mu.Unlock()
		return 0, 0, ctx.Err()
	}
}

// TimeGrantOf returns federateID's last granted time, or ZeroTime if it is
// unknown.
func (c *CoreBase) TimeGrantOf(federateID GlobalId) LogicalTime {
	c.mu.Lock()
	rec, ok := c.federates[federateID]
	c.mu.Unlock()
	if !ok {
		return ZeroTime
	}
	return rec.coordinator.TimeGrant()
}

// Publish delivers a payload from publication handle srcID towards every
// matched input (spec §4.4).
func (c *CoreBase) Publish(srcID GlobalId, payload []byte, t LogicalTime) {
	c.mu.Lock()
	targets := append([]GlobalId(nil), c.sourceToInputs[srcID]...)
	c.mu.Unlock()
	for _, dest := range targets {
		c.AddActionMessage(ActionMessage{Action: ActionPublish, SourceID: srcID, DestID: dest, Time: t, Payload: payload})
	}
}

// SetDefaultValue sets the payload returned by GetValue before the first
// publish arrives at input handle id.
func (c *CoreBase) SetDefaultValue(id GlobalId, def []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.values[id]; ok {
		cell.Default = def
	}
}

// LastUpdateTime returns the logical time input handle id was last
// published to.
func (c *CoreBase) LastUpdateTime(id GlobalId) LogicalTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.values[id]; ok {
		return cell.PublishTime
	}
	return ZeroTime
}

// Subscribe resolves target (a publication's qualified key, checked first
// globally then within federateID's own scope) and installs the
// source-to-input route so future publishes reach inputID (spec §4.5
// ADD_SOURCE_TARGET). It also enforces single-connection-only on the
// resolved publication handle.
func (c *CoreBase) Subscribe(federateID, inputID GlobalId, target string) error {
	pubID := c.handles.ResolveGlobalOrLocal(federateID, target)
	if pubID == NoId {
		return ErrInvalidHandle
	}
	if err := c.handles.IncrementConnections(pubID); err != nil {
		return err
	}
	_ = c.handles.IncrementConnections(inputID) // best-effort: tracks required-handle satisfaction, not single-connection enforcement
	c.mu.Lock()
	c.sourceToInputs[pubID] = append(c.sourceToInputs[pubID], inputID)
	c.mu.Unlock()
	c.AddActionMessage(ActionMessage{Action: ActionAddSourceTarget, SourceID: pubID, DestID: inputID})
	return nil
}

// GetValue reads the current payload for input handle id.
func (c *CoreBase) GetValue(id GlobalId) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.values[id]
	if !ok {
		return nil
	}
	return cell.Read()
}

// IsUpdated reports whether input id has an unconsumed value.
func (c *CoreBase) IsUpdated(id GlobalId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.values[id]
	if !ok {
		return false
	}
	return cell.IsUpdated()
}

// Query issues a synchronous query RPC (spec §6.2), blocking for the reply.
func (c *CoreBase) Query(ctx context.Context, target, queryString string) (string, error) {
	mid := c.nextID()
	ch := c.registerPending(mid)
	c.AddActionMessage(ActionMessage{Action: ActionQuery, MessageID: mid, Name: target, Payload: []byte(queryString)})
	reply, err := c.awaitReply(ctx, mid, ch)
	if err != nil {
		return "", err
	}
	return string(reply.Payload), nil
}

// ---- CommandProcessor ----

// ProcessCommand handles regular-band ActionMessages: TICK, STOP, and value
// publications.
func (c *CoreBase) ProcessCommand(m ActionMessage) {
	switch m.Action {
	case ActionTick:
		// no per-tick bookkeeping beyond BrokerBase's own stall counters.
	case ActionStop:
		// handled by BrokerBase before ProcessDisconnect is invoked.
	case ActionPublish:
		c.mu.Lock()
		cell, ok := c.values[m.DestID]
		if ok {
			cell.Deliver(m.Payload, m.Time)
		}
		h := c.handles.Get(m.DestID)
		var rec *federateRecord
		if h != nil {
			rec = c.federates[h.FederateID]
		}
		c.mu.Unlock()
		if rec != nil {
			rec.coordinator.NotePendingEvent(m.Time)
		}
	default:
		c.log.Debug(context.Background(), "core: unhandled regular command", logging.Any("action", m.Action.String()))
	}
}

// ProcessPriorityCommand handles registration, time coordination, and
// disconnect/error/query messages (spec §4.1 priority band).
func (c *CoreBase) ProcessPriorityCommand(m ActionMessage) {
	switch m.Action {
	case ActionRegisterFederate:
		c.mu.Lock()
		if _, exists := c.federatesByName[m.Name]; exists {
			c.mu.Unlock()
			c.fulfillPending(m.MessageID, ActionMessage{Action: ActionNameCollision})
			return
		}
		rec := &federateRecord{id: m.SourceID, name: m.Name, state: FederateCreated}
		rec.coordinator = NewTimeCoordinator(m.SourceID, func(out ActionMessage) { c.deliverCoordinatorOutput(m.SourceID, out) })
		c.federates[m.SourceID] = rec
		c.federatesByName[m.Name] = m.SourceID
		c.mu.Unlock()
		if c.parentSend != nil {
			c.parentSend(m)
		}
		c.fulfillPending(m.MessageID, m)

	case ActionRegisterPublication, ActionRegisterInput, ActionRegisterEndpoint:
		if c.parentSend != nil {
			c.parentSend(m)
		}
		c.fulfillPending(m.MessageID, m)

	case ActionNameCollision:
		c.fulfillPending(m.MessageID, m)

	case ActionAddSourceTarget:
		c.mu.Lock()
		c.sourceToInputs[m.SourceID] = append(c.sourceToInputs[m.SourceID], m.DestID)
		c.mu.Unlock()

	case ActionBroadcastNameTable:
		// local resolution already flows through the shared HandleRegistry;
		// no per-core action needed beyond forwarding to any children.
		c.routing.Broadcast(m, false)

	case ActionEnterInitializing:
		c.transitionFederate(m.SourceID, FederateCreated, FederateInitializing)
		c.fulfillPending(m.MessageID, m)

	case ActionEnterExecuting:
		c.mu.Lock()
		rec, ok := c.federates[m.SourceID]
		c.mu.Unlock()
		if ok {
			if err := c.checkRequiredHandles(m.SourceID); err != nil {
				c.fulfillPending(m.MessageID, ActionMessage{Action: ActionError, SourceID: m.SourceID, Payload: []byte("required")})
				return
			}
			c.transitionFederate(m.SourceID, FederateInitializing, FederateExecuting)
			rec.coordinator.EnterExecuting()
		}
		c.fulfillPending(m.MessageID, m)

	case ActionFinalize:
		c.mu.Lock()
		rec, ok := c.federates[m.SourceID]
		c.mu.Unlock()
		if ok {
			rec.state = FederateFinalizing
			rec.coordinator.Disconnect(rec.id)
			rec.state = FederateFinalized
			c.disconnectPeerFromAll(rec.id)
			c.parentDisconnect(rec.id)
		}
		c.fulfillPending(m.MessageID, m)

	case ActionTimeRequest:
		c.mu.Lock()
		rec, ok := c.federates[m.DestID]
		c.mu.Unlock()
		if ok {
			rec.coordinator.RequestTime(m.Time, m.Flags.Has(FlagIterate))
		}

	case ActionTimeGrant:
		// a dependency (broker or peer core) reported its own grant. The
		// coordinator calls must run with c.mu released: ProcessTimeGrant can
		// synchronously emit a grant to its owner through deliverCoordinatorOutput,
		// which re-acquires c.mu on this same goroutine.
		for _, tc := range c.snapshotCoordinators() {
			tc.ProcessTimeGrant(m.SourceID, m.Time)
		}

	case ActionTimeDependency:
		minDe := DecodeMinDe(m.Payload)
		for _, tc := range c.snapshotCoordinators() {
			tc.ProcessTimeDependency(m.SourceID, m.Time, minDe)
		}

	case ActionAddDependency:
		c.forEachFederateCoordinator(m.DestID, func(tc *TimeCoordinator) { tc.AddDependency(m.SourceID, m.Flags.Has(FlagIterate)) })
		c.addDependentEdge(m.SourceID, m.DestID)
	case ActionRemoveDependency:
		c.forEachFederateCoordinator(m.DestID, func(tc *TimeCoordinator) { tc.RemoveDependency(m.SourceID) })
		c.removeDependentEdge(m.SourceID, m.DestID)
	case ActionAddDependent:
		c.forEachFederateCoordinator(m.DestID, func(tc *TimeCoordinator) { tc.AddDependent(m.SourceID) })
	case ActionRemoveDependent:
		c.forEachFederateCoordinator(m.DestID, func(tc *TimeCoordinator) { tc.RemoveDependent(m.SourceID) })

	case ActionDisconnect:
		c.mu.Lock()
		rec, ok := c.federates[m.SourceID]
		c.mu.Unlock()
		if ok {
			rec.coordinator.Disconnect(m.SourceID)
			rec.state = FederateFinalized
		}
		c.disconnectPeerFromAll(m.SourceID)
		c.routing.Broadcast(m, false)

	case ActionError:
		c.log.Error(context.Background(), "core: propagated error", logging.String("from", m.SourceID.String()), logging.Any("payload", string(m.Payload)))
		if c.parentSend != nil {
			c.parentSend(m)
		}

	case ActionQuery:
		c.fulfillPending(m.MessageID, ActionMessage{Action: ActionQueryReply, Payload: []byte(fmt.Sprintf(`{"target":%q}`, m.Name))})

	case ActionQueryReply:
		c.fulfillPending(m.MessageID, m)

	default:
		c.log.Debug(context.Background(), "core: unhandled priority command", logging.Any("action", m.Action.String()))
	}
}

// ProcessDisconnect runs once, after an ActionStop has been handled, tearing
// down every remaining local federate and notifying the parent.
func (c *CoreBase) ProcessDisconnect() {
	c.mu.Lock()
	ids := make([]GlobalId, 0, len(c.federates))
	for id, rec := range c.federates {
		if rec.state != FederateFinalized {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.mu.Lock()
		rec := c.federates[id]
		c.mu.Unlock()
		rec.coordinator.Disconnect(id)
		rec.state = FederateFinalized
	}
	if c.parentSend != nil {
		c.parentSend(ActionMessage{Action: ActionDisconnect, SourceID: NewNodeId(c.nodeIndex), DestID: NoId})
	}
}

func (c *CoreBase) transitionFederate(id GlobalId, from, to FederateState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.federates[id]
	if !ok || rec.state != from {
		return
	}
	rec.state = to
}

// checkRequiredHandles enforces spec §4.4: a handle flagged required must
// have matched at least one peer by the time its owning federate enters
// executing (OptBufferData needs no equivalent check here since Read already
// returns the last delivered payload unconditionally, satisfying it without
// any additional bookkeeping).
func (c *CoreBase) checkRequiredHandles(federateID GlobalId) error {
	for _, h := range c.handles.All() {
		if h.FederateID == federateID && h.Options.Has(OptRequired) && h.Connections == 0 {
			return ErrRequired
		}
	}
	return nil
}

func (c *CoreBase) forEachFederateCoordinator(id GlobalId, fn func(*TimeCoordinator)) {
	c.mu.Lock()
	rec, ok := c.federates[id]
	c.mu.Unlock()
	if ok {
		fn(rec.coordinator)
	}
}

// snapshotCoordinators returns every locally-hosted federate's coordinator
// under a brief lock, so callers can invoke coordinator methods without
// holding c.mu across them (coordinator output can loop back into the actor
// loop and re-acquire c.mu on the same goroutine).
func (c *CoreBase) snapshotCoordinators() []*TimeCoordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TimeCoordinator, 0, len(c.federates))
	for _, rec := range c.federates {
		out = append(out, rec.coordinator)
	}
	return out
}

// addDependentEdge installs sourceID's dependent edge for dependentID,
// completing the reciprocal side of ActionAddDependency (spec §4.3: a
// dependency's coordinator must know who depends on it, to propagate
// TIME_DEPENDENCY/TIME_GRANT updates back as it advances). If sourceID is
// hosted locally its coordinator is updated directly; otherwise an
// ActionAddDependent is routed towards wherever it lives.
func (c *CoreBase) addDependentEdge(sourceID, dependentID GlobalId) {
	c.mu.Lock()
	rec, ok := c.federates[sourceID]
	c.mu.Unlock()
	if ok {
		rec.coordinator.AddDependent(dependentID)
		return
	}
	out := ActionMessage{Action: ActionAddDependent, SourceID: dependentID, DestID: sourceID}
	if !c.routing.Route(out) && c.parentSend != nil {
		c.parentSend(out)
	}
}

// removeDependentEdge is the reciprocal teardown for addDependentEdge.
func (c *CoreBase) removeDependentEdge(sourceID, dependentID GlobalId) {
	c.mu.Lock()
	rec, ok := c.federates[sourceID]
	c.mu.Unlock()
	if ok {
		rec.coordinator.RemoveDependent(dependentID)
		return
	}
	out := ActionMessage{Action: ActionRemoveDependent, SourceID: dependentID, DestID: sourceID}
	if !c.routing.Route(out) && c.parentSend != nil {
		c.parentSend(out)
	}
}

// disconnectPeerFromAll removes peerID as a dependency/dependent from every
// locally-hosted federate's coordinator, releasing anyone blocked waiting
// on a federate that just finalized or disconnected (spec §4.3 "Terminal
// behavior").
func (c *CoreBase) disconnectPeerFromAll(peerID GlobalId) {
	c.mu.Lock()
	recs := make([]*federateRecord, 0, len(c.federates))
	for _, rec := range c.federates {
		recs = append(recs, rec)
	}
	c.mu.Unlock()
	for _, rec := range recs {
		if rec.id == peerID {
			continue
		}
		rec.coordinator.Disconnect(peerID)
	}
}

func (c *CoreBase) parentDisconnect(id GlobalId) {
	if c.parentSend != nil {
		c.parentSend(ActionMessage{Action: ActionDisconnect, SourceID: id, DestID: NoId})
	}
}

// deliverCoordinatorOutput routes a TimeCoordinator's output: a TIME_GRANT
// destined to the owning federate is delivered to a blocked RequestTime
// caller; a TIME_DEPENDENCY destined elsewhere is routed onward.
func (c *CoreBase) deliverCoordinatorOutput(federateID GlobalId, m ActionMessage) {
	if m.Action == ActionTimeGrant && m.DestID == federateID {
		c.mu.Lock()
		ch, ok := c.pendingTime[federateID]
		if ok {
			delete(c.pendingTime, federateID)
		}
		c.mu.Unlock()
		if ok {
			ch <- m
		}
		return
	}
	if !c.routing.Route(m) && c.parentSend != nil {
		c.parentSend(m)
	}
}
