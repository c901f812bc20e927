package core

import (
	"encoding/binary"
	"math"
	"sync"
)

// dependencyState tracks the last known state of a single dependency (an
// entity this coordinator depends on), per spec §3 "Per-dependency: last
// timeNext, last timeMinDe, last timeGrant received."
type dependencyState struct {
	timeNext          LogicalTime
	timeMinDe         LogicalTime
	timeGrant         LogicalTime
	endpointProducing bool // true for message/endpoint dependencies, false for value-only
}

// TimeCoordinator is the per-federate/per-broker logical-clock state
// machine described in spec §4.3. Each core maintains one coordinator per
// federate it hosts; each broker maintains one coordinator representing
// the aggregate of its subtree.
type TimeCoordinator struct {
	mu sync.Mutex

	id GlobalId

	period         LogicalTime
	minOutputDelay LogicalTime
	inputDelay     LogicalTime
	maxIterations  int

	timeGrant    LogicalTime
	timeRequest  LogicalTime // MaxTime if none outstanding
	timeNext     LogicalTime
	timeMinDe    LogicalTime
	pendingEvent LogicalTime // MaxTime if none outstanding

	iterateRequested bool
	iterationCount   int

	dependencies map[GlobalId]*dependencyState
	dependents   map[GlobalId]bool

	lastSentNext  map[GlobalId]LogicalTime
	lastSentMinDe map[GlobalId]LogicalTime

	// send delivers an ActionMessage produced by this coordinator (a grant
	// notification to its own owner, or a TIME_DEPENDENCY update to a
	// dependent) to whatever transport/routing the owner wired in.
	send func(ActionMessage)
}

// NewTimeCoordinator constructs a coordinator for entity id. send is
// invoked (never concurrently, always with tc's lock released) for every
// outbound TIME_GRANT/TIME_DEPENDENCY the coordinator produces.
func NewTimeCoordinator(id GlobalId, send func(ActionMessage)) *TimeCoordinator {
	if send == nil {
		send = func(ActionMessage) {}
	}
	return &TimeCoordinator{
		id:            id,
		maxIterations: 10, // spec §6.3 default
		timeRequest:   MaxTime,
		pendingEvent:  MaxTime,
		dependencies:  make(map[GlobalId]*dependencyState),
		dependents:    make(map[GlobalId]bool),
		lastSentNext:  make(map[GlobalId]LogicalTime),
		lastSentMinDe: make(map[GlobalId]LogicalTime),
		send:          send,
	}
}

// SetPeriod sets the entity's output period.
func (tc *TimeCoordinator) SetPeriod(p LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.period = p
}

// SetMinOutputDelay sets the entity's minimum output delay.
func (tc *TimeCoordinator) SetMinOutputDelay(d LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.minOutputDelay = d
}

// SetInputDelay sets the entity's input delay, used when computing
// timeMinDe contributions from value-only dependencies.
func (tc *TimeCoordinator) SetInputDelay(d LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.inputDelay = d
}

// SetMaxIterations overrides the default iteration limit (spec §6.3 maxiter).
func (tc *TimeCoordinator) SetMaxIterations(n int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if n > 0 {
		tc.maxIterations = n
	}
}

// TimeGrant returns the last time granted to this entity.
func (tc *TimeCoordinator) TimeGrant() LogicalTime {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.timeGrant
}

// TimeNext returns the earliest time this entity may next produce output.
func (tc *TimeCoordinator) TimeNext() LogicalTime {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.timeNext
}

// HasPendingRequest reports whether a time request is outstanding (spec
// invariant 2: a federate with an outstanding request neither publishes
// nor consumes updates until granted).
func (tc *TimeCoordinator) HasPendingRequest() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.timeRequest != MaxTime
}

// AddDependency installs a dependency edge: this entity's grants are
// constrained by depID. endpointProducing distinguishes message/endpoint
// dependencies (bounded by the dependency's timeNext) from value-only
// dependencies (bounded by the dependency's timeGrant+inputDelay) per the
// timeMinDe formula in spec §3.
func (tc *TimeCoordinator) AddDependency(depID GlobalId, endpointProducing bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, exists := tc.dependencies[depID]; exists {
		return
	}
	tc.dependencies[depID] = &dependencyState{endpointProducing: endpointProducing}
	tc.recomputeLocked()
}

// RemoveDependency removes a dependency edge without treating it as a
// disconnect (used for topology edits during initialization); the
// remaining dependencies are re-evaluated for an immediate grant.
func (tc *TimeCoordinator) RemoveDependency(depID GlobalId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.dependencies, depID)
	tc.recomputeLocked()
	tc.notifyDependentsLocked()
	tc.attemptGrantLocked()
}

// AddDependent installs a dependent edge: depID's grants are constrained by
// this entity. The dependent immediately receives this entity's current
// timeNext/timeMinDe so it does not have to wait for the next change.
func (tc *TimeCoordinator) AddDependent(depID GlobalId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.dependents[depID] = true
	tc.sendDependencyLocked(depID)
}

// RemoveDependent removes a dependent edge.
func (tc *TimeCoordinator) RemoveDependent(depID GlobalId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.dependents, depID)
	delete(tc.lastSentNext, depID)
	delete(tc.lastSentMinDe, depID)
}

// RequestTime asks this coordinator to advance to t. A request at or below
// the currently granted time is a cancellation/no-op and is satisfied
// immediately (spec §5: "a no-op request satisfies immediately").
// Otherwise the request is evaluated against the granting rule and may
// grant synchronously (via the send callback) or remain outstanding until
// a later dependency update unblocks it.
func (tc *TimeCoordinator) RequestTime(t LogicalTime, iterate bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if t <= tc.timeGrant {
		tc.emitGrantLocked(tc.timeGrant, 0)
		return
	}

	tc.timeRequest = t
	tc.iterateRequested = iterate
	tc.iterationCount = 0
	tc.attemptGrantLocked()
}

// ProcessTimeDependency records an updated (timeNext, timeMinDe) report
// from dependency fromID and re-evaluates any outstanding request.
func (tc *TimeCoordinator) ProcessTimeDependency(fromID GlobalId, timeNext, timeMinDe LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	d, ok := tc.dependencies[fromID]
	if !ok {
		return
	}
	d.timeNext = timeNext
	d.timeMinDe = timeMinDe
	tc.attemptGrantLocked()
}

// ProcessTimeGrant records dependency fromID's latest granted time and
// re-evaluates any outstanding request.
func (tc *TimeCoordinator) ProcessTimeGrant(fromID GlobalId, grantedTime LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	d, ok := tc.dependencies[fromID]
	if !ok {
		return
	}
	d.timeGrant = grantedTime
	tc.attemptGrantLocked()
}

// NotePendingEvent records that a value was published for this entity's
// owner timestamped ahead of its current granted time (spec §4.4: a publish
// past the current grant "informs its TimeCoordinator of a pending event at
// that time, which participates in the next grant computation"). It ensures
// a subsequent grant cannot skip past the event without first stopping to
// let the owner observe it.
func (tc *TimeCoordinator) NotePendingEvent(t LogicalTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if t <= tc.timeGrant {
		return
	}
	if t < tc.pendingEvent {
		tc.pendingEvent = t
	}
	tc.attemptGrantLocked()
}

// Disconnect removes id as both a dependency and a dependent (spec §4.3
// "Terminal behavior"). If removing it as a dependency yields an immediate
// grant, that grant is emitted; if all dependencies disappear, any
// outstanding request is granted immediately.
func (tc *TimeCoordinator) Disconnect(id GlobalId) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.dependencies, id)
	delete(tc.dependents, id)
	delete(tc.lastSentNext, id)
	delete(tc.lastSentMinDe, id)
	tc.recomputeLocked()
	tc.attemptGrantLocked()
}

// EnterExecuting announces this entity's initial timeNext/timeMinDe to its
// dependents. Call once when the owning federate/broker leaves
// initialization, mirroring the value-plane's name-table broadcast at the
// same transition (spec §4.5).
func (tc *TimeCoordinator) EnterExecuting() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.recomputeLocked()
	tc.notifyDependentsLocked()
}

// --- internal, caller must hold tc.mu ---

func (tc *TimeCoordinator) recomputeLocked() {
	tc.timeNext = tc.timeGrant + tc.period + tc.minOutputDelay

	if len(tc.dependencies) == 0 {
		tc.timeMinDe = MaxTime
		return
	}
	minDe := MaxTime
	for _, d := range tc.dependencies {
		var v LogicalTime
		if d.endpointProducing {
			v = d.timeNext
		} else {
			v = d.timeGrant + tc.inputDelay
		}
		minDe = minTime(minDe, v)
	}
	tc.timeMinDe = minDe
}

func (tc *TimeCoordinator) notifyDependentsLocked() {
	for depID := range tc.dependents {
		tc.sendDependencyLocked(depID)
	}
}

func (tc *TimeCoordinator) sendDependencyLocked(depID GlobalId) {
	lastNext, hasNext := tc.lastSentNext[depID]
	lastMinDe, hasMinDe := tc.lastSentMinDe[depID]
	if hasNext && hasMinDe && lastNext == tc.timeNext && lastMinDe == tc.timeMinDe {
		return
	}
	tc.lastSentNext[depID] = tc.timeNext
	tc.lastSentMinDe[depID] = tc.timeMinDe

	tc.send(ActionMessage{
		Action:   ActionTimeDependency,
		SourceID: tc.id,
		DestID:   depID,
		Time:     tc.timeNext,
		Payload:  encodeMinDe(tc.timeMinDe),
	})
}

// attemptGrantLocked applies the granting rule of spec §4.3:
//
//	T ≤ min_over_dependencies(D.timeNext), AND
//	for every dependency: D.timeGrant ≥ T OR D.timeNext ≥ T, AND
//	T ≥ timeGrant + period
//
// with the iteration extension: if iterate was requested and some
// dependency's timeNext equals T exactly (it might still produce a value
// at T), the grant is deferred up to maxIterations rounds.
func (tc *TimeCoordinator) attemptGrantLocked() {
	if tc.timeRequest == MaxTime {
		return
	}
	T := tc.timeRequest
	if T < tc.timeGrant+tc.period {
		return
	}

	if len(tc.dependencies) == 0 {
		tc.grantLocked(tc.cappedGrantLocked(T), 0)
		return
	}

	minNext := MaxTime
	allSatisfied := true
	iterationBlocked := false
	for _, d := range tc.dependencies {
		minNext = minTime(minNext, d.timeNext)
		if !(d.timeGrant >= T || d.timeNext >= T) {
			allSatisfied = false
		}
		if tc.iterateRequested && d.timeNext == T && d.timeGrant < T {
			iterationBlocked = true
		}
	}

	if T > minNext || !allSatisfied {
		return
	}

	if iterationBlocked {
		tc.iterationCount++
		if tc.iterationCount < tc.maxIterations {
			return
		}
		tc.grantLocked(tc.cappedGrantLocked(T), FlagIterationLimit)
		return
	}

	tc.grantLocked(tc.cappedGrantLocked(T), 0)
}

// cappedGrantLocked stops a grant at a pending event's time rather than
// letting it skip past one, so the owner comes back to observe it before
// requesting further advancement.
func (tc *TimeCoordinator) cappedGrantLocked(T LogicalTime) LogicalTime {
	if tc.pendingEvent != MaxTime && tc.pendingEvent < T {
		return tc.pendingEvent
	}
	return T
}

func (tc *TimeCoordinator) grantLocked(T LogicalTime, flags MessageFlags) {
	tc.timeGrant = T
	if tc.pendingEvent != MaxTime && tc.pendingEvent <= T {
		tc.pendingEvent = MaxTime
	}
	tc.recomputeLocked()
	tc.notifyDependentsLocked()
	tc.emitGrantLocked(T, flags)
}

func (tc *TimeCoordinator) emitGrantLocked(T LogicalTime, flags MessageFlags) {
	tc.timeRequest = MaxTime
	tc.iterationCount = 0
	tc.iterateRequested = false
	tc.send(ActionMessage{
		Action:   ActionTimeGrant,
		SourceID: tc.id,
		DestID:   tc.id,
		Time:     T,
		Flags:    flags,
	})
}

// encodeMinDe/decodeMinDe pack the secondary timeMinDe value alongside the
// primary Time field of a TIME_DEPENDENCY ActionMessage, since the wire
// record (spec §3) carries only one timestamp field.
func encodeMinDe(t LogicalTime) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(float64(t)))
	return b
}

// DecodeMinDe extracts the timeMinDe value from a TIME_DEPENDENCY
// ActionMessage's payload.
func DecodeMinDe(payload []byte) LogicalTime {
	if len(payload) < 8 {
		return MaxTime
	}
	return LogicalTime(math.Float64frombits(binary.BigEndian.Uint64(payload)))
}
