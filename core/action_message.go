package core

import (
	"fmt"
)

// ActionCode enumerates the uniform command/event vocabulary carried by
// every ActionMessage (spec §3, §4.1).
type ActionCode int

const (
	// ActionIgnore is dropped by the actor loop without dispatch.
	ActionIgnore ActionCode = iota
	// ActionTick is the periodic stall-detection heartbeat (spec §4.2).
	ActionTick
	// ActionTerminateImmediately cancels the tick timer and returns from the
	// actor loop with no disconnect handshake.
	ActionTerminateImmediately
	// ActionStop requests an orderly shutdown: processCommand(STOP) then
	// processDisconnect().
	ActionStop

	// --- registration protocol (spec §4.5), all priority commands ---

	// ActionRegisterPublication registers a publication handle.
	ActionRegisterPublication
	// ActionRegisterInput registers an input handle.
	ActionRegisterInput
	// ActionRegisterEndpoint registers a source or destination endpoint.
	ActionRegisterEndpoint
	// ActionRegisterBroker announces a child broker joining the tree.
	ActionRegisterBroker
	// ActionRegisterFederate announces a federate joining a core.
	ActionRegisterFederate
	// ActionNameCollision reports a global name collision back to the
	// registrant.
	ActionNameCollision

	// --- name resolution (spec §4.5) ---

	// ActionAddSourceTarget resolves a subscription to a publication's
	// GlobalId, installing source-id routing for an input.
	ActionAddSourceTarget
	// ActionBroadcastNameTable is sent by the root broker at the end of
	// initialization with the full resolved (name -> GlobalId) table.
	ActionBroadcastNameTable

	// --- lifecycle transitions ---

	// ActionEnterInitializing transitions Created -> Initializing.
	ActionEnterInitializing
	// ActionEnterExecuting transitions Initializing -> Executing.
	ActionEnterExecuting
	// ActionFinalize transitions towards Finalizing -> Finalized.
	ActionFinalize

	// --- value routing plane (spec §4.4) ---

	// ActionPublish carries a published payload from a publication handle
	// towards a matched input handle.
	ActionPublish

	// --- time coordination protocol (spec §4.3), all priority commands ---

	// ActionTimeRequest asks the upstream coordinator to advance to Time.
	ActionTimeRequest
	// ActionTimeGrant grants an advance to Time.
	ActionTimeGrant
	// ActionTimeDependency reports a dependency's timeNext/timeMinDe pair.
	ActionTimeDependency
	// ActionAddDependency installs a dependency edge.
	ActionAddDependency
	// ActionRemoveDependency removes a dependency edge.
	ActionRemoveDependency
	// ActionAddDependent installs a dependent edge.
	ActionAddDependent
	// ActionRemoveDependent removes a dependent edge.
	ActionRemoveDependent

	// --- disconnect & error protocol (spec §4.6, §7), all priority ---

	// ActionDisconnect signals an entity is leaving; its edges are removed.
	ActionDisconnect
	// ActionError propagates a structural error upstream/downstream.
	ActionError
	// ActionInitTimeout fires when a broker's init-timeout deadline elapses
	// before enough children have registered (spec §5, §7 INIT_TIMEOUT).
	ActionInitTimeout

	// --- synchronous query RPC (spec §6.2) ---

	// ActionQuery is a synchronous RPC routed through the actor loop.
	ActionQuery
	// ActionQueryReply answers an ActionQuery.
	ActionQueryReply
)

// String renders a human-readable action name, used by log lines and
// dumplog traces (mirrors BrokerBase's prettyPrintString).
func (a ActionCode) String() string {
	switch a {
	case ActionIgnore:
		return "IGNORE"
	case ActionTick:
		return "TICK"
	case ActionTerminateImmediately:
		return "TERMINATE_IMMEDIATELY"
	case ActionStop:
		return "STOP"
	case ActionRegisterPublication:
		return "REGISTER_PUBLICATION"
	case ActionRegisterInput:
		return "REGISTER_INPUT"
	case ActionRegisterEndpoint:
		return "REGISTER_ENDPOINT"
	case ActionRegisterBroker:
		return "REGISTER_BROKER"
	case ActionRegisterFederate:
		return "REGISTER_FEDERATE"
	case ActionNameCollision:
		return "NAME_COLLISION"
	case ActionAddSourceTarget:
		return "ADD_SOURCE_TARGET"
	case ActionBroadcastNameTable:
		return "BROADCAST_NAME_TABLE"
	case ActionEnterInitializing:
		return "ENTER_INITIALIZING"
	case ActionEnterExecuting:
		return "ENTER_EXECUTING"
	case ActionFinalize:
		return "FINALIZE"
	case ActionPublish:
		return "PUBLISH"
	case ActionTimeRequest:
		return "TIME_REQUEST"
	case ActionTimeGrant:
		return "TIME_GRANT"
	case ActionTimeDependency:
		return "TIME_DEPENDENCY"
	case ActionAddDependency:
		return "ADD_DEPENDENCY"
	case ActionRemoveDependency:
		return "REMOVE_DEPENDENCY"
	case ActionAddDependent:
		return "ADD_DEPENDENT"
	case ActionRemoveDependent:
		return "REMOVE_DEPENDENT"
	case ActionDisconnect:
		return "DISCONNECT"
	case ActionError:
		return "ERROR"
	case ActionInitTimeout:
		return "INIT_TIMEOUT"
	case ActionQuery:
		return "QUERY"
	case ActionQueryReply:
		return "QUERY_REPLY"
	default:
		return fmt.Sprintf("ACTION(%d)", int(a))
	}
}

// MessageFlags is a bitset of ActionMessage modifiers.
type MessageFlags uint32

const (
	// FlagIterate requests iterative time advance (spec §4.3).
	FlagIterate MessageFlags = 1 << iota
	// FlagIterationLimit marks a grant issued because maxIterations was
	// reached with an unresolved iteration.
	FlagIterationLimit
	// FlagError marks a message carrying/describing an error condition.
	FlagError
	// FlagRequired marks a handle registration as required (spec §4.4
	// option flags table).
	FlagRequired
	// FlagOnlyUpdateOnChange marks an input as dropping bit-identical
	// repeat publishes.
	FlagOnlyUpdateOnChange
	// FlagBufferData marks an input to deliver the last publish even if the
	// federate never called read.
	FlagBufferData
	// FlagSingleConnectionOnly marks a handle to reject additional matches
	// after the first.
	FlagSingleConnectionOnly
	// FlagGlobal marks a handle registration as global (non-federate-scoped).
	FlagGlobal
)

// Has reports whether all bits in mask are set.
func (f MessageFlags) Has(mask MessageFlags) bool { return f&mask == mask }

// ActionMessage is the uniform in-memory command/event record used on every
// link between brokers, cores, and (conceptually) the transport layer
// (spec §3, §4.1).
type ActionMessage struct {
	Action    ActionCode
	SourceID  GlobalId
	DestID    GlobalId
	MessageID uint64
	Time      LogicalTime
	Counter   uint64
	Flags     MessageFlags
	Payload   []byte
	Name      string
}

// NewActionMessage constructs a bare ActionMessage carrying only an action
// code, the common case for control messages (TICK, STOP, ...).
func NewActionMessage(action ActionCode) ActionMessage {
	return ActionMessage{Action: action}
}

// String renders a compact trace line, grounded on BrokerBase's dumplog
// format ("|| dl cmd:%s from %d to %d").
func (m ActionMessage) String() string {
	return fmt.Sprintf("cmd:%s from:%s to:%s id:%d t:%s", m.Action, m.SourceID, m.DestID, m.MessageID, m.Time)
}

// priorityActions is the set of action codes drained before any regular
// command (spec §4.1: "registration, disconnection, error, time-configuration").
var priorityActions = map[ActionCode]bool{
	ActionRegisterPublication: true,
	ActionRegisterInput:       true,
	ActionRegisterEndpoint:    true,
	ActionRegisterBroker:      true,
	ActionRegisterFederate:    true,
	ActionNameCollision:       true,
	ActionAddSourceTarget:     true,
	ActionBroadcastNameTable:  true,
	ActionTimeRequest:         true,
	ActionTimeGrant:           true,
	ActionTimeDependency:      true,
	ActionAddDependency:       true,
	ActionRemoveDependency:    true,
	ActionAddDependent:        true,
	ActionRemoveDependent:     true,
	ActionDisconnect:          true,
	ActionError:               true,
	ActionInitTimeout:         true,
	ActionQuery:               true,
	ActionQueryReply:          true,
}

// IsPriorityCommand reports whether m belongs to the priority band (spec
// §4.1). Mirrors BrokerBase::isPriorityCommand.
func IsPriorityCommand(m ActionMessage) bool {
	return priorityActions[m.Action]
}
