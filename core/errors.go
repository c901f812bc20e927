package core

import "errors"

// Sentinel errors for the runtime's error kinds (spec §7). Handlers reply
// these directly to the requesting caller; structural errors additionally
// propagate as ERROR ActionMessages per BrokerBase.processCommand.
var (
	// ErrInvalidState is returned when an API call is made in the wrong
	// federate lifecycle phase (e.g. Publish before EnterExecuting).
	ErrInvalidState = errors.New("core: invalid state for requested operation")

	// ErrInvalidHandle is returned when a caller references an unknown
	// publication, input, or endpoint handle.
	ErrInvalidHandle = errors.New("core: invalid handle")

	// ErrNameCollision is returned when a global (non-federate-scoped) name
	// is registered twice.
	ErrNameCollision = errors.New("core: name collision")

	// ErrLocalNameCollision is returned when a federate registers the same
	// federate-scoped name twice.
	ErrLocalNameCollision = errors.New("core: local name collision")

	// ErrInitTimeout is returned when a broker does not reach its required
	// federate/child count before its configured timeout elapses.
	ErrInitTimeout = errors.New("core: initialization timeout")

	// ErrTransportFailure indicates a send failed and the affected link was
	// marked down.
	ErrTransportFailure = errors.New("core: transport failure")

	// ErrInternal wraps a handler-local panic recovered at the actor loop
	// boundary.
	ErrInternal = errors.New("core: internal error")

	// ErrSingleConnectionOnly is returned when a handle flagged
	// single-connection-only receives a second match.
	ErrSingleConnectionOnly = errors.New("core: handle already has its single connection")

	// ErrRequired is returned at end-of-initialization for a handle flagged
	// required that has no matching peer.
	ErrRequired = errors.New("core: required handle has no matching peer")
)
