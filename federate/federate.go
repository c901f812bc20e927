// Package federate exposes the federate-facing API surface (spec §6.2) as a
// single facade type that composes an optional value-exchange plane and an
// optional message-exchange plane, rather than modeling "ValueFederate" and
// "MessageFederate" as a C++-style inheritance hierarchy (spec §9 design
// note). A federate that never registers a publication/input simply carries
// a nil ValuePlane and returns core.ErrInvalidState from value calls.
package federate

import (
	"context"

	"github.com/signalsfoundry/cosim-runtime/core"
)

// ValuePlane groups the publish/subscribe operations of spec §6.2.
type ValuePlane struct {
	fed *Federate
}

// MessagePlane groups the endpoint send/receive operations of spec §6.2.
// Endpoints share the same handle/routing machinery as publications in this
// implementation; MessagePlane exists to keep the facade's method surface
// organized the way the original API groups them, not because the wire
// representation differs.
type MessagePlane struct {
	fed *Federate
}

// Federate is a single federate's handle onto its hosting core (spec §3,
// §6.2). It is safe to call from multiple goroutines; every call that
// touches shared federation state is serialized through the core's actor
// loop.
type Federate struct {
	core *core.CoreBase
	id   core.GlobalId
	name string

	state core.FederateState

	Values   *ValuePlane
	Messages *MessagePlane
}

// New registers a new federate named name against c, blocking until any
// global name collision check clears.
func New(ctx context.Context, c *core.CoreBase, name string) (*Federate, error) {
	id, err := c.RegisterFederate(ctx, name)
	if err != nil {
		return nil, err
	}
	f := &Federate{core: c, id: id, name: name, state: core.FederateCreated}
	f.Values = &ValuePlane{fed: f}
	f.Messages = &MessagePlane{fed: f}
	return f, nil
}

// ID returns the federate's assigned GlobalId.
func (f *Federate) ID() core.GlobalId { return f.id }

// Name returns the federate's registered name.
func (f *Federate) Name() string { return f.name }

// State returns the federate's current lifecycle phase.
func (f *Federate) State() core.FederateState { return f.state }

func (f *Federate) requireState(want core.FederateState) error {
	if f.state != want {
		return core.ErrInvalidState
	}
	return nil
}

// EnterInitializing transitions Created -> Initializing (spec §4.6).
func (f *Federate) EnterInitializing(ctx context.Context) error {
	if err := f.requireState(core.FederateCreated); err != nil {
		return err
	}
	if err := f.core.EnterInitializing(ctx, f.id); err != nil {
		return err
	}
	f.state = core.FederateInitializing
	return nil
}

// EnterExecuting transitions Initializing -> Executing, establishing the
// federate's TimeCoordinator (spec §4.6).
func (f *Federate) EnterExecuting(ctx context.Context) error {
	if err := f.requireState(core.FederateInitializing); err != nil {
		return err
	}
	if err := f.core.EnterExecuting(ctx, f.id); err != nil {
		return err
	}
	f.state = core.FederateExecuting
	return nil
}

// Finalize transitions towards Finalizing -> Finalized, tearing down the
// federate's dependency edges (spec §4.6).
func (f *Federate) Finalize(ctx context.Context) error {
	if f.state == core.FederateFinalized {
		return nil
	}
	if err := f.core.Finalize(ctx, f.id); err != nil {
		return err
	}
	f.state = core.FederateFinalized
	return nil
}

// RequestTime asks to advance to t, blocking until granted (spec §4.3, §5).
// Only valid once Executing.
func (f *Federate) RequestTime(ctx context.Context, t core.LogicalTime, iterate bool) (core.LogicalTime, core.MessageFlags, error) {
	if err := f.requireState(core.FederateExecuting); err != nil {
		return 0, 0, err
	}
	return f.core.RequestTime(ctx, f.id, t, iterate)
}

// Query issues a synchronous query RPC (spec §6.2).
func (f *Federate) Query(ctx context.Context, target, queryString string) (string, error) {
	return f.core.Query(ctx, target, queryString)
}

// ---- ValuePlane ----

// RegisterPublication registers a new publication handle owned by this
// federate. global controls whether key is checked for collisions
// federation-wide or only within this federate's own scope (spec §4.5).
func (p *ValuePlane) RegisterPublication(ctx context.Context, key string, global bool, typeTag, units string, opts core.HandleOption) (core.GlobalId, error) {
	if err := p.fed.requireState(core.FederateCreated); err != nil {
		return core.NoId, err
	}
	return p.fed.core.RegisterHandle(ctx, p.fed.id, core.HandlePublication, key, global, typeTag, units, opts)
}

// RegisterInput registers a new input handle owned by this federate. Inputs
// are always federate-scoped: they are resolved by ADD_SOURCE_TARGET rather
// than looked up by name themselves.
func (p *ValuePlane) RegisterInput(ctx context.Context, key, typeTag, units string, opts core.HandleOption) (core.GlobalId, error) {
	if err := p.fed.requireState(core.FederateCreated); err != nil {
		return core.NoId, err
	}
	return p.fed.core.RegisterHandle(ctx, p.fed.id, core.HandleInput, key, false, typeTag, units, opts)
}

// RegisterSubscription resolves target (checked first as a global
// publication name, then within this federate's own scope) and wires
// inputID to receive its future publishes (spec §4.5).
func (p *ValuePlane) RegisterSubscription(inputID core.GlobalId, target string) error {
	return p.fed.core.Subscribe(p.fed.id, inputID, target)
}

// SetDefaultValue sets the payload GetValue returns before the first
// publish arrives.
func (p *ValuePlane) SetDefaultValue(inputID core.GlobalId, def []byte) {
	p.fed.core.SetDefaultValue(inputID, def)
}

// LastUpdateTime returns the logical time inputID was last published to.
func (p *ValuePlane) LastUpdateTime(inputID core.GlobalId) core.LogicalTime {
	return p.fed.core.LastUpdateTime(inputID)
}

// GetValueRaw is an alias for GetValue, named to match the spec's
// terminology for the un-decoded byte payload.
func (p *ValuePlane) GetValueRaw(inputID core.GlobalId) []byte {
	return p.fed.core.GetValue(inputID)
}

// Publish sends a payload out through publication handle pubID at the
// federate's current granted time.
func (p *ValuePlane) Publish(pubID core.GlobalId, payload []byte) error {
	if p.fed.state != core.FederateExecuting {
		return core.ErrInvalidState
	}
	p.fed.core.Publish(pubID, payload, p.fed.core.TimeGrantOf(p.fed.id))
	return nil
}

// GetValue reads input handle inputID's current payload.
func (p *ValuePlane) GetValue(inputID core.GlobalId) []byte {
	return p.fed.core.GetValue(inputID)
}

// IsUpdated reports whether inputID has an unconsumed value.
func (p *ValuePlane) IsUpdated(inputID core.GlobalId) bool {
	return p.fed.core.IsUpdated(inputID)
}

// ---- MessagePlane ----

// RegisterSourceEndpoint registers a new source (send) endpoint owned by
// this federate.
func (m *MessagePlane) RegisterSourceEndpoint(ctx context.Context, key, typeTag string) (core.GlobalId, error) {
	if err := m.fed.requireState(core.FederateCreated); err != nil {
		return core.NoId, err
	}
	return m.fed.core.RegisterHandle(ctx, m.fed.id, core.HandleSourceEndpoint, key, false, typeTag, "", 0)
}

// RegisterDestinationEndpoint registers a new destination (receive) endpoint
// owned by this federate.
func (m *MessagePlane) RegisterDestinationEndpoint(ctx context.Context, key, typeTag string) (core.GlobalId, error) {
	if err := m.fed.requireState(core.FederateCreated); err != nil {
		return core.NoId, err
	}
	return m.fed.core.RegisterHandle(ctx, m.fed.id, core.HandleDestinationEndpoint, key, false, typeTag, "", 0)
}

// Send transmits payload from source endpoint srcID at the federate's
// current granted time.
func (m *MessagePlane) Send(srcID core.GlobalId, payload []byte) error {
	if m.fed.state != core.FederateExecuting {
		return core.ErrInvalidState
	}
	m.fed.core.Publish(srcID, payload, m.fed.core.TimeGrantOf(m.fed.id))
	return nil
}

// Receive reads destination endpoint destID's current payload.
func (m *MessagePlane) Receive(destID core.GlobalId) []byte {
	return m.fed.core.GetValue(destID)
}

// HasMessage reports whether destID has an unconsumed message.
func (m *MessagePlane) HasMessage(destID core.GlobalId) bool {
	return m.fed.core.IsUpdated(destID)
}
