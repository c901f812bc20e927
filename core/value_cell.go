package core

import "bytes"

// ValueCell holds the per-input state described in spec §3: the last
// received payload, its publish time, an update-consumed flag, and a
// default payload. Invariant: if UpdateConsumed is false, the next
// federate read observes this value and flips the flag.
type ValueCell struct {
	Payload        []byte
	PublishTime    LogicalTime
	UpdateConsumed bool
	Default        []byte

	options HandleOption
}

// NewValueCell creates a cell whose current read returns def until the
// first publish arrives.
func NewValueCell(def []byte, options HandleOption) *ValueCell {
	return &ValueCell{Default: def, options: options}
}

// Deliver stores an incoming publish. It applies the only-update-on-change
// option (bit-identical payload comparison, so a repeated NaN payload is
// treated as unchanged) and returns whether the value was actually stored.
func (c *ValueCell) Deliver(payload []byte, t LogicalTime) bool {
	if c.options.Has(OptOnlyUpdateOnChange) && c.Payload != nil && bytes.Equal(c.Payload, payload) {
		return false
	}
	c.Payload = payload
	c.PublishTime = t
	c.UpdateConsumed = false
	return true
}

// Read returns the current value, marking it consumed. If nothing has been
// published yet, it returns the default payload without touching
// UpdateConsumed (there is nothing to consume). This unconditionally returns
// the last delivered payload regardless of consumption state, which already
// satisfies OptBufferData ("deliver the last publish even if the federate
// never called read") without any extra bookkeeping.
func (c *ValueCell) Read() []byte {
	if c.Payload == nil {
		return c.Default
	}
	c.UpdateConsumed = true
	return c.Payload
}

// IsUpdated reports whether a value is pending consumption.
func (c *ValueCell) IsUpdated() bool {
	return c.Payload != nil && !c.UpdateConsumed
}
