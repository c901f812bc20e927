package clock

import (
	"sync"
	"time"
)

// Mode describes how a Pacer advances wall-clock time between simulated
// time steps in a demo/benchmark harness. It has no bearing on the
// federation's logical time (core.LogicalTime), which only ever advances
// via granted time requests.
type Mode int

const (
	// RealTime paces steps at wall-clock speed.
	RealTime Mode = iota
	// AsFastAsPossible advances with no wall-clock delay between steps.
	AsFastAsPossible
)

// Pacer throttles a federate demo loop's calls to request_time so it runs
// at a chosen wall-clock rate. It has no listener/tick fan-out: the
// federation's own TimeCoordinator already drives event ordering, so this
// only needs to sleep between steps.
type Pacer struct {
	mu   sync.Mutex
	mode Mode
	step time.Duration
	last time.Time
}

// NewPacer constructs a pacer that sleeps `step` of wall-clock time between
// calls to Wait when mode is RealTime, or returns immediately in
// AsFastAsPossible mode.
func NewPacer(mode Mode, step time.Duration) *Pacer {
	return &Pacer{mode: mode, step: step}
}

// Wait blocks until it is time for the next simulated step, in RealTime
// mode; it is a no-op in AsFastAsPossible mode.
func (p *Pacer) Wait() {
	if p.mode != RealTime || p.step <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if !p.last.IsZero() {
		elapsed := now.Sub(p.last)
		if elapsed < p.step {
			time.Sleep(p.step - elapsed)
		}
	}
	p.last = time.Now()
}
