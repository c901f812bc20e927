// Package clock drives the wall-clock heartbeats a broker/core actor loop
// needs: the periodic stall-detection tick of spec §4.2. It is a
// single-purpose "fire a callback, rearm, be cancellable" timer, narrowed
// down from a general-purpose simulation clock to just what BrokerBase
// needs.
package clock

import (
	"sync"
	"time"
)

// TickDriver posts a heartbeat by invoking onTick after every period, and
// must be explicitly rearmed after each fire — mirroring
// BrokerBase::queueProcessingLoop's boost::asio::steady_timer, which is
// rescheduled by hand once per TICK rather than free-running.
type TickDriver struct {
	mu      sync.Mutex
	period  time.Duration
	onTick  func()
	timer   *time.Timer
	stopped bool
}

// NewTickDriver constructs a driver that will call onTick after period has
// elapsed, once started.
func NewTickDriver(period time.Duration, onTick func()) *TickDriver {
	return &TickDriver{period: period, onTick: onTick}
}

// Start arms the timer for the first time.
func (d *TickDriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.period <= 0 {
		return
	}
	d.timer = time.AfterFunc(d.period, d.fire)
}

func (d *TickDriver) fire() {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.onTick()
}

// Rearm reschedules the timer for another period. The actor loop calls this
// once per handled TICK, matching the reschedule-on-every-tick pattern in
// spec §4.2 ("Rearm timer").
func (d *TickDriver) Rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.period <= 0 {
		return
	}
	d.timer = time.AfterFunc(d.period, d.fire)
}

// Stop cancels the timer permanently; subsequent Rearm calls are no-ops.
func (d *TickDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
