package core

import "sync"

// PriorityQueue is the dual-priority FIFO feeding a broker/core actor loop
// (spec §4.1). It is the sole synchronization point between producer
// threads (network I/O, timers, federate API calls) and the single
// consumer (the actor loop). Ordering within each band is strict FIFO;
// the priority band always drains before the regular band.
type PriorityQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	regular  []ActionMessage
	priority []ActionMessage

	// terminated is set once a TERMINATE_IMMEDIATELY message has been
	// popped. Further pushes are silently dropped ("no further messages
	// are delivered", spec §4.1).
	terminated bool
}

// NewPriorityQueue constructs an empty queue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues m onto the regular band.
func (q *PriorityQueue) Push(m ActionMessage) {
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return
	}
	q.regular = append(q.regular, m)
	q.mu.Unlock()
	q.cond.Signal()
}

// PushPriority enqueues m onto the priority band.
func (q *PriorityQueue) PushPriority(m ActionMessage) {
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return
	}
	q.priority = append(q.priority, m)
	q.mu.Unlock()
	q.cond.Signal()
}

// Dispatch enqueues m onto whichever band its action code belongs to,
// mirroring BrokerBase::addActionMessage's isPriorityCommand check.
func (q *PriorityQueue) Dispatch(m ActionMessage) {
	if IsPriorityCommand(m) {
		q.PushPriority(m)
	} else {
		q.Push(m)
	}
}

// Pop blocks until either band is non-empty, then returns the next message,
// priority band first, strict FIFO within a band. Once a
// TERMINATE_IMMEDIATELY message has been popped, Pop keeps returning it
// forever, mirroring the "no further messages are delivered" contract
// without requiring every caller to track termination separately.
func (q *PriorityQueue) Pop() ActionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.priority) == 0 && len(q.regular) == 0 && !q.terminated {
		q.cond.Wait()
	}

	if q.terminated && len(q.priority) == 0 && len(q.regular) == 0 {
		return NewActionMessage(ActionTerminateImmediately)
	}

	var m ActionMessage
	if len(q.priority) > 0 {
		m = q.priority[0]
		q.priority = q.priority[1:]
	} else {
		m = q.regular[0]
		q.regular = q.regular[1:]
	}

	if m.Action == ActionTerminateImmediately {
		q.terminated = true
		// Drop anything still queued; termination is immediate.
		q.priority = nil
		q.regular = nil
	}
	return m
}

// Len reports the total number of messages currently queued across both
// bands. Exposed for stall-detection and queue-depth metrics.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.regular)
}
