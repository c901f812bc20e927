package core

import (
	"context"
	"sync"

	"github.com/signalsfoundry/cosim-runtime/clock"
	"github.com/signalsfoundry/cosim-runtime/internal/logging"
)

// CommandProcessor is implemented by whatever entity owns the semantics of a
// node (a CoreBase or a BrokerCore) and is driven by a shared BrokerBase
// actor loop. This mirrors the C++ BrokerBase's use of virtual dispatch to
// CommonCore/CoreBroker, expressed as composition instead of inheritance
// (spec §9 design note): BrokerBase owns the queue and the loop mechanics,
// the processor owns everything domain-specific.
type CommandProcessor interface {
	// ProcessCommand handles a regular-band ActionMessage.
	ProcessCommand(m ActionMessage)
	// ProcessPriorityCommand handles a priority-band ActionMessage.
	ProcessPriorityCommand(m ActionMessage)
	// ProcessDisconnect runs the processor's shutdown sequence after STOP has
	// been handled and the tick timer stopped.
	ProcessDisconnect()
}

// BrokerBase runs the single actor-loop goroutine shared by every broker and
// core node (spec §4.2), grounded on BrokerBase::queueProcessingLoop. It owns
// message intake, the tick heartbeat, and (optionally) a dumplog trace; all
// domain behavior is delegated to a CommandProcessor.
type BrokerBase struct {
	Identifier string

	queue     *PriorityQueue
	processor CommandProcessor
	log       logging.Logger
	tick      *clock.TickDriver

	dumplog bool

	mu                    sync.Mutex
	dumpMessages          []ActionMessage
	haltOperations        bool
	messagesSinceLastTick int
}

// NewBrokerBase constructs a BrokerBase. tickPeriod of zero disables the
// heartbeat entirely (no timer is armed).
func NewBrokerBase(identifier string, processor CommandProcessor, log logging.Logger, opts Options) *BrokerBase {
	if log == nil {
		log = logging.Noop()
	}
	b := &BrokerBase{
		Identifier: identifier,
		queue:      NewPriorityQueue(),
		processor:  processor,
		log:        log,
		dumplog:    opts.DumpLog,
	}
	b.tick = clock.NewTickDriver(opts.Tick, func() {
		b.queue.Push(NewActionMessage(ActionTick))
	})
	return b
}

// AddActionMessage enqueues m for processing, routed to the priority or
// regular band per IsPriorityCommand.
func (b *BrokerBase) AddActionMessage(m ActionMessage) {
	b.queue.Dispatch(m)
}

// SetHaltOperations toggles whether regular/priority commands (other than
// TICK, IGNORE, TERMINATE_IMMEDIATELY, STOP) are still dispatched. Mirrors
// BrokerBase's haltOperations flag, set once a STOP has begun processing.
func (b *BrokerBase) SetHaltOperations(halt bool) {
	b.mu.Lock()
	b.haltOperations = halt
	b.mu.Unlock()
}

// Run drains the queue until a TERMINATE_IMMEDIATELY or STOP is processed.
// It blocks the calling goroutine; callers run it in its own goroutine per
// node. Grounded on BrokerBase::queueProcessingLoop's action switch,
// including the original's choice to gate priority and regular dispatch
// under a single haltOperations check rather than spec.md's separated bullet
// list.
func (b *BrokerBase) Run(ctx context.Context) {
	b.tick.Start()
	for {
		m := b.queue.Pop()
		switch m.Action {
		case ActionTick:
			b.mu.Lock()
			halted := b.haltOperations
			stalled := b.messagesSinceLastTick == 0
			b.messagesSinceLastTick = 0
			b.mu.Unlock()
			if b.dumplog {
				b.recordDump(m)
			}
			if !halted && stalled {
				b.processor.ProcessCommand(m)
			}
			b.tick.Rearm()

		case ActionIgnore:
			// dropped without dispatch

		case ActionTerminateImmediately:
			b.tick.Stop()
			if b.dumplog {
				b.recordDump(m)
				b.dumpLog(ctx)
			}
			return

		case ActionStop:
			b.tick.Stop()
			b.mu.Lock()
			halted := b.haltOperations
			b.mu.Unlock()
			if b.dumplog {
				b.recordDump(m)
			}
			if !halted {
				b.processor.ProcessCommand(m)
				b.processor.ProcessDisconnect()
			}
			if b.dumplog {
				b.dumpLog(ctx)
			}
			return

		default:
			b.mu.Lock()
			halted := b.haltOperations
			if !halted {
				b.messagesSinceLastTick++
			}
			b.mu.Unlock()
			if b.dumplog {
				b.recordDump(m)
			}
			if !halted {
				if IsPriorityCommand(m) {
					b.processor.ProcessPriorityCommand(m)
				} else {
					b.processor.ProcessCommand(m)
				}
			}
		}
	}
}

// Terminate posts a TERMINATE_IMMEDIATELY to the priority band, causing Run
// to return without a disconnect handshake.
func (b *BrokerBase) Terminate() {
	b.queue.PushPriority(NewActionMessage(ActionTerminateImmediately))
}

func (b *BrokerBase) recordDump(m ActionMessage) {
	b.mu.Lock()
	b.dumpMessages = append(b.dumpMessages, m)
	b.mu.Unlock()
}

func (b *BrokerBase) dumpLog(ctx context.Context) {
	b.mu.Lock()
	messages := b.dumpMessages
	b.mu.Unlock()
	for _, m := range messages {
		b.log.Debug(ctx, "dumplog", logging.String("id", b.Identifier), logging.Any("message", m.String()))
	}
}
