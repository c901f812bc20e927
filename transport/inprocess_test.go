package transport

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/cosim-runtime/core"
)

func TestInProcessTransportDeliversToDestination(t *testing.T) {
	hub := NewInProcessHub()
	a := hub.NewTransport(1)
	b := hub.NewTransport(2)

	received := make(chan core.ActionMessage, 1)
	b.SetReceiver(func(m core.ActionMessage) { received <- m })

	msg := core.ActionMessage{Action: core.ActionTick, SourceID: core.NewNodeId(1), DestID: core.NewNodeId(2)}
	if err := a.Send(context.Background(), 2, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Action != core.ActionTick {
			t.Fatalf("got action %v, want ActionTick", got.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInProcessTransportUnknownDestinationFails(t *testing.T) {
	hub := NewInProcessHub()
	a := hub.NewTransport(1)

	err := a.Send(context.Background(), 99, core.NewActionMessage(core.ActionTick))
	if err != core.ErrTransportFailure {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
}
