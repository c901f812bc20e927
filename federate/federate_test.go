package federate

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/cosim-runtime/core"
)

func newTestCore(t *testing.T) *core.CoreBase {
	t.Helper()
	opts := core.DefaultOptions()
	opts.Tick = 0 // disable heartbeat noise in tests
	c := core.NewCoreBase(1, nil, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c
}

func TestFederateLifecycleAndPublishSubscribe(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, err := New(ctx, c, "publisher")
	if err != nil {
		t.Fatalf("New(publisher): %v", err)
	}
	sub, err := New(ctx, c, "subscriber")
	if err != nil {
		t.Fatalf("New(subscriber): %v", err)
	}

	pubID, err := pub.Values.RegisterPublication(ctx, "temperature", true, "double", "celsius", 0)
	if err != nil {
		t.Fatalf("RegisterPublication: %v", err)
	}
	inputID, err := sub.Values.RegisterInput(ctx, "temp_in", "double", "celsius", 0)
	if err != nil {
		t.Fatalf("RegisterInput: %v", err)
	}
	if err := sub.Values.RegisterSubscription(inputID, "temperature"); err != nil {
		t.Fatalf("RegisterSubscription: %v", err)
	}

	if err := pub.EnterInitializing(ctx); err != nil {
		t.Fatalf("pub.EnterInitializing: %v", err)
	}
	if err := sub.EnterInitializing(ctx); err != nil {
		t.Fatalf("sub.EnterInitializing: %v", err)
	}

	if err := pub.EnterExecuting(ctx); err != nil {
		t.Fatalf("pub.EnterExecuting: %v", err)
	}
	if err := sub.EnterExecuting(ctx); err != nil {
		t.Fatalf("sub.EnterExecuting: %v", err)
	}

	if err := pub.Values.Publish(pubID, []byte("21.5")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sub.Values.IsUpdated(inputID) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sub.Values.IsUpdated(inputID) {
		t.Fatal("expected input to be updated after publish")
	}
	if got := string(sub.Values.GetValueRaw(inputID)); got != "21.5" {
		t.Fatalf("GetValueRaw = %q, want %q", got, "21.5")
	}
}

func TestFederateRequestTimeGrantsImmediatelyWithNoDependencies(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := New(ctx, c, "solo")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.EnterInitializing(ctx); err != nil {
		t.Fatalf("EnterInitializing: %v", err)
	}
	if err := f.EnterExecuting(ctx); err != nil {
		t.Fatalf("EnterExecuting: %v", err)
	}

	granted, _, err := f.RequestTime(ctx, 5.0, false)
	if err != nil {
		t.Fatalf("RequestTime: %v", err)
	}
	if granted != 5.0 {
		t.Fatalf("granted = %v, want 5.0", granted)
	}
}

func TestFederateRejectsPublishBeforeExecuting(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := New(ctx, c, "early")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pubID, err := f.Values.RegisterPublication(ctx, "x", true, "double", "", 0)
	if err != nil {
		t.Fatalf("RegisterPublication: %v", err)
	}
	if err := f.EnterInitializing(ctx); err != nil {
		t.Fatalf("EnterInitializing: %v", err)
	}
	if err := f.Values.Publish(pubID, []byte("1")); err != core.ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestFederateRejectsRegistrationAfterCreated(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := New(ctx, c, "late-registrant")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.EnterInitializing(ctx); err != nil {
		t.Fatalf("EnterInitializing: %v", err)
	}
	if _, err := f.Values.RegisterPublication(ctx, "x", true, "double", "", 0); err != core.ErrInvalidState {
		t.Fatalf("RegisterPublication after Created error = %v, want ErrInvalidState", err)
	}
	if _, err := f.Values.RegisterInput(ctx, "y", "double", "", 0); err != core.ErrInvalidState {
		t.Fatalf("RegisterInput after Created error = %v, want ErrInvalidState", err)
	}
	if _, err := f.Messages.RegisterSourceEndpoint(ctx, "z", "double"); err != core.ErrInvalidState {
		t.Fatalf("RegisterSourceEndpoint after Created error = %v, want ErrInvalidState", err)
	}
	if _, err := f.Messages.RegisterDestinationEndpoint(ctx, "w", "double"); err != core.ErrInvalidState {
		t.Fatalf("RegisterDestinationEndpoint after Created error = %v, want ErrInvalidState", err)
	}
}
