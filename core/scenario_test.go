package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newScenarioCore(t *testing.T) *CoreBase {
	t.Helper()
	opts := DefaultOptions()
	opts.Tick = 0
	c := NewCoreBase(1, nil, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c
}

func registerAndExecute(t *testing.T, ctx context.Context, c *CoreBase, name string) GlobalId {
	t.Helper()
	id, err := c.RegisterFederate(ctx, name)
	if err != nil {
		t.Fatalf("RegisterFederate(%s): %v", name, err)
	}
	if err := c.EnterInitializing(ctx, id); err != nil {
		t.Fatalf("EnterInitializing(%s): %v", name, err)
	}
	if err := c.EnterExecuting(ctx, id); err != nil {
		t.Fatalf("EnterExecuting(%s): %v", name, err)
	}
	return id
}

// A federate with an explicit time dependency on another must not be
// granted a time past what its dependency has announced as reachable, and
// unblocks the instant that dependency advances (spec §4.3 granting rule).
func TestScenarioDependencyBlocksUntilUpstreamAdvances(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upstream := registerAndExecute(t, ctx, c, "upstream")
	downstream := registerAndExecute(t, ctx, c, "downstream")

	c.AddActionMessage(ActionMessage{Action: ActionAddDependency, SourceID: upstream, DestID: downstream})
	time.Sleep(10 * time.Millisecond) // let the priority queue drain the topology edit

	granted := make(chan LogicalTime, 1)
	go func() {
		gotTime, _, err := c.RequestTime(ctx, downstream, 5.0, false)
		if err != nil {
			granted <- -1
			return
		}
		granted <- gotTime
	}()

	select {
	case <-granted:
		t.Fatal("downstream was granted before upstream advanced")
	case <-time.After(100 * time.Millisecond):
		// expected: still blocked
	}

	upGranted, _, err := c.RequestTime(ctx, upstream, 5.0, false)
	if err != nil {
		t.Fatalf("upstream RequestTime: %v", err)
	}
	if upGranted != 5.0 {
		t.Fatalf("upstream granted = %v, want 5.0", upGranted)
	}

	select {
	case g := <-granted:
		if g != 5.0 {
			t.Fatalf("downstream granted = %v, want 5.0", g)
		}
	case <-time.After(time.Second):
		t.Fatal("downstream never unblocked after upstream advanced")
	}
}

// Disconnecting a dependency releases any of its dependents that were
// blocked waiting on it (spec §4.3 "Terminal behavior").
func TestScenarioFinalizeUnblocksDependent(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upstream := registerAndExecute(t, ctx, c, "producer")
	downstream := registerAndExecute(t, ctx, c, "consumer")

	c.AddActionMessage(ActionMessage{Action: ActionAddDependency, SourceID: upstream, DestID: downstream})
	time.Sleep(10 * time.Millisecond)

	granted := make(chan LogicalTime, 1)
	go func() {
		gotTime, _, err := c.RequestTime(ctx, downstream, 10.0, false)
		if err != nil {
			granted <- -1
			return
		}
		granted <- gotTime
	}()

	select {
	case <-granted:
		t.Fatal("downstream was granted before producer finalized")
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Finalize(ctx, upstream); err != nil {
		t.Fatalf("Finalize(producer): %v", err)
	}

	select {
	case g := <-granted:
		if g != 10.0 {
			t.Fatalf("downstream granted = %v, want 10.0", g)
		}
	case <-time.After(time.Second):
		t.Fatal("downstream never unblocked after producer finalized")
	}
}

// A publish timestamped ahead of its destination federate's current granted
// time registers a pending event with that federate's TimeCoordinator, so a
// later request for a much larger time is capped at the publish time instead
// of skipping past it unobserved (spec §4.4).
func TestScenarioFutureTimestampedPublishCapsNextGrant(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sink := registerAndExecute(t, ctx, c, "sink")
	inputID, err := c.RegisterHandle(ctx, sink, HandleInput, "in", false, "double", "", 0)
	if err != nil {
		t.Fatalf("RegisterHandle: %v", err)
	}

	c.AddActionMessage(ActionMessage{Action: ActionPublish, DestID: inputID, Time: 3.0, Payload: []byte("x")})
	time.Sleep(10 * time.Millisecond)

	granted, _, err := c.RequestTime(ctx, sink, 10.0, false)
	if err != nil {
		t.Fatalf("RequestTime: %v", err)
	}
	if granted != 3.0 {
		t.Fatalf("granted = %v, want 3.0 (capped at the pending event)", granted)
	}
}

// A federate depending on its core's parent broker, with the broker's own
// aggregate coordinator holding the reciprocal dependent edge, exercises the
// cross-node path where a broker's TIME_DEPENDENCY report unblocks a
// federate's coordinator from the core's own actor-loop goroutine, which
// must then synchronously emit that federate's TIME_GRANT without
// re-entering the core's mutex (spec §4.3 granting rule, broker/core split).
func TestScenarioBrokerCoreTimeDependencyRoundTrip(t *testing.T) {
	brokerOpts := DefaultOptions()
	brokerOpts.Tick = 0
	broker := NewBrokerCore(100, true, nil, nil, brokerOpts)
	brokerCtx, brokerCancel := context.WithCancel(context.Background())
	t.Cleanup(brokerCancel)
	go broker.Run(brokerCtx)

	coreOpts := DefaultOptions()
	coreOpts.Tick = 0
	var leafCore *CoreBase
	childIdx := broker.AllocateChildIndex(func(m ActionMessage) { leafCore.AddActionMessage(m) })
	leafCore = NewCoreBase(childIdx, func(m ActionMessage) { broker.AddActionMessage(m) }, nil, coreOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go leafCore.Run(ctx)

	leaf := registerAndExecute(t, ctx, leafCore, "leaf")

	brokerID := NewNodeId(100)
	leafCore.AddActionMessage(ActionMessage{Action: ActionAddDependency, SourceID: brokerID, DestID: leaf})
	time.Sleep(10 * time.Millisecond) // let the reciprocal AddDependent reach the broker

	granted := make(chan LogicalTime, 1)
	go func() {
		gotTime, _, err := leafCore.RequestTime(ctx, leaf, 5.0, false)
		if err != nil {
			granted <- -1
			return
		}
		granted <- gotTime
	}()

	select {
	case <-granted:
		t.Fatal("leaf was granted before the broker's aggregate coordinator advanced")
	case <-time.After(50 * time.Millisecond):
	}

	broker.AddActionMessage(ActionMessage{Action: ActionTimeRequest, DestID: brokerID, Time: 5.0})

	select {
	case g := <-granted:
		if g != 5.0 {
			t.Fatalf("leaf granted = %v, want 5.0", g)
		}
	case <-time.After(time.Second):
		t.Fatal("leaf never unblocked after the broker's aggregate coordinator advanced")
	}
}

// Two federates registering the same global publication name collide; the
// second registration fails and the first keeps its handle (spec §4.5).
func TestScenarioGlobalNameCollision(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := registerAndExecute(t, ctx, c, "a")
	b := registerAndExecute(t, ctx, c, "b")

	firstID, err := c.RegisterHandle(ctx, a, HandlePublication, "shared", true, "double", "", 0)
	if err != nil {
		t.Fatalf("first RegisterHandle: %v", err)
	}
	if _, err := c.RegisterHandle(ctx, b, HandlePublication, "shared", true, "double", "", 0); err != ErrNameCollision {
		t.Fatalf("second RegisterHandle error = %v, want ErrNameCollision", err)
	}
	if !firstID.Valid() {
		t.Fatal("expected first registration to keep a valid handle id")
	}
}

// A single federate registering two inputs under the same key collides
// locally rather than globally, since inputs are always federate-scoped
// (spec §4.5).
func TestScenarioLocalNameCollision(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f := registerAndExecute(t, ctx, c, "solo")
	if _, err := c.RegisterHandle(ctx, f, HandleInput, "duplicate", false, "double", "", 0); err != nil {
		t.Fatalf("first RegisterHandle: %v", err)
	}
	if _, err := c.RegisterHandle(ctx, f, HandleInput, "duplicate", false, "double", "", 0); err != ErrLocalNameCollision {
		t.Fatalf("second RegisterHandle error = %v, want ErrLocalNameCollision", err)
	}
}

// A broker that never sees enough children register within its init-timeout
// deadline reports an init-timeout ERROR up and down its tree and tears
// itself down instead of waiting forever (spec §5, §7 INIT_TIMEOUT).
func TestScenarioInitTimeoutDisconnectsWithoutEnoughChildren(t *testing.T) {
	opts := DefaultOptions()
	opts.Tick = 0
	opts.MinFederates = 1
	opts.Timeout = 30 * time.Millisecond

	var mu sync.Mutex
	var toParent []ActionMessage
	parentSend := func(m ActionMessage) {
		mu.Lock()
		toParent = append(toParent, m)
		mu.Unlock()
	}

	b := NewBrokerCore(2, false, parentSend, nil, opts)
	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not terminate after its init-timeout deadline")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, m := range toParent {
		if m.Action == ActionError && string(m.Payload) == "init-timeout" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an init-timeout ERROR forwarded to the parent")
	}
}

// A handle flagged required blocks its owner from entering executing until
// some peer has matched it (spec §4.4 option flags table).
func TestScenarioRequiredHandleBlocksEnterExecuting(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lonely, err := c.RegisterFederate(ctx, "lonely")
	if err != nil {
		t.Fatalf("RegisterFederate: %v", err)
	}
	if _, err := c.RegisterHandle(ctx, lonely, HandlePublication, "unmatched", true, "double", "", OptRequired); err != nil {
		t.Fatalf("RegisterHandle required: %v", err)
	}
	if err := c.EnterInitializing(ctx, lonely); err != nil {
		t.Fatalf("EnterInitializing: %v", err)
	}
	if err := c.EnterExecuting(ctx, lonely); err != ErrRequired {
		t.Fatalf("EnterExecuting error = %v, want ErrRequired", err)
	}
}

// A required publication that gains a subscriber before executing begins no
// longer blocks its owner (spec §4.4 option flags table).
func TestScenarioRequiredHandleSatisfiedByMatch(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, err := c.RegisterFederate(ctx, "producer-req")
	if err != nil {
		t.Fatalf("RegisterFederate producer: %v", err)
	}
	if _, err := c.RegisterHandle(ctx, pub, HandlePublication, "feed", true, "double", "", OptRequired); err != nil {
		t.Fatalf("RegisterHandle pub: %v", err)
	}

	sub, err := c.RegisterFederate(ctx, "consumer-req")
	if err != nil {
		t.Fatalf("RegisterFederate consumer: %v", err)
	}
	inputID, err := c.RegisterHandle(ctx, sub, HandleInput, "feed_in", false, "double", "", 0)
	if err != nil {
		t.Fatalf("RegisterHandle input: %v", err)
	}
	if err := c.Subscribe(sub, inputID, "feed"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := c.EnterInitializing(ctx, pub); err != nil {
		t.Fatalf("EnterInitializing producer: %v", err)
	}
	if err := c.EnterExecuting(ctx, pub); err != nil {
		t.Fatalf("EnterExecuting producer: %v", err)
	}
}

// A publication flagged single-connection-only rejects a second subscriber
// (spec §4.4 option flags table).
func TestScenarioSingleConnectionOnlyRejectsSecondSubscriber(t *testing.T) {
	c := newScenarioCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pubOwner := registerAndExecute(t, ctx, c, "publisher")
	subA := registerAndExecute(t, ctx, c, "sub-a")
	subB := registerAndExecute(t, ctx, c, "sub-b")

	pubID, err := c.RegisterHandle(ctx, pubOwner, HandlePublication, "solo-feed", true, "double", "", OptSingleConnectionOnly)
	if err != nil {
		t.Fatalf("RegisterHandle publication: %v", err)
	}
	inputA, err := c.RegisterHandle(ctx, subA, HandleInput, "feed_in", false, "double", "", 0)
	if err != nil {
		t.Fatalf("RegisterHandle input a: %v", err)
	}
	inputB, err := c.RegisterHandle(ctx, subB, HandleInput, "feed_in", false, "double", "", 0)
	if err != nil {
		t.Fatalf("RegisterHandle input b: %v", err)
	}

	if err := c.Subscribe(subA, inputA, "solo-feed"); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := c.Subscribe(subB, inputB, "solo-feed"); err != ErrSingleConnectionOnly {
		t.Fatalf("second Subscribe error = %v, want ErrSingleConnectionOnly", err)
	}
	_ = pubID
}
