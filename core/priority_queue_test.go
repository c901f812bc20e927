package core

import (
	"sync"
	"testing"
	"time"
)

func TestPriorityQueueOrdersPriorityFirst(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(NewActionMessage(ActionTick))
	q.PushPriority(NewActionMessage(ActionDisconnect))
	q.Push(NewActionMessage(ActionPublish))

	first := q.Pop()
	if first.Action != ActionDisconnect {
		t.Fatalf("expected priority message first, got %s", first.Action)
	}
	second := q.Pop()
	if second.Action != ActionTick {
		t.Fatalf("expected FIFO within regular band, got %s", second.Action)
	}
	third := q.Pop()
	if third.Action != ActionPublish {
		t.Fatalf("expected FIFO within regular band, got %s", third.Action)
	}
}

func TestPriorityQueueFIFOWithinBand(t *testing.T) {
	q := NewPriorityQueue()
	for i := 0; i < 5; i++ {
		q.PushPriority(ActionMessage{Action: ActionTimeGrant, Counter: uint64(i)})
	}
	for i := 0; i < 5; i++ {
		got := q.Pop()
		if got.Counter != uint64(i) {
			t.Fatalf("expected FIFO order, got counter %d at position %d", got.Counter, i)
		}
	}
}

func TestPriorityQueuePopBlocksUntilPush(t *testing.T) {
	q := NewPriorityQueue()
	done := make(chan ActionMessage, 1)
	go func() {
		done <- q.Pop()
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any message was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(NewActionMessage(ActionQuery))
	select {
	case m := <-done:
		if m.Action != ActionQuery {
			t.Fatalf("expected ActionQuery, got %s", m.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after push")
	}
}

func TestPriorityQueueTerminateImmediatelyStopsDelivery(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(NewActionMessage(ActionPublish))
	q.Push(NewActionMessage(ActionTerminateImmediately))
	q.Push(NewActionMessage(ActionQuery)) // enqueued before terminate is popped

	first := q.Pop()
	if first.Action != ActionPublish {
		t.Fatalf("expected publish first, got %s", first.Action)
	}
	second := q.Pop()
	if second.Action != ActionTerminateImmediately {
		t.Fatalf("expected terminate, got %s", second.Action)
	}

	// Anything queued behind TERMINATE_IMMEDIATELY is discarded, and every
	// subsequent Pop keeps returning the terminate sentinel.
	for i := 0; i < 3; i++ {
		got := q.Pop()
		if got.Action != ActionTerminateImmediately {
			t.Fatalf("expected terminate sentinel after termination, got %s", got.Action)
		}
	}

	// Pushes after termination are silently dropped.
	q.Push(NewActionMessage(ActionPublish))
	if q.Len() != 0 {
		t.Fatalf("expected pushes after termination to be dropped, len=%d", q.Len())
	}
}

func TestPriorityQueueConcurrentProducers(t *testing.T) {
	q := NewPriorityQueue()
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(ActionMessage{Action: ActionPublish, Counter: uint64(i)})
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		m := q.Pop()
		if seen[m.Counter] {
			t.Fatalf("duplicate counter %d observed", m.Counter)
		}
		seen[m.Counter] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct messages, got %d", n, len(seen))
	}
}
