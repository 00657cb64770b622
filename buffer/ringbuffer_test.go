package buffer

import (
	"sync"
	"testing"

	"alertcore/packet"
)

func alertEvent(n int) Event {
	return Event{Kind: AlertEvent, Alert: packet.Alert{Band: packet.BandK, FrequencyMHz: float64(24000 + n)}}
}

func TestPopEmptyReturnsNoEvent(t *testing.T) {
	r := NewEventRing(4)
	if _, ok := r.Pop(); ok {
		t.Fatalf("expected no event from empty ring")
	}
}

func TestFIFOOrder(t *testing.T) {
	r := NewEventRing(4)
	for i := 0; i < 3; i++ {
		r.Push(alertEvent(i))
	}
	for i := 0; i < 3; i++ {
		ev, ok := r.Pop()
		if !ok {
			t.Fatalf("expected event %d", i)
		}
		if ev.Alert.FrequencyMHz != float64(24000+i) {
			t.Fatalf("expected freq %d, got %.0f", 24000+i, ev.Alert.FrequencyMHz)
		}
	}
	if r.Overflows() != 0 {
		t.Fatalf("expected no overflow, got %d", r.Overflows())
	}
}

func TestOverflowKeepsMostRecent(t *testing.T) {
	const capacity = 5
	for _, k := range []int{1, 3, 5, 12} {
		r := NewEventRing(capacity)
		for i := 0; i < capacity+k; i++ {
			r.Push(alertEvent(i))
		}
		if got := r.Overflows(); got != uint64(k) {
			t.Fatalf("k=%d: expected overflow %d, got %d", k, k, got)
		}
		if r.Len() != capacity {
			t.Fatalf("k=%d: expected len %d, got %d", k, capacity, r.Len())
		}
		for i := 0; i < capacity; i++ {
			ev, ok := r.Pop()
			if !ok {
				t.Fatalf("k=%d: ring drained early at %d", k, i)
			}
			want := float64(24000 + k + i)
			if ev.Alert.FrequencyMHz != want {
				t.Fatalf("k=%d: pop %d expected %.0f, got %.0f", k, i, want, ev.Alert.FrequencyMHz)
			}
		}
		if _, ok := r.Pop(); ok {
			t.Fatalf("k=%d: expected ring empty", k)
		}
	}
}

func TestWraparoundInterleaved(t *testing.T) {
	r := NewEventRing(3)
	next := 0
	want := 0
	for round := 0; round < 20; round++ {
		r.Push(alertEvent(next))
		next++
		r.Push(alertEvent(next))
		next++
		for i := 0; i < 2; i++ {
			ev, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d: unexpected empty ring", round)
			}
			if ev.Alert.FrequencyMHz != float64(24000+want) {
				t.Fatalf("round %d: expected %d, got %.0f", round, 24000+want, ev.Alert.FrequencyMHz)
			}
			want++
		}
	}
}

func TestPendingKinds(t *testing.T) {
	r := NewEventRing(4)
	r.Push(alertEvent(0))
	r.Push(Event{Kind: StateChangeEvent, State: StateChange{Source: "link", State: "connected"}})
	r.Push(Event{Kind: OverflowEvent, Dropped: 2})
	got := r.PendingKinds()
	want := []string{"AlertEvent", "StateChangeEvent", "OverflowEvent"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("PendingKinds must not consume events")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 20000
	r := NewEventRing(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			r.Push(alertEvent(i))
		}
	}()

	popped := 0
	last := -1
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	drain := func() {
		for {
			ev, ok := r.Pop()
			if !ok {
				return
			}
			n := int(ev.Alert.FrequencyMHz) - 24000
			if n <= last {
				t.Errorf("event %d returned after %d", n, last)
			}
			last = n
			popped++
		}
	}
	for {
		select {
		case <-done:
			drain()
			if uint64(popped)+r.Overflows() != total {
				t.Fatalf("popped %d + overflow %d != %d", popped, r.Overflows(), total)
			}
			return
		default:
			drain()
		}
	}
}
