package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type E1 struct{ A int }
type E2 struct{ S string }

func TestBus_SubscribePublish_TypeIsolation(t *testing.T) {
	var c1 int32

	cancel := Subscribe(func(ev E1) {
		atomic.AddInt32(&c1, int32(ev.A))
	})
	defer cancel()

	Publish(E1{A: 1})
	Publish(E1{A: 2})
	Publish(E2{S: "noop"}) // must not count

	if got := atomic.LoadInt32(&c1); got != 3 {
		t.Fatalf("want 3, got %d", got)
	}
}

func TestBus_Cancel_Unsubscribe(t *testing.T) {
	var hits int32

	cancel := Subscribe(func(E1) {
		atomic.AddInt32(&hits, 1)
	})
	cancel() // unsubscribe before publishing

	Publish(E1{A: 1})
	time.Sleep(10 * time.Millisecond)

	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("want 0 after cancel, got %d", got)
	}
}

func TestBus_Concurrency_NoRaces(t *testing.T) {
	var hits int32

	cancel := Subscribe(func(E1) {
		atomic.AddInt32(&hits, 1)
	})
	defer cancel()

	const G = 50
	const N = 100
	var wg sync.WaitGroup
	wg.Add(G)
	for g := 0; g < G; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < N; i++ {
				Publish(E1{A: 1})
			}
		}()
	}
	wg.Wait()

	want := int32(G * N)
	if got := atomic.LoadInt32(&hits); got != want {
		t.Fatalf("want %d, got %d", want, got)
	}
}

func TestBus_CancelKeepsOtherSubscribers(t *testing.T) {
	var a, b int32
	cancelA := Subscribe(func(E2) { atomic.AddInt32(&a, 1) })
	cancelB := Subscribe(func(E2) { atomic.AddInt32(&b, 1) })
	defer cancelB()

	cancelA()
	cancelA() // second cancel is a no-op
	if got := Count[E2](); got != 1 {
		t.Fatalf("want 1 subscriber, got %d", got)
	}

	Publish(E2{S: "x"})
	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Fatalf("want a=0 b=1, got a=%d b=%d", a, b)
	}
}

func TestBus_PanicDoesNotStopDelivery(t *testing.T) {
	var hits int32
	c1 := Subscribe(func(E2) { panic("boom") })
	defer c1()
	c2 := Subscribe(func(E2) { atomic.AddInt32(&hits, 1) })
	defer c2()

	Publish(E2{S: "y"})
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("want 1, got %d", got)
	}
}

func TestBus_QueueChanged(t *testing.T) {
	got := make(chan QueueChanged, 1)
	cancel := Subscribe(func(ev QueueChanged) { got <- ev })
	defer cancel()

	Publish(QueueChanged{})
	select {
	case <-got:
	default:
		t.Fatal("QueueChanged not delivered")
	}
}
