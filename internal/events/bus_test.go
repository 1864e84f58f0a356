package events

import (
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(16, testLogger())

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(func(e Event) {
			mu.Lock()
			got = append(got, name+":"+e.Type())
			mu.Unlock()
		})
	}

	if !bus.Publish(InclusionStarted{}) || !bus.Publish(InclusionDone{NodeID: 7}) {
		t.Fatal("publish rejected")
	}
	bus.Close()

	want := []string{
		"a:inclusion_started", "b:inclusion_started", "c:inclusion_started",
		"a:inclusion_done", "b:inclusion_done", "c:inclusion_done",
	}
	if !slices.Equal(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestBusPanickingListenerIsIsolated(t *testing.T) {
	bus := NewBus(16, testLogger())

	var received []Event
	bus.Subscribe(func(Event) { panic("listener bug") })
	bus.Subscribe(func(e Event) { received = append(received, e) })

	bus.Publish(SlaveAdding{NodeID: 7})
	bus.Publish(InclusionFailed{})
	bus.Close()

	want := []Event{SlaveAdding{NodeID: 7}, InclusionFailed{}}
	if !reflect.DeepEqual(received, want) {
		t.Errorf("received %#v, want %#v", received, want)
	}
}

func TestBusOnFiltersByType(t *testing.T) {
	bus := NewBus(16, testLogger())

	var done []uint8
	bus.On(TypeInclusionDone, func(e Event) {
		done = append(done, e.(InclusionDone).NodeID)
	})

	bus.Publish(InclusionStarted{})
	bus.Publish(InclusionDone{NodeID: 3})
	bus.Publish(NodeRemoved{NodeID: 3})
	bus.Close()

	if !slices.Equal(done, []uint8{3}) {
		t.Errorf("done = %v, want [3]", done)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(16, testLogger())

	var count int
	unsub := bus.Subscribe(func(Event) { count++ })
	bus.Publish(NodeFound{})
	bus.Close()
	unsub()
	unsub()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	bus2 := NewBus(16, testLogger())
	count = 0
	unsub2 := bus2.Subscribe(func(Event) { count++ })
	unsub2()
	bus2.Publish(NodeFound{})
	bus2.Close()
	if count != 0 {
		t.Errorf("unsubscribed listener called %d times", count)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, testLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	bus.Subscribe(func(Event) {
		once.Do(func() { close(started) })
		<-release
	})

	if !bus.Publish(NodeFound{}) {
		t.Fatal("first publish rejected")
	}
	<-started // dispatcher is now blocked inside the listener
	if !bus.Publish(NodeFound{}) {
		t.Fatal("queued publish rejected")
	}
	if bus.Publish(NodeFound{}) {
		t.Error("publish into a full queue accepted")
	}
	if n := bus.Dropped(); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}

	close(release)
	bus.Close()
	if bus.Publish(NodeFound{}) {
		t.Error("publish after close accepted")
	}
}

func TestFieldsAndNodeOf(t *testing.T) {
	f := Fields(ValueUpdated{NodeID: 5, CommandClass: 0x25, Property: "switch", Value: true})
	if f["type"] != "value_updated" || f["node_id"] != float64(5) || f["value"] != true {
		t.Errorf("fields = %v", f)
	}

	if id, ok := NodeOf(InclusionDone{NodeID: 9}); !ok || id != 9 {
		t.Errorf("NodeOf(InclusionDone{9}) = %d, %v", id, ok)
	}
	if _, ok := NodeOf(NodeRemoved{}); ok {
		t.Error("NodeOf(NodeRemoved{0}) reported a node")
	}
	if _, ok := NodeOf(InclusionStarted{}); ok {
		t.Error("NodeOf(InclusionStarted) reported a node")
	}
}
