package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 256

// Listener is a callback for events.
type Listener func(Event)

type subscription struct {
	id        uint64
	eventType string // empty: all events
	fn        Listener
}

// Bus delivers events to subscribers on its own goroutine, so publishers
// (the serial reader included) never wait on a listener.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	queue   chan Event
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a bus and starts its dispatcher.
func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "events"),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers a listener for every event.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	return b.add("", fn)
}

// On registers a listener for one event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, fn Listener) func() {
	return b.add(eventType, fn)
}

func (b *Bus) add(eventType string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish enqueues e without blocking. It returns false when the queue is full
// or the bus is closed; the event is dropped in that case.
func (b *Bus) Publish(e Event) bool {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- e:
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "type", e.Type(), "dropped", n)
		return false
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, delivers what is queued and waits for the dispatcher.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.closeMu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

// deliver calls matching listeners in subscription order; a panicking listener is recovered.
func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == e.Type() {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event listener panic", "type", e.Type(), "panic", r)
				}
			}()
			fn(e)
		}()
	}
}
