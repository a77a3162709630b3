// Package hub implements the broadcast hub: a one-producer, many-consumer
// distributor of sample buffers that never blocks the producer on a slow
// client. Fan-out is a non-blocking send into each subscriber's bounded
// queue; a full queue means that subscriber drops the buffer.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/cwsl/rtltcpd/internal/driver"
)

// DefaultQueueDepth is the minimum per-client queue depth in buffers.
const DefaultQueueDepth = 4

// Subscriber is a registered consumer. The hub owns nothing about how a
// subscriber drains its channel; it only enforces the backpressure policy
// on publish.
type Subscriber struct {
	id    uint64
	queue chan driver.SampleBuffer
	drops atomic.Uint64 // per-subscriber drop counter, read via Drops()
}

// Queue returns the channel the subscriber's writer goroutine should drain.
func (s *Subscriber) Queue() <-chan driver.SampleBuffer {
	return s.queue
}

// ID returns the subscriber's hub-assigned identifier.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Drops returns the number of buffers dropped for this subscriber because
// its queue was full when Publish ran.
func (s *Subscriber) Drops() uint64 {
	return s.drops.Load()
}

// Hub maintains the set of registered subscribers and fans out published
// sample buffers to each of their bounded queues.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	queueDepth  int

	// onDrop, if set, is called from Publish, with the hub's read lock
	// held, every time a buffer is dropped for a slow subscriber; used to
	// feed metrics.
	onDrop func(id uint64)
}

// New creates a Hub whose per-subscriber queues hold queueDepth buffers.
// Values below DefaultQueueDepth are raised to it.
func New(queueDepth int, onDrop func(id uint64)) *Hub {
	if queueDepth < DefaultQueueDepth {
		queueDepth = DefaultQueueDepth
	}
	return &Hub{
		subscribers: make(map[uint64]*Subscriber),
		queueDepth:  queueDepth,
		onDrop:      onDrop,
	}
}

// Register adds a new subscriber and returns it along with an unregister
// function that must be called exactly once when the consumer goes away.
// Teardown being an explicit call keeps ownership one-way: the hub never
// holds a reference back into the consumer.
func (h *Hub) Register() (*Subscriber, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sub := &Subscriber{
		id:    id,
		queue: make(chan driver.SampleBuffer, h.queueDepth),
	}
	h.subscribers[id] = sub
	h.mu.Unlock()

	unregister := func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
	return sub, unregister
}

// Count returns the number of currently registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish hands buf to every subscriber's queue. It never blocks: a full
// queue causes the buffer to be dropped for that subscriber only. Publish
// is O(n) in the number of subscribers; iteration order is unspecified.
func (h *Hub) Publish(buf driver.SampleBuffer) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers {
		select {
		case sub.queue <- buf:
		default:
			sub.drops.Add(1)
			if h.onDrop != nil {
				h.onDrop(id)
			}
		}
	}
}
