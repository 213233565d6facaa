package ingest

import (
	"sync"
	"time"
)

// Message is one raw delivery from the subscription transport.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// NewMessage copies payload so the caller may reuse its buffer.
func NewMessage(topic string, payload []byte) Message {
	return Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		Received: time.Now(),
	}
}

// Queue is the FIFO hand-off between the MQTT delivery goroutine and the
// worker. Enqueue never blocks.
//
// With capacity 0 the queue is unbounded. With capacity > 0 a full queue
// evicts its oldest message to make room, and counts it as dropped.
type Queue struct {
	mu      sync.Mutex
	data    []Message
	cap     int
	dropped uint64
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{cap: capacity}
}

// Enqueue appends m. It reports whether an older message was evicted.
func (q *Queue) Enqueue(m Message) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cap > 0 && len(q.data) >= q.cap {
		q.popLocked()
		q.dropped++
		evicted = true
	}
	q.data = append(q.data, m)
	return evicted
}

// TryDequeue removes and returns the oldest message, if any.
func (q *Queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) == 0 {
		return Message{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() Message {
	m := q.data[0]
	q.data[0] = Message{}
	q.data = q.data[1:]
	if len(q.data) == 0 {
		q.data = nil
	}
	return m
}

// Clear discards every queued message and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.data)
	q.data = nil
	return n
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Dropped returns the number of messages evicted by the capacity bound.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Capacity returns the configured bound, 0 for unbounded.
func (q *Queue) Capacity() int {
	return q.cap
}
