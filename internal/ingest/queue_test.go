package ingest

import (
	"fmt"
	"sync"
	"testing"
)

func msg(topic string) Message {
	return NewMessage(topic, []byte(topic))
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)

	for i := 0; i < 5; i++ {
		if evicted := q.Enqueue(msg(fmt.Sprintf("m%d", i))); evicted {
			t.Fatalf("unbounded queue evicted at %d", i)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		m, ok := q.TryDequeue()
		if !ok || m.Topic != fmt.Sprintf("m%d", i) {
			t.Fatalf("TryDequeue() #%d = %q, %v", i, m.Topic, ok)
		}
	}

	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue() on empty queue returned a message")
	}
}

func TestQueue_DropOldest(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))
	if evicted := q.Enqueue(msg("c")); !evicted {
		t.Fatal("Enqueue() on full queue did not evict")
	}

	if q.Len() != 2 || q.Dropped() != 1 {
		t.Fatalf("Len() = %d, Dropped() = %d; want 2, 1", q.Len(), q.Dropped())
	}
	if m, _ := q.TryDequeue(); m.Topic != "b" {
		t.Errorf("oldest survivor = %q, want b", m.Topic)
	}
	if m, _ := q.TryDequeue(); m.Topic != "c" {
		t.Errorf("newest = %q, want c", m.Topic)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Clear = %d", q.Len())
	}
	if n := q.Clear(); n != 0 {
		t.Errorf("Clear() on empty queue = %d", n)
	}
}

func TestQueue_NegativeCapacityIsUnbounded(t *testing.T) {
	if q := NewQueue(-3); q.Capacity() != 0 {
		t.Errorf("Capacity() = %d, want 0", q.Capacity())
	}
}

func TestNewMessage_CopiesPayload(t *testing.T) {
	buf := []byte("payload")
	m := NewMessage("t", buf)
	buf[0] = 'X'

	if string(m.Payload) != "payload" {
		t.Errorf("Payload = %q, aliasing caller buffer", m.Payload)
	}
	if m.Received.IsZero() {
		t.Error("Received not set")
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	q := NewQueue(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Enqueue(msg(fmt.Sprintf("%04d", i)))
		}
	}()

	got := make([]string, 0, n)
	for len(got) < n {
		if m, ok := q.TryDequeue(); ok {
			got = append(got, m.Topic)
		}
	}
	wg.Wait()

	for i, topic := range got {
		if topic != fmt.Sprintf("%04d", i) {
			t.Fatalf("position %d = %s, order not preserved", i, topic)
		}
	}
}
