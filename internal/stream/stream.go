// Package stream fans out change notifications of the ranked collections to
// live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeEvent describes one committed mutation of a collection.
type ChangeEvent struct {
	Kind      string    `json:"kind"`
	Op        string    `json:"op"`
	IDs       []string  `json:"ids,omitempty"`
	Size      int       `json:"size,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream delivers events to every active subscriber.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan ChangeEvent
	next    int
	dropped atomic.Uint64
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish hands evt to every subscriber. A subscriber whose buffer is full
// misses the event.
func (s *Stream) Publish(evt ChangeEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}
