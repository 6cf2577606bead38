// Package stream fans session lifecycle events out to in-process subscribers
// (the SSE monitoring endpoint). Publishing never blocks; slow subscribers
// drop events.
package stream

import (
	"context"
	"sync"
	"time"
)

// EventType labels a session lifecycle transition.
type EventType string

const (
	EventLogin   EventType = "login"
	EventRefresh EventType = "refresh"
	EventLogout  EventType = "logout"
)

// Event describes one transition of a device session.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs session events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
