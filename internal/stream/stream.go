// Package stream fan-outs live scan events to dashboard subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// ScanEvent describes one public verification scan for the live dashboard.
type ScanEvent struct {
	QRCode      string    `json:"qr_code"`
	ProductName string    `json:"product_name"`
	FactoryID   string    `json:"factory_id"`
	FactoryName string    `json:"factory_name,omitempty"`
	Result      string    `json:"result"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stream fan-outs scan events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ScanEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ScanEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ScanEvent {
	ch := make(chan ScanEvent, 16)

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
func (s *Stream) Publish(evt ScanEvent) {
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
