// Package events records domain occurrences (fostering, feeding, day resets,
// wallet credits) in a bounded ring and fans them out to subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// Type classifies an event.
type Type string

const (
	SpriteFostered   Type = "sprite.fostered"
	SpriteReleased   Type = "sprite.released"
	SpriteFed        Type = "sprite.fed"
	SpriteFeedDenied Type = "sprite.feed_denied"
	SpriteDayReset   Type = "sprite.day_reset"
	SpriteTransition Type = "sprite.transition"
	SpriteStaleClock Type = "sprite.stale_clock"
	WalletCredited   Type = "wallet.credited"
)

// Event is a structured domain event.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	SpriteID  string            `json:"sprite_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are published.
type Handler func(Event)

// Filter decides whether a handler sees an event.
type Filter func(Event) bool

// OfType matches events of any of the given types.
func OfType(types ...Type) Filter {
	return func(e Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

// Bus is a thread-safe circular buffer of recent events with subscribers.
type Bus struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
	log      *logger.Logger
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewBus creates a bus retaining the last size events.
func NewBus(size int, log *logger.Logger) *Bus {
	if size <= 0 {
		size = 1000
	}
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Bus{
		events: make([]Event, size),
		size:   size,
		log:    log,
	}
}

// Publish records the event and calls handlers synchronously, outside the lock.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.events[b.head] = event
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}

	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			b.dispatch(h.handler, event)
		}
	}
}

func (b *Bus) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("event_type", event.Type).Errorf("event handler panicked: %v", r)
		}
	}()
	handler(event)
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter. The returned function
// unsubscribes.
func (b *Bus) SubscribeFiltered(filter Filter, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (b *Bus) Recent(n int) []Event {
	return b.recent(n, nil)
}

// RecentByType returns the most recent n events of the given type.
func (b *Bus) RecentByType(t Type, n int) []Event {
	return b.recent(n, OfType(t))
}

func (b *Bus) recent(n int, filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < b.count && len(result) < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		if filter == nil || filter(b.events[idx]) {
			result = append(result, b.events[idx])
		}
	}
	return result
}

// Count returns the number of retained events.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
