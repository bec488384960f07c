package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventTaskUpdate   = "task_update"
	EventTicketUpdate = "ticket_update"
)

// Event is an ephemeral message pushed to stream subscribers. It is never
// persisted.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the producer-side view of the bus.
type Publisher interface {
	Publish(eventType string, data any)
}

// Bus fans events out to any number of subscribers, each with its own
// buffered channel. Delivery is best-effort: a subscriber that cannot keep
// up loses events instead of blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
}

var _ Publisher = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  64,
	}
}

func (b *Bus) Publish(eventType string, data any) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			slog.Debug("Subscriber buffer full, dropping event", "subscriber", id, "type", eventType)
		}
	}
}

// Subscribe registers a new subscriber and returns its id and event channel.
// The channel is closed on Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	slog.Debug("Subscriber registered", "subscriber", id)
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		slog.Debug("Subscriber removed", "subscriber", id)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
