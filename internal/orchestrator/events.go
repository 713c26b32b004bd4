package orchestrator

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventServerStarted EventType = "serverStarted"
	EventServerStopped EventType = "serverStopped"
	EventProcessDied   EventType = "processDied"
)

// Event is a lifecycle notification. The persisted state already
// reflects the transition by the time subscribers see it.
type Event struct {
	Type     EventType `json:"type"`
	ServerID string    `json:"server_id"`
	Pid      int       `json:"pid,omitempty"`
	Time     time.Time `json:"time"`
}

// Broadcaster fans lifecycle events out to subscribers. Plain channel
// pub/sub, no framework event emitter involved.
type Broadcaster struct {
	clients map[chan Event]bool
	mu      sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan Event]bool),
	}
}

// Subscribe adds a new client to receive events
func (b *Broadcaster) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64) // Buffer to prevent blocking
	b.clients[ch] = true
	return ch
}

// Unsubscribe removes a client from receiving events
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.clients, ch)
	close(ch)
}

// Publish sends an event to all subscribers
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// Channel buffer full, skip this client to prevent blocking
		}
	}
}
