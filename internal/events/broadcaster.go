// Package events fans explorer state changes out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fruitsalade/blobtext/internal/metrics"
)

const (
	EventRefresh  = "refresh"
	EventCreate   = "create"
	EventModify   = "modify"
	EventDelete   = "delete"
	EventRollback = "rollback"
	EventSelect   = "select"
)

// subscriberBuffer is the number of events queued per subscriber before
// deliveries to it are dropped.
const subscriberBuffer = 64

// Event describes one change to the explorer collection or selection.
// Seq increases by one per published event; a subscriber that sees a gap
// has missed events and should reload the state.
type Event struct {
	Seq       uint64   `json:"seq"`
	Type      string   `json:"type"`
	Path      string   `json:"path,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	URL       string   `json:"url,omitempty"`
	Size      int64    `json:"size,omitempty"`
	Count     int      `json:"count,omitempty"`
	Op        string   `json:"op,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Publisher accepts events. *Broadcaster satisfies it.
type Publisher interface {
	Publish(Event)
}

// Broadcaster delivers explorer events to every subscribed stream.
type Broadcaster struct {
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a stream. Pair it with Unsubscribe.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish numbers and stamps event, then queues it for every subscriber.
// A subscriber whose queue is full misses the event.
func (b *Broadcaster) Publish(event Event) {
	event.Seq = b.seq.Add(1)
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
