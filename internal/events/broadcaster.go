// ABOUTME: In-memory fan-out of message store changes to interested subscribers
// ABOUTME: Subscribers register for a phone number, or for everything with an empty number

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Type is the kind of change an Event reports.
type Type string

const (
	TypeSaved   Type = "saved"
	TypeDeleted Type = "deleted"
	TypeRead    Type = "read"
)

// Event describes one committed change to a stored message.
type Event struct {
	Type      Type
	MessageID int64
	Sender    string
	Receiver  string
	Read      bool
	At        time.Time
}

// Broadcaster provides in-memory pub/sub for message changes. Subscribers
// keyed by a number receive events whose sender or receiver is that number;
// subscribers with an empty number receive every event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // number -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events touching number. Returns a
// channel that receives events and a subscription ID for later
// unsubscription. The subscription is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, number string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[number]; !ok {
		b.subscribers[number] = make(map[string]chan *Event)
	}
	b.subscribers[number][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "number", number, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(number, subID)
	}()

	return ch, subID
}

// Publish delivers event to subscribers of its sender, its receiver and to
// wildcard subscribers. Events are dropped for subscribers whose channels
// are full.
func (b *Broadcaster) Publish(event *Event) {
	keys := []string{""}
	if event.Sender != "" {
		keys = append(keys, event.Sender)
	}
	if event.Receiver != "" && event.Receiver != event.Sender {
		keys = append(keys, event.Receiver)
	}

	// Sends never block, so the read lock is held across them and
	// Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range keys {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
				b.logger.Debug("dropped event for slow subscriber",
					"type", event.Type,
					"message_id", event.MessageID)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(number, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[number]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, number)
	}

	b.logger.Debug("subscriber removed", "number", number, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for number, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, number)
	}

	b.logger.Debug("broadcaster closed")
}
