// ABOUTME: Service is the SMS database facade over the store, pager and change broadcaster
// ABOUTME: Stamps the local number on saved messages and publishes an event for every mutation

package smsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/smsdb/internal/events"
	"github.com/2389/smsdb/internal/pager"
	"github.com/2389/smsdb/internal/store"
)

// Options configures a Service.
type Options struct {
	// MSISDN is the local endpoint's number. It becomes the receiver of
	// received messages and the sender of sent ones.
	MSISDN string
	Lists  pager.Options
	Logger *slog.Logger
}

// Service exposes the SMS database operations.
type Service struct {
	store  *store.Store
	pager  *pager.Pager
	events *events.Broadcaster
	msisdn string
	logger *slog.Logger
}

// New creates a service over an open store. broadcaster may be nil, in which
// case no events are published.
func New(s *store.Store, broadcaster *events.Broadcaster, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lists := opts.Lists
	if lists.Logger == nil {
		lists.Logger = logger
	}
	return &Service{
		store:  s,
		pager:  pager.New(s, lists),
		events: broadcaster,
		msisdn: opts.MSISDN,
		logger: logger.With("component", "smsdb"),
	}
}

// MSISDN returns the configured local number.
func (s *Service) MSISDN() string { return s.msisdn }

// SaveReceivedMessage stores an incoming message from sender, addressed to
// the local number and marked unread.
func (s *Service) SaveReceivedMessage(ctx context.Context, sender, body string, date time.Time) (int64, error) {
	return s.SaveMessage(ctx, &store.Message{
		Delivery:  store.DeliveryReceived,
		Sender:    sender,
		Receiver:  s.msisdn,
		Body:      body,
		Timestamp: date,
		Read:      false,
	})
}

// SaveSentMessage stores an outgoing message to receiver, sent from the local
// number and marked read.
func (s *Service) SaveSentMessage(ctx context.Context, receiver, body string, date time.Time) (int64, error) {
	return s.SaveMessage(ctx, &store.Message{
		Delivery:  store.DeliverySent,
		Sender:    s.msisdn,
		Receiver:  receiver,
		Body:      body,
		Timestamp: date,
		Read:      true,
	})
}

// SaveMessage stores msg as given and returns its id once committed.
func (s *Service) SaveMessage(ctx context.Context, msg *store.Message) (int64, error) {
	id, err := s.store.Save(ctx, msg)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("message saved",
		"id", id,
		"delivery", msg.Delivery,
		"sender", msg.Sender,
		"receiver", msg.Receiver)

	s.publish(&events.Event{
		Type:      events.TypeSaved,
		MessageID: id,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Read:      msg.Read,
	})
	return id, nil
}

// GetMessage returns the message stored under id.
func (s *Service) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	return s.store.Get(ctx, id)
}

// DeleteMessage removes the message stored under id and reports whether it
// existed. Deleting a missing message is not an error.
func (s *Service) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	// Looked up first so the event can be routed to the message's numbers.
	msg, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		ev := &events.Event{Type: events.TypeDeleted, MessageID: id}
		if msg != nil {
			ev.Sender, ev.Receiver, ev.Read = msg.Sender, msg.Receiver, msg.Read
		}
		s.publish(ev)
	}
	return deleted, nil
}

// MarkMessageRead sets the read flag of message id and returns the stored
// value. An event is published only when the flag changed.
func (s *Service) MarkMessageRead(ctx context.Context, id int64, read bool) (bool, error) {
	msg, changed, err := s.store.UpdateRead(ctx, id, read)
	if err != nil {
		return false, err
	}

	if changed {
		s.publish(&events.Event{
			Type:      events.TypeRead,
			MessageID: id,
			Sender:    msg.Sender,
			Receiver:  msg.Receiver,
			Read:      msg.Read,
		})
	}
	return msg.Read, nil
}

// CreateMessageList creates a list of the messages matching f and returns
// its id with the first message. pager.ErrNoMessages reports an empty result.
func (s *Service) CreateMessageList(ctx context.Context, f store.Filter) (pager.ListID, *store.Message, error) {
	return s.pager.CreateList(ctx, f)
}

// GetNextMessageInList returns the next message of list id.
func (s *Service) GetNextMessageInList(ctx context.Context, id pager.ListID) (*store.Message, error) {
	return s.pager.Next(ctx, id)
}

// ClearMessageList discards list id.
func (s *Service) ClearMessageList(id pager.ListID) bool {
	return s.pager.Discard(id)
}

// Stats summarizes the store.
type Stats struct {
	Backend       string
	Path          string
	SchemaVersion int
	Messages      int
	LastKey       int64
	OpenLists     int
}

// Stats returns counts and versions for the open store.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	return &Stats{
		Backend:       s.store.Backend(),
		Path:          s.store.Path(),
		SchemaVersion: s.store.SchemaVersion(),
		Messages:      n,
		LastKey:       s.store.LastKey(),
		OpenLists:     s.pager.Len(),
	}, nil
}

// Close stops list expiry. The store and broadcaster are owned by the caller.
func (s *Service) Close() {
	s.pager.Close()
}

func (s *Service) publish(ev *events.Event) {
	if s.events == nil {
		return
	}
	ev.At = time.Now()
	s.events.Publish(ev)
}
