// ABOUTME: Message repository: save, get, delete, read-flag updates and counting
// ABOUTME: Each operation runs in exactly one transaction through the gateway

package store

import (
	"context"
	"fmt"
)

// Save assigns the next key to msg, writes it and returns the key once the
// write has committed. msg.ID is set on success.
func (s *Store) Save(ctx context.Context, msg *Message) (int64, error) {
	if err := msg.validate(); err != nil {
		return 0, err
	}

	stored := *msg
	err := s.withTx(ctx, ReadWrite, func(t txn) error {
		stored.ID = s.keys.Next()
		if err := t.Put(ctx, &stored); err != nil {
			return err
		}
		return t.raiseLastKey(stored.ID)
	})
	if err != nil {
		return 0, fmt.Errorf("saving message: %w", err)
	}

	msg.ID = stored.ID
	s.logger.Debug("saved message", "id", stored.ID, "delivery", stored.Delivery)
	return stored.ID, nil
}

// Get returns the message stored under id.
func (s *Store) Get(ctx context.Context, id int64) (*Message, error) {
	var msg *Message
	err := s.View(ctx, func(tx Tx) error {
		var err error
		msg, err = getOne(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// getOne fetches id and checks the primary-key lookup yielded exactly that
// record.
func getOne(ctx context.Context, tx Tx, id int64) (*Message, error) {
	msgs, err := tx.GetAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	switch {
	case len(msgs) == 0:
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	case len(msgs) > 1:
		return nil, fmt.Errorf("%w: %d records for message %d", ErrUnexpectedState, len(msgs), id)
	case msgs[0].ID != id:
		return nil, fmt.Errorf("%w: lookup for message %d returned %d", ErrUnexpectedState, id, msgs[0].ID)
	}
	return msgs[0], nil
}

// GetInTx fetches id inside an existing transaction with the same checks as Get.
func GetInTx(ctx context.Context, tx Tx, id int64) (*Message, error) {
	return getOne(ctx, tx, id)
}

// Delete removes the message stored under id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var existed bool
	err := s.Update(ctx, func(tx Tx) error {
		n, err := tx.Count(ctx, id)
		if err != nil {
			return fmt.Errorf("counting message %d: %w", id, err)
		}
		if n == 0 {
			return nil
		}
		existed = true
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Debug("deleted message", "id", id)
	}
	return existed, nil
}

// SetRead sets the read flag of message id and returns the stored value.
// Setting the value it already has writes nothing.
func (s *Store) SetRead(ctx context.Context, id int64, read bool) (bool, error) {
	msg, _, err := s.UpdateRead(ctx, id, read)
	if err != nil {
		return false, err
	}
	return msg.Read, nil
}

// UpdateRead is SetRead returning the message as stored afterwards and
// whether the flag was written.
func (s *Store) UpdateRead(ctx context.Context, id int64, read bool) (*Message, bool, error) {
	var (
		stored  *Message
		changed bool
	)
	err := s.Update(ctx, func(tx Tx) error {
		msg, err := getOne(ctx, tx, id)
		if err != nil {
			return err
		}
		if msg.Read == read {
			stored = msg
			return nil
		}

		msg.Read = read
		if err := tx.Put(ctx, msg); err != nil {
			return err
		}

		stored, err = getOne(ctx, tx, id)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, changed, nil
}

// Count returns the number of stored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.View(ctx, func(tx Tx) error {
		var err error
		n, err = tx.CountAll(ctx)
		return err
	})
	return n, err
}
