// ABOUTME: Tests for the message repository and the transaction gateway
// ABOUTME: Covers save, get, delete, read flags, rollback and closed-store behaviour

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_AndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		msg := &Message{
			Delivery:  DeliveryReceived,
			Sender:    "+15550100",
			Receiver:  "+15550199",
			Body:      "see you at 6",
			Timestamp: ms(1_700_000_000_123),
		}
		id, err := s.Save(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, id, msg.ID)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, DeliveryReceived, got.Delivery)
		assert.Equal(t, "+15550100", got.Sender)
		assert.Equal(t, "+15550199", got.Receiver)
		assert.Equal(t, "see you at 6", got.Body)
		assert.Equal(t, int64(1_700_000_000_123), got.Timestamp.UnixMilli())
		assert.False(t, got.Read)
	})
}

func TestSave_TruncatesToMilliseconds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		at := ms(5000).Add(999_999) // 5000ms + 999.999µs
		id, err := s.Save(ctx, &Message{Delivery: DeliverySent, Timestamp: at})
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got.Timestamp.UnixMilli())
	})
}

func TestSave_RejectsInvalidDelivery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		_, err := s.Save(context.Background(), &Message{Delivery: "draft", Timestamp: ms(1)})
		assert.ErrorIs(t, err, ErrInvalidMessage)
		assert.Equal(t, int64(0), s.LastKey(), "no key consumed by a rejected message")
	})
}

func TestGet_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		_, err := s.Get(context.Background(), 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		id := saveTestMessage(t, s, Message{Delivery: DeliverySent, Receiver: "555", Timestamp: ms(1)})

		existed, err := s.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleted records leave no index entries behind.
		err = s.View(ctx, func(tx Tx) error {
			ids, err := Resolve(ctx, tx, Filter{Numbers: []string{"555"}})
			require.NoError(t, err)
			assert.Empty(t, ids)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestDelete_MissingReturnsFalse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		existed, err := s.Delete(context.Background(), 999)
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestSetRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		id := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "555", Timestamp: ms(1)})

		read, err := s.SetRead(ctx, id, true)
		require.NoError(t, err)
		assert.True(t, read)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Read)

		// The read index follows the flag.
		err = s.View(ctx, func(tx Tx) error {
			unread, err := Resolve(ctx, tx, Filter{Read: boolPtr(false)})
			require.NoError(t, err)
			assert.Empty(t, unread)

			readIDs, err := Resolve(ctx, tx, Filter{Read: boolPtr(true)})
			require.NoError(t, err)
			assert.Equal(t, []int64{id}, readIDs)
			return nil
		})
		require.NoError(t, err)

		read, err = s.SetRead(ctx, id, false)
		require.NoError(t, err)
		assert.False(t, read)
	})
}

func TestSetRead_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		id := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "555", Timestamp: ms(1)})

		first, err := s.SetRead(ctx, id, true)
		require.NoError(t, err)
		before, err := s.Get(ctx, id)
		require.NoError(t, err)

		second, err := s.SetRead(ctx, id, true)
		require.NoError(t, err)
		after, err := s.Get(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, before, after)
	})
}

func TestSetRead_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		_, err := s.SetRead(context.Background(), 7, true)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateRead_ReportsChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		id := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "555", Receiver: "100", Timestamp: ms(1)})

		msg, changed, err := s.UpdateRead(ctx, id, true)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, msg.Read)
		assert.Equal(t, "555", msg.Sender)
		assert.Equal(t, "100", msg.Receiver)

		msg, changed, err = s.UpdateRead(ctx, id, true)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, msg.Read)
	})
}

func TestCount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		for i := range 3 {
			saveTestMessage(t, s, Message{Delivery: DeliverySent, Receiver: "555", Timestamp: ms(int64(i))})
		}
		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestGateway_ClosedStoreIsUnavailable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		require.NoError(t, s.Close())

		called := false
		err := s.View(context.Background(), func(tx Tx) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.False(t, called)

		_, err = s.Save(context.Background(), &Message{Delivery: DeliverySent, Timestamp: ms(1)})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})
}

func TestGateway_ErrorRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.Update(ctx, func(tx Tx) error {
			if err := tx.Put(ctx, &Message{ID: 10, Delivery: DeliverySent, Timestamp: ms(1)}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Get(ctx, 10)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGateway_ViewRejectsWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		err := s.View(ctx, func(tx Tx) error {
			return tx.Put(ctx, &Message{ID: 1, Delivery: DeliverySent, Timestamp: ms(1)})
		})
		assert.ErrorIs(t, err, ErrReadOnlyTx)
	})
}

func TestGateway_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := s.Update(ctx, func(tx Tx) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestGateway_PanicRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		assert.Panics(t, func() {
			_ = s.Update(ctx, func(tx Tx) error {
				if err := tx.Put(ctx, &Message{ID: 10, Delivery: DeliverySent, Timestamp: ms(1)}); err != nil {
					return err
				}
				panic("boom")
			})
		})
		assert.Panics(t, func() {
			_ = s.View(ctx, func(tx Tx) error {
				panic("boom")
			})
		})

		// Neither transaction is left open: the write was discarded and the
		// next writer gets through.
		_, err := s.Get(ctx, 10)
		assert.ErrorIs(t, err, ErrNotFound)

		id := saveTestMessage(t, s, Message{Delivery: DeliverySent, Receiver: "555", Timestamp: ms(2)})
		assert.Equal(t, int64(1), id)
	})
}

func TestGetInTx_ChecksID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()
		id := saveTestMessage(t, s, Message{Delivery: DeliverySent, Receiver: "555", Timestamp: ms(1)})

		err := s.View(ctx, func(tx Tx) error {
			msg, err := GetInTx(ctx, tx, id)
			require.NoError(t, err)
			assert.Equal(t, id, msg.ID)

			_, err = GetInTx(ctx, tx, id+1)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})
}
