// ABOUTME: Tests for the message list pager against a real store
// ABOUTME: Covers exhaustive paging, empty results, stale keys, discard and ordering

package pager

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/smsdb/internal/store"
)

func setupTestPager(t *testing.T) (*Pager, *store.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(context.Background(), store.Options{
		Path:   filepath.Join(t.TempDir(), "sms.db"),
		Logger: logger,
	})
	require.NoError(t, err)

	p := New(s, Options{Logger: logger})
	t.Cleanup(func() {
		p.Close()
		s.Close()
	})
	return p, s
}

func seed(t *testing.T, s *store.Store, msgs ...store.Message) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		id, err := s.Save(context.Background(), &msg)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func received(sender string, atMillis int64) store.Message {
	return store.Message{
		Delivery:  store.DeliveryReceived,
		Sender:    sender,
		Receiver:  "+15550100",
		Body:      "hello",
		Timestamp: time.UnixMilli(atMillis),
	}
}

func TestPager_DeliversEveryMessageOnce(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s,
		received("555", 10),
		received("555", 20),
		received("556", 30),
		received("555", 40),
		received("555", 50),
	)

	listID, first, err := p.CreateList(ctx, store.Filter{Numbers: []string{"555"}})
	require.NoError(t, err)

	got := []int64{first.ID}
	for range 3 {
		msg, err := p.Next(ctx, listID)
		require.NoError(t, err)
		got = append(got, msg.ID)
	}

	_, err = p.Next(ctx, listID)
	assert.ErrorIs(t, err, ErrEndOfList)
	assert.Equal(t, []int64{ids[0], ids[1], ids[3], ids[4]}, got)

	// The exhausted list is gone.
	_, err = p.Next(ctx, listID)
	assert.ErrorIs(t, err, ErrListNotFound)
	assert.Equal(t, 0, p.Len())
}

func TestPager_ReverseOrder(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s, received("555", 10), received("555", 20), received("555", 30))

	listID, first, err := p.CreateList(ctx, store.Filter{Reverse: true})
	require.NoError(t, err)
	assert.Equal(t, ids[2], first.ID)

	msg, err := p.Next(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, ids[1], msg.ID)

	msg, err = p.Next(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], msg.ID)
}

func TestPager_SingleMatch(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s, received("555", 10))

	listID, first, err := p.CreateList(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, ids[0], first.ID)

	_, err = p.Next(ctx, listID)
	assert.ErrorIs(t, err, ErrEndOfList)
}

func TestPager_NoMessages(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	seed(t, s, received("555", 10))

	_, _, err := p.CreateList(ctx, store.Filter{Delivery: store.DeliverySent})
	assert.ErrorIs(t, err, ErrNoMessages)
	assert.Equal(t, 0, p.Len(), "no list created for an empty result")
}

func TestPager_InvalidFilter(t *testing.T) {
	p, _ := setupTestPager(t)

	_, _, err := p.CreateList(context.Background(), store.Filter{Delivery: "bounced"})
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
}

func TestPager_StaleKeyIsPerCall(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s, received("555", 10), received("555", 20), received("555", 30))

	listID, _, err := p.CreateList(ctx, store.Filter{})
	require.NoError(t, err)

	existed, err := s.Delete(ctx, ids[1])
	require.NoError(t, err)
	require.True(t, existed)

	_, err = p.Next(ctx, listID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, ErrListNotFound)

	msg, err := p.Next(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, ids[2], msg.ID)
}

func TestPager_SeesReadFlagChanges(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s, received("555", 10), received("555", 20))

	listID, _, err := p.CreateList(ctx, store.Filter{})
	require.NoError(t, err)

	_, err = s.SetRead(ctx, ids[1], true)
	require.NoError(t, err)

	msg, err := p.Next(ctx, listID)
	require.NoError(t, err)
	assert.True(t, msg.Read)
}

func TestPager_Discard(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	seed(t, s, received("555", 10), received("555", 20))

	listID, _, err := p.CreateList(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Discard(listID))
	assert.False(t, p.Discard(listID))

	_, err = p.Next(ctx, listID)
	assert.ErrorIs(t, err, ErrListNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPager_UnknownList(t *testing.T) {
	p, _ := setupTestPager(t)

	_, err := p.Next(context.Background(), ListID(12345))
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestPager_ListsAreIndependent(t *testing.T) {
	p, s := setupTestPager(t)
	ctx := context.Background()

	ids := seed(t, s, received("555", 10), received("556", 20), received("555", 30))

	all, _, err := p.CreateList(ctx, store.Filter{})
	require.NoError(t, err)
	only556, first, err := p.CreateList(ctx, store.Filter{Numbers: []string{"556"}})
	require.NoError(t, err)
	assert.NotEqual(t, all, only556)
	assert.Equal(t, ids[1], first.ID)

	_, err = p.Next(ctx, only556)
	assert.ErrorIs(t, err, ErrEndOfList)

	msg, err := p.Next(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, ids[1], msg.ID)
}
