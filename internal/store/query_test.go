// ABOUTME: Tests for filter resolution over the timestamp and secondary indexes
// ABOUTME: Checks results against a brute-force filter over random messages

package store

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, s *Store, f Filter) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	err := s.View(ctx, func(tx Tx) error {
		var err error
		ids, err = Resolve(ctx, tx, f)
		return err
	})
	require.NoError(t, err)
	return ids
}

func TestResolve_DeliveryAndNumberScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		saveTestMessage(t, s, Message{Delivery: DeliverySent, Sender: "100", Receiver: "200", Timestamp: ms(10)})
		second := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "200", Receiver: "100", Timestamp: ms(20)})
		third := saveTestMessage(t, s, Message{Delivery: DeliverySent, Sender: "555", Receiver: "300", Timestamp: ms(30)})

		assert.Equal(t, []int64{second}, resolve(t, s, Filter{Delivery: DeliveryReceived}))
		assert.Equal(t, []int64{third}, resolve(t, s, Filter{Numbers: []string{"555"}}))
	})
}

func TestResolve_EmptyFilterReturnsAllInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		late := saveTestMessage(t, s, Message{Delivery: DeliverySent, Timestamp: ms(30)})
		early := saveTestMessage(t, s, Message{Delivery: DeliverySent, Timestamp: ms(10)})
		tieA := saveTestMessage(t, s, Message{Delivery: DeliverySent, Timestamp: ms(20)})
		tieB := saveTestMessage(t, s, Message{Delivery: DeliverySent, Timestamp: ms(20)})

		assert.Equal(t, []int64{early, tieA, tieB, late}, resolve(t, s, Filter{}))
		assert.Equal(t, []int64{late, tieB, tieA, early}, resolve(t, s, Filter{Reverse: true}))
	})
}

func TestResolve_DateBoundsAreInclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		var ids []int64
		for _, ts := range []int64{10, 20, 20, 30, 40} {
			ids = append(ids, saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Timestamp: ms(ts)}))
		}

		f := Filter{StartDate: timePtr(ms(20)), EndDate: timePtr(ms(30))}
		assert.Equal(t, []int64{ids[1], ids[2], ids[3]}, resolve(t, s, f))

		f.Reverse = true
		assert.Equal(t, []int64{ids[3], ids[2], ids[1]}, resolve(t, s, f))

		assert.Equal(t, []int64{ids[4], ids[3]}, resolve(t, s, Filter{StartDate: timePtr(ms(30)), Reverse: true}))
		assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, resolve(t, s, Filter{EndDate: timePtr(ms(25)), Reverse: true}))
		assert.Empty(t, resolve(t, s, Filter{StartDate: timePtr(ms(41))}))
		assert.Empty(t, resolve(t, s, Filter{EndDate: timePtr(ms(9)), Reverse: true}))
	})
}

func TestResolve_NumbersMatchSenderOrReceiver(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)

		fromA := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "A", Receiver: "me", Timestamp: ms(1)})
		saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Sender: "B", Receiver: "me", Timestamp: ms(2)})
		toA := saveTestMessage(t, s, Message{Delivery: DeliverySent, Sender: "me", Receiver: "A", Timestamp: ms(3)})
		toC := saveTestMessage(t, s, Message{Delivery: DeliverySent, Sender: "me", Receiver: "C", Timestamp: ms(4)})

		assert.Equal(t, []int64{fromA, toA}, resolve(t, s, Filter{Numbers: []string{"A"}}))
		assert.Equal(t, []int64{toC, toA, fromA}, resolve(t, s, Filter{Numbers: []string{"A", "C"}, Reverse: true}))

		// A number that is a prefix of another must not match it.
		assert.Empty(t, resolve(t, s, Filter{Numbers: []string{"m"}}))
	})
}

func TestResolve_InvalidFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		ctx := context.Background()

		err := s.View(ctx, func(tx Tx) error {
			_, err := Resolve(ctx, tx, Filter{Delivery: "bounced"})
			return err
		})
		assert.ErrorIs(t, err, ErrInvalidFilter)
	})
}

// matches is the brute-force definition of a filter match.
func matches(m Message, f Filter) bool {
	ts := m.Timestamp.UnixMilli()
	if f.StartDate != nil && ts < f.StartDate.UnixMilli() {
		return false
	}
	if f.EndDate != nil && ts > f.EndDate.UnixMilli() {
		return false
	}
	if f.Delivery != "" && m.Delivery != f.Delivery {
		return false
	}
	if len(f.Numbers) > 0 && !slices.Contains(f.Numbers, m.Sender) && !slices.Contains(f.Numbers, m.Receiver) {
		return false
	}
	if f.Read != nil && m.Read != *f.Read {
		return false
	}
	return true
}

func bruteForce(all []Message, f Filter) []int64 {
	var hits []Message
	for _, m := range all {
		if matches(m, f) {
			hits = append(hits, m)
		}
	}
	slices.SortFunc(hits, func(a, b Message) int {
		ta, tb := a.Timestamp.UnixMilli(), b.Timestamp.UnixMilli()
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	ids := make([]int64, 0, len(hits))
	for _, m := range hits {
		ids = append(ids, m.ID)
	}
	if f.Reverse {
		slices.Reverse(ids)
	}
	return ids
}

func TestResolve_MatchesBruteForce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		rng := rand.New(rand.NewPCG(1, 2))
		numbers := []string{"100", "200", "300", "555", "+15550100"}
		pick := func() string { return numbers[rng.IntN(len(numbers))] }

		// Timestamps straddle zero so negative values are ordered too.
		var all []Message
		for range 80 {
			msg := Message{
				Delivery:  DeliverySent,
				Sender:    pick(),
				Receiver:  pick(),
				Body:      "x",
				Timestamp: ms(int64(rng.IntN(60) - 20)),
				Read:      rng.IntN(2) == 0,
			}
			if rng.IntN(2) == 0 {
				msg.Delivery = DeliveryReceived
			}
			id := saveTestMessage(t, s, msg)
			msg.ID = id
			all = append(all, msg)
		}

		for i := range 200 {
			var f Filter
			if rng.IntN(2) == 0 {
				f.StartDate = timePtr(ms(int64(rng.IntN(60) - 25)))
			}
			if rng.IntN(2) == 0 {
				end := ms(int64(rng.IntN(60) - 15))
				if f.StartDate != nil && end.Before(*f.StartDate) {
					end = *f.StartDate
				}
				f.EndDate = &end
			}
			switch rng.IntN(3) {
			case 1:
				f.Delivery = DeliverySent
			case 2:
				f.Delivery = DeliveryReceived
			}
			for range rng.IntN(3) {
				f.Numbers = append(f.Numbers, pick())
			}
			if rng.IntN(3) > 0 {
				f.Read = boolPtr(rng.IntN(2) == 0)
			}
			f.Reverse = rng.IntN(2) == 0

			want := bruteForce(all, f)
			got := resolve(t, s, f)
			require.Equal(t, want, got, "filter #%d: %+v", i, f)

			// Filtering never reorders the time-only base scan.
			base := resolve(t, s, Filter{StartDate: f.StartDate, EndDate: f.EndDate, Reverse: f.Reverse})
			assert.True(t, isSubsequence(got, base), "filter #%d reordered the base scan", i)
		}
	})
}

func isSubsequence(sub, seq []int64) bool {
	j := 0
	for _, id := range seq {
		if j < len(sub) && sub[j] == id {
			j++
		}
	}
	return j == len(sub)
}

func TestResolve_TimestampUsesMilliseconds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		s := setupTestStore(t, backend)
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		id := saveTestMessage(t, s, Message{Delivery: DeliveryReceived, Timestamp: at})

		// A bound with sub-millisecond noise still includes the record.
		start := at.Add(500 * time.Microsecond)
		assert.Equal(t, []int64{id}, resolve(t, s, Filter{StartDate: &start}))
	})
}
