// ABOUTME: Key allocator handing out strictly increasing message ids
// ABOUTME: Seeded at open from the persisted high-water mark so ids never repeat across restarts

package store

import (
	"context"
	"sync/atomic"
)

// KeyAllocator assigns message ids. Next is safe for concurrent use and
// never returns the same value twice.
type KeyAllocator struct {
	last atomic.Int64
}

func newKeyAllocator(last int64) *KeyAllocator {
	k := &KeyAllocator{}
	k.last.Store(last)
	return k
}

// Next reserves and returns the next id.
func (k *KeyAllocator) Next() int64 {
	return k.last.Add(1)
}

// Last returns the most recently reserved id.
func (k *KeyAllocator) Last() int64 {
	return k.last.Load()
}

// recoverLastKey reads the highest key ever assigned: the larger of the
// highest stored key and the persisted mark, so deleting the newest message
// does not free its id.
func (s *Store) recoverLastKey(ctx context.Context) (int64, error) {
	var last int64
	err := s.View(ctx, func(tx Tx) error {
		var err error
		last, err = tx.LastKey(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if last == 0 {
		s.logger.Debug("no stored messages, starting keys at 1")
	} else {
		s.logger.Debug("recovered last message key", "last_key", last)
	}
	return last, nil
}
