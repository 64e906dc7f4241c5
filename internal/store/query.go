// ABOUTME: Query engine: resolves a Filter to an ordered list of message ids inside one transaction
// ABOUTME: The timestamp range scan gives the order; each requested dimension narrows it

package store

import (
	"context"
	"fmt"
)

// Resolve returns the ids of every message matching f, ordered by
// (timestamp, id) ascending, or descending when f.Reverse is set.
//
// The timestamp index is always scanned for the base sequence. Each requested
// dimension is then applied in a fixed order: delivery, numbers, read. A
// dimension is requested when Delivery is non-empty, Numbers has entries or
// Read is non-nil. Numbers match on sender or receiver.
func Resolve(ctx context.Context, tx Tx, f Filter) ([]int64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	lower, upper := f.bounds()
	ids, err := tx.ScanTimestamp(ctx, lower, upper, f.Reverse)
	if err != nil {
		return nil, fmt.Errorf("scanning timestamp index: %w", err)
	}

	if f.Delivery != "" && len(ids) > 0 {
		matched, err := tx.ScanIndex(ctx, IndexDelivery, string(f.Delivery))
		if err != nil {
			return nil, fmt.Errorf("scanning delivery index: %w", err)
		}
		ids = intersect(ids, toSet(matched))
	}

	if len(f.Numbers) > 0 && len(ids) > 0 {
		matched := make(map[int64]struct{})
		for _, number := range f.Numbers {
			for _, idx := range []Index{IndexSender, IndexReceiver} {
				found, err := tx.ScanIndex(ctx, idx, number)
				if err != nil {
					return nil, fmt.Errorf("scanning %s index: %w", idx, err)
				}
				for _, id := range found {
					matched[id] = struct{}{}
				}
			}
		}
		ids = intersect(ids, matched)
	}

	if f.Read != nil && len(ids) > 0 {
		matched, err := tx.ScanIndex(ctx, IndexRead, readFlag(*f.Read))
		if err != nil {
			return nil, fmt.Errorf("scanning read index: %w", err)
		}
		ids = intersect(ids, toSet(matched))
	}

	return ids, nil
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// intersect keeps the ids of base present in set, preserving base order.
func intersect(base []int64, set map[int64]struct{}) []int64 {
	out := base[:0]
	for _, id := range base {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
