// Package cache persists what a scan learned: the active ID set and the data
// cache of deposit snapshots. Missing or unreadable state is a cold start.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

// Snapshot is the persisted state of the last completed scan.
type Snapshot struct {
	ActiveIDs []deposits.ID
	Entries   map[deposits.ID]deposits.Deposit
}

// Empty returns a snapshot with empty, non-nil collections.
func Empty() Snapshot {
	return Snapshot{
		ActiveIDs: []deposits.ID{},
		Entries:   map[deposits.ID]deposits.Deposit{},
	}
}

// Lookup returns the entry for id only while it is fresh; an expired entry is absent.
func (s Snapshot) Lookup(id deposits.ID, now time.Time, ttl time.Duration) (deposits.Deposit, bool) {
	d, ok := s.Entries[id]
	if !ok || !d.Fresh(now, ttl) {
		return deposits.Deposit{}, false
	}
	return d, true
}

// Prune drops expired entries and everything at or above count, and returns how
// many entries were removed.
func (s *Snapshot) Prune(now time.Time, ttl time.Duration, count uint64) int {
	removed := 0
	for id, d := range s.Entries {
		if uint64(id) >= count || !d.Fresh(now, ttl) {
			delete(s.Entries, id)
			removed++
		}
	}
	kept := s.ActiveIDs[:0]
	for _, id := range s.ActiveIDs {
		if uint64(id) < count {
			kept = append(kept, id)
		}
	}
	s.ActiveIDs = kept
	return removed
}

func encodeActive(ids []deposits.ID) ([]byte, error) {
	if ids == nil {
		ids = []deposits.ID{}
	}
	return json.MarshalIndent(ids, "", "  ")
}

func decodeActive(bz []byte) ([]deposits.ID, error) {
	var ids []deposits.ID
	if err := json.Unmarshal(bz, &ids); err != nil {
		return nil, fmt.Errorf("%w: active ids: %v", deposits.ErrCorruptCache, err)
	}
	return deposits.SortIDs(ids), nil
}

func encodeEntries(entries map[deposits.ID]deposits.Deposit) ([]byte, error) {
	if entries == nil {
		entries = map[deposits.ID]deposits.Deposit{}
	}
	return json.Marshal(entries)
}

func decodeEntries(bz []byte) (map[deposits.ID]deposits.Deposit, error) {
	var entries map[deposits.ID]deposits.Deposit
	if err := json.Unmarshal(bz, &entries); err != nil {
		return nil, fmt.Errorf("%w: deposit cache: %v", deposits.ErrCorruptCache, err)
	}
	if entries == nil {
		entries = map[deposits.ID]deposits.Deposit{}
	}
	// the key is authoritative
	for id, d := range entries {
		if d.ID != id {
			d.ID = id
			entries[id] = d
		}
	}
	return entries, nil
}
