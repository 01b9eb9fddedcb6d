package cache

import (
	"context"
	"errors"
)

// ErrLocked is returned by a Locker when another process holds the scan lock.
var ErrLocked = errors.New("scan lock held by another process")

// Store persists snapshots. Load never fails: missing or corrupt state yields
// an empty snapshot and is logged. Save overwrites the whole snapshot.
type Store interface {
	Load(ctx context.Context) Snapshot
	Save(ctx context.Context, snap Snapshot) error
}

// Locker serialises scans across processes sharing a Store.
type Locker interface {
	// Lock returns ErrLocked when the lock is held elsewhere.
	Lock(ctx context.Context) (unlock func(), err error)
}

type lockedStore struct {
	Store
	Locker
}

// WithLock pairs a store with a cross-process lock, e.g. a FileStore with a FileLock.
func WithLock(store Store, locker Locker) Store {
	return lockedStore{Store: store, Locker: locker}
}
