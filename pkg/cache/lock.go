package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLockTTL is how old a lock file must be before it is considered abandoned.
const DefaultLockTTL = 15 * time.Minute

// FileLock is a lock file created with O_EXCL. A lock whose file has not been
// touched for TTL is stale and taken over; the holder refreshes it while alive.
type FileLock struct {
	Path string
	TTL  time.Duration
}

var _ Locker = (*FileLock)(nil)

// Lock creates the lock file or returns ErrLocked.
func (l *FileLock) Lock(ctx context.Context) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			_ = f.Close()
			return l.hold(ttl), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		fi, err := os.Stat(l.Path)
		if err != nil {
			// released between the open and the stat
			if attempt < 3 {
				continue
			}
			return nil, fmt.Errorf("stat lock file: %w", err)
		}
		if time.Since(fi.ModTime()) >= ttl && attempt < 3 && l.takeOver(fi, ttl) {
			continue
		}
		return nil, ErrLocked
	}
}

// takeOver moves the lock file aside and removes it only if it is still the
// stale file seen as stale. A fresh lock moved by mistake is linked back.
func (l *FileLock) takeOver(stale fs.FileInfo, ttl time.Duration) bool {
	aside := fmt.Sprintf("%s.%d.%d", l.Path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(l.Path, aside); err != nil {
		// already released or taken over; retry the create
		return errors.Is(err, fs.ErrNotExist)
	}
	fi, err := os.Stat(aside)
	if err == nil && os.SameFile(stale, fi) && time.Since(fi.ModTime()) >= ttl {
		_ = os.Remove(aside)
		return true
	}
	_ = os.Link(aside, l.Path)
	_ = os.Remove(aside)
	return false
}

// hold keeps the lock file fresh until the returned unlock is called.
func (l *FileLock) hold(ttl time.Duration) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				now := time.Now()
				_ = os.Chtimes(l.Path, now, now)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = os.Remove(l.Path)
		})
	}
}
