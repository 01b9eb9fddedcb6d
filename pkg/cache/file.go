package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore keeps the active IDs and the data cache in two JSON files.
type FileStore struct {
	activePath string
	dataPath   string
	logger     *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store writing to activePath and dataPath.
func NewFileStore(activePath, dataPath string, logger *zap.Logger) *FileStore {
	return &FileStore{activePath: activePath, dataPath: dataPath, logger: logger}
}

// Load reads both files; each one falls back to empty on its own.
func (s *FileStore) Load(_ context.Context) Snapshot {
	snap := Empty()

	if bz, ok := s.read(s.activePath); ok {
		ids, err := decodeActive(bz)
		if err != nil {
			s.logger.Warn("Active id cache unreadable, starting empty", zap.String("path", s.activePath), zap.Error(err))
		} else {
			snap.ActiveIDs = ids
		}
	}

	if bz, ok := s.read(s.dataPath); ok {
		entries, err := decodeEntries(bz)
		if err != nil {
			s.logger.Warn("Deposit cache unreadable, starting empty", zap.String("path", s.dataPath), zap.Error(err))
		} else {
			snap.Entries = entries
		}
	}

	return snap
}

func (s *FileStore) read(path string) ([]byte, bool) {
	bz, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("No cache file, cold start", zap.String("path", path))
		return nil, false
	}
	if err != nil {
		s.logger.Warn("Cache file unreadable, starting empty", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return bz, true
}

// Save writes both files through a temp file and rename.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	active, err := encodeActive(snap.ActiveIDs)
	if err != nil {
		return fmt.Errorf("encode active ids: %w", err)
	}
	entries, err := encodeEntries(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode deposit cache: %w", err)
	}
	if err := writeAtomic(s.dataPath, entries); err != nil {
		return err
	}
	return writeAtomic(s.activePath, active)
}

func writeAtomic(path string, bz []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(bz); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
