// Package persistence holds the durable state of the engine: the
// crash-recovery position store, the append-only PnL ledger, and the
// funding-rate history archive.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"funding_arb/internal/core"
)

// PositionStore persists the open-position map for crash recovery. Every
// write replaces the whole file via an atomic rename so a torn record can
// never be observed.
type PositionStore struct {
	path   string
	logger core.ILogger
}

// NewPositionStore creates a store backed by the given file path
func NewPositionStore(path string, logger core.ILogger) *PositionStore {
	return &PositionStore{
		path:   path,
		logger: logger.WithField("component", "position_store"),
	}
}

// Save writes the full position map to disk
func (s *PositionStore) Save(positions map[string]core.PositionRecord) error {
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}
	if err := atomicWrite(s.path, data); err != nil {
		return fmt.Errorf("failed to write position store: %w", err)
	}
	return nil
}

// Load restores the position map. A missing file yields an empty map; a
// corrupt file is treated as empty and logged as a critical event so the
// operator can investigate.
func (s *PositionStore) Load() map[string]core.PositionRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Position store unreadable, starting empty", "path", s.path, "error", err)
		}
		return map[string]core.PositionRecord{}
	}

	var positions map[string]core.PositionRecord
	if err := json.Unmarshal(data, &positions); err != nil {
		s.logger.Error("Position store corrupt, starting empty", "path", s.path, "error", err)
		return map[string]core.PositionRecord{}
	}
	if positions == nil {
		positions = map[string]core.PositionRecord{}
	}
	return positions
}

// Clear removes the persisted file
func (s *PositionStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes data to a sibling temp file and renames it over the
// target, so readers observe either the old or the new contents.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
