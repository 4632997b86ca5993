package params

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/videonode/internal/config"
)

// Store holds the live latency preset table and keeps it current via the
// generic config.Watcher when a config path is supplied, exactly as
// internal/config/watcher.go already hot-reloads other config domains.
type Store struct {
	table   atomic.Pointer[Table]
	watcher *config.Watcher[Table]
	mu      sync.Mutex
}

// NewStore loads the latency table once from path (empty path uses
// DefaultTable) and, if path is non-empty, starts watching it for changes.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	table, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.table.Store(&table)

	if path != "" {
		s.watcher = config.NewConfigWatcher(path, LoadTable, logger)
		s.watcher.OnReload(func(t Table) {
			s.table.Store(&t)
			logger.Info("latency presets reloaded", "path", path)
		})
		if err := s.watcher.Start(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Table returns the current live preset table.
func (s *Store) Table() Table {
	return *s.table.Load()
}

// Close stops the underlying watcher, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Stop()
	}
	return nil
}
