package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

// Store is one execution context's projection of the library metadata. It is
// a disposable cache: the artifact store stays the source of truth, so a
// missing or unreadable file just means an empty projection.
type Store struct {
	mu          sync.RWMutex
	path        string
	entries     []domain.Metadata
	refreshedAt time.Time
}

type snapshot struct {
	RefreshedAt time.Time         `json:"refreshed_at"`
	Entries     []domain.Metadata `json:"entries"`
}

// NewStore opens the projection file for the named context inside dataDir.
func NewStore(dataDir, contextName string) (*Store, error) {
	if contextName == "" {
		return nil, fmt.Errorf("projection needs a context name")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create projection directory: %w", err)
	}

	store := &Store{
		path: filepath.Join(dataDir, "library-"+contextName+".json"),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn.Printf("discarding unreadable projection %s: %v", logger.SanitizeForLog(store.path), err)
		}
	}

	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.entries = snap.Entries
	s.refreshedAt = snap.RefreshedAt
	return nil
}

func (s *Store) save() error {
	tmpPath := s.path + ".tmp"

	data, err := json.MarshalIndent(snapshot{RefreshedAt: s.refreshedAt, Entries: s.entries}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// Replace swaps the whole projection for entries. The file is written to a
// temporary path and renamed, so a reader never sees a partial projection.
func (s *Store) Replace(entries []domain.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]domain.Metadata(nil), entries...)
	s.refreshedAt = time.Now().UTC()
	return s.save()
}

func (s *Store) Entries() ([]domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entries == nil {
		return nil, nil
	}
	return append([]domain.Metadata(nil), s.entries...), nil
}

// RefreshedAt is when the projection was last replaced, zero if never.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

func (s *Store) Path() string {
	return s.path
}

var _ port.ProjectionCache = (*Store)(nil)
