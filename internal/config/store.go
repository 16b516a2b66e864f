package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"modelgate/internal/logging"
)

// Source is the read-only view of provider configuration the engine consumes:
// a snapshot of the current provider list plus change notifications.
type Source interface {
	// Providers returns the current provider snapshot. Callers keep using
	// the slice they received even across reloads; it is never mutated.
	Providers() []Provider

	// Subscribe returns a channel that receives one value per successful
	// reload. The channel is buffered; slow consumers coalesce events.
	Subscribe() <-chan struct{}
}

// FileStore is the JSON-file-backed Source implementation.
type FileStore struct {
	path string

	mu        sync.RWMutex
	providers []Provider
	subs      []chan struct{}
}

// NewFileStore loads the configuration document at path and returns a store
// serving it. The load must succeed; a gateway with no valid config at boot
// has nothing to route to.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticSource returns a Source over a fixed provider list. Used in tests
// and by embedders that manage configuration themselves.
func NewStaticSource(providers []Provider) *FileStore {
	return &FileStore{providers: providers}
}

// Providers returns the current snapshot.
func (s *FileStore) Providers() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers
}

// Subscribe registers a reload listener.
func (s *FileStore) Subscribe() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	s.subs = append(s.subs, ch)
	return ch
}

// Reload re-reads and validates the configuration file, swaps the snapshot,
// and notifies subscribers. On any error the previous snapshot stays active.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", s.path, err)
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.providers = doc.Providers
	subs := make([]chan struct{}, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	logging.L().Info("configuration loaded",
		zap.String("path", s.path),
		zap.Int("providers", len(doc.Providers)))

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default: // subscriber already has a pending event
		}
	}
	return nil
}

// Replace swaps the provider snapshot directly and notifies subscribers.
// Used by tests and embedders; the file (if any) is not touched.
func (s *FileStore) Replace(providers []Provider) {
	s.mu.Lock()
	s.providers = providers
	subs := make([]chan struct{}, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
