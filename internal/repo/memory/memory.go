package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/repo"
)

var _ repo.EndpointStore = (*Store)(nil)
var _ repo.KV = (*Store)(nil)

// Store is an in-process EndpointStore and KV for hosts without a data
// directory. Load and Save copy so callers never share the backing slice.
type Store struct {
	mu     sync.RWMutex
	nodes  []domain.Endpoint
	values map[string]string
	saves  int
}

func New() *Store {
	return &Store{
		nodes:  make([]domain.Endpoint, 0, 8),
		values: make(map[string]string),
	}
}

func (m *Store) Load(ctx context.Context) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, len(m.nodes))
	copy(out, m.nodes)
	return out, nil
}

func (m *Store) Save(ctx context.Context, nodes []domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = repo.Sanitize(nodes)
	m.saves++
	return nil
}

// AllOnline reports the derived flag as it would be written to disk.
func (m *Store) AllOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return repo.AllOnline(m.nodes)
}

// Saves counts Save calls.
func (m *Store) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Store) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *Store) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
