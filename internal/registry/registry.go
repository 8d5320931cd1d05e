// Package registry mediates user edits of custom endpoints and the store.
//
// Every mutation reloads the store right before writing, applies the single
// edit to the fresh copy and saves. This is a best-effort optimistic merge:
// it bounds lost updates to the edit in hand but is not a transaction, and a
// second process writing between reload and save can still be overwritten.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/repo"
)

var ErrNotFound = errors.New("endpoint not found")

type Registry struct {
	store repo.EndpointStore
	now   func() time.Time

	mu  sync.Mutex
	seq uint64
}

func New(store repo.EndpointStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock overrides the time source used for ids and last_ping.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) List(ctx context.Context) ([]domain.Endpoint, error) {
	return r.store.Load(ctx)
}

func (r *Registry) Get(ctx context.Context, id domain.EndpointID) (domain.Endpoint, error) {
	nodes, err := r.store.Load(ctx)
	if err != nil {
		return domain.Endpoint{}, err
	}
	n, ok := repo.GetByID(nodes, id)
	if !ok {
		return domain.Endpoint{}, ErrNotFound
	}
	return n, nil
}

// Add creates a new offline, never-pinged endpoint and persists it.
func (r *Registry) Add(ctx context.Context, name, url string) (domain.Endpoint, error) {
	nodes, err := r.store.Load(ctx)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("reload endpoints: %w", err)
	}
	n := domain.Endpoint{
		ID:   r.newID(nodes),
		Name: name,
		URL:  url,
	}
	if err := r.store.Save(ctx, repo.Upsert(nodes, n)); err != nil {
		return n, err
	}
	return n, nil
}

func (r *Registry) Rename(ctx context.Context, id domain.EndpointID, name string) (domain.Endpoint, error) {
	return r.mutate(ctx, id, func(n *domain.Endpoint) { n.Name = name })
}

func (r *Registry) Retarget(ctx context.Context, id domain.EndpointID, url string) (domain.Endpoint, error) {
	return r.mutate(ctx, id, func(n *domain.Endpoint) { n.URL = url })
}

// RecordResult stores a probe result. On success last_ping is stamped. An id
// that has since been removed is ignored.
func (r *Registry) RecordResult(ctx context.Context, id domain.EndpointID, online bool, at time.Time) (domain.Endpoint, error) {
	n, err := r.mutate(ctx, id, func(n *domain.Endpoint) {
		n.Online = online
		if online {
			n.LastPing = domain.Timestamp(at)
		}
	})
	if errors.Is(err, ErrNotFound) {
		return n, nil
	}
	return n, err
}

func (r *Registry) Remove(ctx context.Context, id domain.EndpointID) error {
	nodes, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload endpoints: %w", err)
	}
	return r.store.Save(ctx, repo.RemoveByID(nodes, id))
}

func (r *Registry) mutate(ctx context.Context, id domain.EndpointID, edit func(*domain.Endpoint)) (domain.Endpoint, error) {
	nodes, err := r.store.Load(ctx)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("reload endpoints: %w", err)
	}
	n, ok := repo.GetByID(nodes, id)
	if !ok {
		return domain.Endpoint{}, ErrNotFound
	}
	edit(&n)
	n.ID = id
	if err := r.store.Save(ctx, repo.Upsert(nodes, n)); err != nil {
		return n, err
	}
	return n, nil
}

// newID draws status_<unix>_<seq>, skipping any value already in nodes.
func (r *Registry) newID(nodes []domain.Endpoint) domain.EndpointID {
	r.mu.Lock()
	defer r.mu.Unlock()
	sec := r.now().Unix()
	for {
		r.seq++
		id := domain.EndpointID(fmt.Sprintf("status_%d_%d", sec, r.seq))
		if _, taken := repo.GetByID(nodes, id); !taken {
			return id
		}
	}
}
