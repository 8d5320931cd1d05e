package repo

import (
	"context"

	"github.com/hamed0406/servicestatus/internal/domain"
)

// EndpointStore persists the whole custom endpoint list at once.
// Load never fails on a missing or malformed document; it yields an empty list.
type EndpointStore interface {
	Load(ctx context.Context) ([]domain.Endpoint, error)
	Save(ctx context.Context, nodes []domain.Endpoint) error
}

// KV stores simple string values such as last-success timestamps.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
