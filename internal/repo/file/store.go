package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/domain"
	"github.com/hamed0406/servicestatus/internal/repo"
)

var _ repo.EndpointStore = (*Store)(nil)

// Store keeps custom endpoints in a single JSON document on local disk.
// It is meant to be driven from one goroutine; it holds no lock.
type Store struct {
	path string
	log  *zap.Logger
}

func New(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads the document. A missing, unreadable or malformed file yields an
// empty list and a nil error.
func (s *Store) Load(ctx context.Context) ([]domain.Endpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("store_read_error", zap.String("path", s.path), zap.Error(err))
		}
		return []domain.Endpoint{}, nil
	}
	if len(data) == 0 {
		return []domain.Endpoint{}, nil
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("store_parse_error", zap.String("path", s.path), zap.Error(err))
		return []domain.Endpoint{}, nil
	}
	return repo.Sanitize(doc.Nodes), nil
}

// Save replaces the document in full. all_online is always recomputed here.
func (s *Store) Save(ctx context.Context, nodes []domain.Endpoint) error {
	if nodes == nil {
		nodes = []domain.Endpoint{}
	}
	doc := domain.Document{Nodes: nodes, AllOnline: repo.AllOnline(nodes)}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return fmt.Errorf("save endpoints: %w", err)
	}
	return nil
}

// writeAtomic writes to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
