package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/repo"
)

var _ repo.KV = (*KV)(nil)

// KV is a flat string map persisted as JSON. Values are cached after the
// first read; every Set rewrites the whole file.
type KV struct {
	path string
	log  *zap.Logger

	mu     sync.Mutex
	loaded bool
	values map[string]string
}

func NewKV(path string, log *zap.Logger) *KV {
	if log == nil {
		log = zap.NewNop()
	}
	return &KV{path: path, log: log}
}

func (k *KV) Get(ctx context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loadLocked()
	return k.values[key], nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loadLocked()
	k.values[key] = value

	b, err := json.MarshalIndent(k.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	if err := writeAtomic(k.path, b); err != nil {
		return fmt.Errorf("save values: %w", err)
	}
	return nil
}

func (k *KV) loadLocked() {
	if k.loaded {
		return
	}
	k.loaded = true
	k.values = map[string]string{}

	data, err := os.ReadFile(k.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			k.log.Warn("kv_read_error", zap.String("path", k.path), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, &k.values); err != nil {
		k.log.Warn("kv_parse_error", zap.String("path", k.path), zap.Error(err))
		k.values = map[string]string{}
	}
}
