package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// KVConfig limits what scripts may store. Zero means unlimited.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   256,
		MaxValueSize: 64 * 1024,
		MaxEntries:   1000,
	}
}

// KVOption adjusts a KVConfig.
type KVOption func(*KVConfig)

func WithMaxKeySize(n int) KVOption {
	return func(c *KVConfig) { c.MaxKeySize = n }
}

func WithMaxValueSize(n int) KVOption {
	return func(c *KVConfig) { c.MaxValueSize = n }
}

func WithMaxEntries(n int) KVOption {
	return func(c *KVConfig) { c.MaxEntries = n }
}

// KVStore is an in-memory key-value store exposed as kv_get, kv_set,
// kv_delete and kv_keys.
type KVStore struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig, opts ...KVOption) *KVStore {
	for _, opt := range opts {
		opt(&cfg)
	}
	return &KVStore{cfg: cfg, data: make(map[string]any)}
}

// Register adds the kv_* functions to registry.
func (s *KVStore) Register(registry *Registry) {
	registry.Register("kv_get", s.Get)
	registry.Register("kv_set", s.Set)
	registry.Register("kv_delete", s.Delete)
	registry.Register("kv_keys", s.Keys)
}

func (s *KVStore) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

func (s *KVStore) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}

	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds %d bytes", s.cfg.MaxKeySize)
	}
	if s.cfg.MaxValueSize > 0 {
		size, err := valueSize(val)
		if err != nil {
			return nil, err
		}
		if size > s.cfg.MaxValueSize {
			return nil, fmt.Errorf("value exceeds %d bytes", s.cfg.MaxValueSize)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("store full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

func (s *KVStore) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

func (s *KVStore) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := lo.Keys(s.data)
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func valueSize(v any) (int, error) {
	if s, ok := v.(string); ok {
		return len(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("value not storable: %w", err)
	}
	return len(data), nil
}
