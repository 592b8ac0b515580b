package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// Memory keeps objects in process memory. Buckets are created on first write.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "memory.put", bucket+"/"+key, err)
	}
	if bucket == "" {
		return xerrors.E(xerrors.KindInvalid, "memory.put", "bucket")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored object.
func (m *Memory) Get(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists the keys stored in bucket in lexical order.
func (m *Memory) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
