package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and by deployments that run
// without an external store configured.
type Memory struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	lists  map[string][]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) ListPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *Memory) ListPop(_ context.Context, key string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return nil, nil
	}
	if count > len(l) {
		count = len(l)
	}
	out := make([]string, count)
	copy(out, l[:count])
	m.lists[key] = l[count:]
	return out, nil
}

func (m *Memory) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.lists[key])), nil
}
