package cachetier

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
}

func NewMemoryStorage() Storage {
	return &memoryStorage{caches: map[string]*memoryCache{}}
}

func (s *memoryStorage) Open(_ context.Context, name string) (Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: map[string]Snapshot{}}
		s.caches[name] = c
	}
	return c, nil
}

func (s *memoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

func (s *memoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]Snapshot
}

func (c *memoryCache) Match(_ context.Context, key string) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[key]
	return snap, ok, nil
}

func (c *memoryCache) Put(_ context.Context, key string, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap.Header = snap.Header.Clone()
	snap.Body = append([]byte(nil), snap.Body...)
	c.entries[key] = snap
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
