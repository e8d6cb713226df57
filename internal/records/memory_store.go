package records

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	items   map[int64]Record
	nowFunc func() time.Time
}

// NewMemoryStore returns a store that lives for the lifetime of the process.
func NewMemoryStore() Store {
	return &memoryStore{
		nextID:  1,
		items:   map[int64]Record{},
		nowFunc: time.Now,
	}
}

func (s *memoryStore) Add(_ context.Context, draft Draft) (Record, error) {
	rec, err := newRecord(draft, s.nowFunc())
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.items[rec.ID] = rec
	return rec, nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	return rec, nil
}

func (s *memoryStore) GetAll(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.items))
	for _, rec := range s.items {
		out = append(out, rec)
	}
	sortByID(out)
	return out, nil
}

func (s *memoryStore) ListByDate(_ context.Context, date string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Record{}
	for _, rec := range s.items {
		if rec.Date == date {
			out = append(out, rec)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *memoryStore) SchemaVersion() int {
	return CurrentSchemaVersion
}

func (s *memoryStore) Close() error {
	return nil
}
