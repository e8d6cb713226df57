package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileStore keeps every record in a single JSON document. Each operation takes
// an advisory lock on a sibling ".lock" file and re-reads the document, so two
// processes sharing the path observe each other's writes.
type fileStore struct {
	path    string
	mu      sync.Mutex
	state   fileStoreState
	nowFunc func() time.Time
}

type fileStoreState struct {
	Version int      `json:"version"`
	NextID  int64    `json:"nextId"`
	Records []Record `json:"records"`
}

func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &fileStore{
		path:    path,
		nowFunc: time.Now,
	}
	err := s.withLock(func() error {
		if s.state.Version >= CurrentSchemaVersion {
			return nil
		}
		s.state.Version = CurrentSchemaVersion
		return s.saveLocked()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Add(_ context.Context, draft Draft) (Record, error) {
	rec, err := newRecord(draft, s.nowFunc())
	if err != nil {
		return Record{}, err
	}
	err = s.withLock(func() error {
		rec.ID = s.state.NextID
		s.state.NextID++
		s.state.Records = append(s.state.Records, rec)
		if err := s.saveLocked(); err != nil {
			s.state.Records = s.state.Records[:len(s.state.Records)-1]
			s.state.NextID--
			return err
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *fileStore) Get(_ context.Context, id int64) (Record, error) {
	var found Record
	err := s.withLock(func() error {
		for _, rec := range s.state.Records {
			if rec.ID == id {
				found = rec
				return nil
			}
		}
		return fmt.Errorf("%w: record %d", ErrNotFound, id)
	})
	return found, err
}

func (s *fileStore) GetAll(_ context.Context) ([]Record, error) {
	var out []Record
	err := s.withLock(func() error {
		out = append([]Record{}, s.state.Records...)
		return nil
	})
	sortByID(out)
	return out, err
}

func (s *fileStore) ListByDate(_ context.Context, date string) ([]Record, error) {
	out := []Record{}
	err := s.withLock(func() error {
		for _, rec := range s.state.Records {
			if rec.Date == date {
				out = append(out, rec)
			}
		}
		return nil
	})
	sortByID(out)
	return out, err
}

func (s *fileStore) Delete(_ context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	return s.withLock(func() error {
		kept := s.state.Records[:0:0]
		for _, rec := range s.state.Records {
			if rec.ID != id {
				kept = append(kept, rec)
			}
		}
		if len(kept) == len(s.state.Records) {
			return nil
		}
		s.state.Records = kept
		return s.saveLocked()
	})
}

func (s *fileStore) Count(_ context.Context) (int, error) {
	n := 0
	err := s.withLock(func() error {
		n = len(s.state.Records)
		return nil
	})
	return n, err
}

func (s *fileStore) SchemaVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock record file: %w", err)
	}
	defer unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	return fn()
}

func (s *fileStore) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state = fileStoreState{NextID: 1}
			return nil
		}
		return err
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode record file %s: %w", s.path, err)
	}
	if snapshot.NextID < 1 {
		snapshot.NextID = 1
	}
	for _, rec := range snapshot.Records {
		if rec.ID >= snapshot.NextID {
			snapshot.NextID = rec.ID + 1
		}
	}
	s.state = snapshot
	return nil
}

func (s *fileStore) saveLocked() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
