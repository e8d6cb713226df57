// Package records holds the durable store of pending activity records.
//
// Records are written by the capture form, drained by the sync orchestrator and
// deleted once the remote endpoint acknowledges them. There is no update
// operation: a record is immutable from the moment it is persisted.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrMissingID      = errors.New("record has no id")
	ErrNotImplemented = errors.New("not implemented")
)

// CurrentSchemaVersion is the newest schema version any backend migrates to.
// Versions only ever increase.
const CurrentSchemaVersion = 2

// Draft is the user input for a record before it is persisted.
type Draft struct {
	StudentName string `json:"studentName"`
	Activity    string `json:"activity"`
	Date        string `json:"date"`
	Hours       int    `json:"hours"`
}

// Record is a persisted unit of offline work. ID and CreatedAt are assigned by
// the store; Synced is derived and never stored.
type Record struct {
	ID          int64     `json:"id,omitempty"`
	StudentName string    `json:"studentName"`
	Activity    string    `json:"activity"`
	Date        string    `json:"date"`
	Hours       int       `json:"hours"`
	CreatedAt   time.Time `json:"createdAt"`
	Synced      bool      `json:"synced"`
}

// Persisted reports whether the record has been assigned an id by a store.
func (r Record) Persisted() bool {
	return r.ID > 0
}

// Draft returns the user-supplied part of the record.
func (r Record) Draft() Draft {
	return Draft{
		StudentName: r.StudentName,
		Activity:    r.Activity,
		Date:        r.Date,
		Hours:       r.Hours,
	}
}

// Store is the read/write/delete contract every backend implements. Individual
// operations are atomic; there is no multi-key transaction.
type Store interface {
	Add(ctx context.Context, draft Draft) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	GetAll(ctx context.Context) ([]Record, error)
	ListByDate(ctx context.Context, date string) ([]Record, error)
	// Delete removes the record with the given id. Deleting an id that is not
	// present is not an error.
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	SchemaVersion() int
	Close() error
}

func newRecord(draft Draft, now time.Time) (Record, error) {
	if err := draft.Validate(); err != nil {
		return Record{}, err
	}
	return Record{
		StudentName: draft.StudentName,
		Activity:    draft.Activity,
		Date:        draft.Date,
		Hours:       draft.Hours,
		CreatedAt:   now.UTC(),
	}, nil
}

func sortByID(items []Record) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func validID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id %d", ErrMissingID, id)
	}
	return nil
}
