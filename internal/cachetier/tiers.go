package cachetier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type Tier int

const (
	Shell Tier = iota
	Static
	Dynamic
)

func (t Tier) String() string {
	switch t {
	case Shell:
		return "shell"
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Names holds the current generation name of each tier.
type Names struct {
	Shell   string
	Static  string
	Dynamic string
}

// NamesFor builds version-stamped tier names such as "app-shell-v2".
func NamesFor(prefix, version string) Names {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	return Names{
		Shell:   prefix + "shell-v" + version,
		Static:  prefix + "static-v" + version,
		Dynamic: prefix + "dynamic-v" + version,
	}
}

func (n Names) For(t Tier) string {
	switch t {
	case Shell:
		return n.Shell
	case Static:
		return n.Static
	default:
		return n.Dynamic
	}
}

func (n Names) all() []string {
	return []string{n.Shell, n.Static, n.Dynamic}
}

// Family splits a version-stamped cache name into its base. Names without a
// "-v<version>" suffix belong to no family.
func Family(name string) (string, bool) {
	idx := strings.LastIndex(name, "-v")
	if idx <= 0 || idx+2 >= len(name) {
		return "", false
	}
	for _, r := range name[idx+2:] {
		if !(r >= '0' && r <= '9') && r != '.' {
			return "", false
		}
	}
	return name[:idx], true
}

// Manager routes tier operations to the current generation of each tier.
type Manager struct {
	storage Storage

	mu    sync.RWMutex
	names Names
}

func NewManager(storage Storage, names Names) *Manager {
	return &Manager{storage: storage, names: names}
}

func (m *Manager) Names() Names {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names
}

// SetNames switches to a new cache generation. Old generations stay in storage
// until PurgeStale runs.
func (m *Manager) SetNames(names Names) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = names
}

func (m *Manager) Storage() Storage {
	return m.storage
}

func (m *Manager) Open(ctx context.Context, t Tier) (Cache, error) {
	return m.storage.Open(ctx, m.Names().For(t))
}

func (m *Manager) Match(ctx context.Context, t Tier, key string) (Snapshot, bool, error) {
	c, err := m.Open(ctx, t)
	if err != nil {
		return Snapshot{}, false, err
	}
	return c.Match(ctx, key)
}

func (m *Manager) Put(ctx context.Context, t Tier, key string, snap Snapshot) error {
	c, err := m.Open(ctx, t)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, snap)
}

// Discard deletes the caches of a generation that never became current, such
// as one whose install failed. Current caches are never deleted.
func (m *Manager) Discard(ctx context.Context, names Names) error {
	current := map[string]bool{}
	for _, name := range m.Names().all() {
		current[name] = true
	}
	var errs []error
	for _, name := range names.all() {
		if current[name] {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// PurgeStale deletes every cache that shares a family with a current tier name
// but is not itself current. Caches outside those families are left alone.
// It returns the deleted names.
func (m *Manager) PurgeStale(ctx context.Context) ([]string, error) {
	names := m.Names()
	current := map[string]bool{}
	families := map[string]bool{}
	for _, name := range names.all() {
		current[name] = true
		if base, ok := Family(name); ok {
			families[base] = true
		}
	}
	existing, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, name := range existing {
		if current[name] {
			continue
		}
		base, ok := Family(name)
		if !ok || !families[base] {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}
