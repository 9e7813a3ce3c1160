package state

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

// MemStore keeps states in memory. Used for dry runs and tests.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]map[string]*watch.ResourceState
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]map[string]*watch.ResourceState)}
}

func (m *MemStore) Get(ctx context.Context, tenant, resourceID string) (*watch.ResourceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[tenant][resourceID].Clone(), nil
}

func (m *MemStore) Put(ctx context.Context, tenant string, st *watch.ResourceState) error {
	if st == nil || st.ResourceID == "" {
		return errors.NewInvalidRequestError("state with a resource id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[tenant] == nil {
		m.states[tenant] = make(map[string]*watch.ResourceState)
	}
	m.states[tenant][st.ResourceID] = st.Clone()
	return nil
}

func (m *MemStore) List(ctx context.Context, tenant string) ([]*watch.ResourceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*watch.ResourceState, 0, len(m.states[tenant]))
	for _, st := range m.states[tenant] {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, tenant, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[tenant][resourceID]; !ok {
		return errors.NewNotFoundError("no state for %s/%s", tenant, resourceID)
	}
	delete(m.states[tenant], resourceID)
	return nil
}

var (
	_ Admin = (*Store)(nil)
	_ Admin = (*MemStore)(nil)
)
