package storage

import (
	"context"
	"sync"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

// MemoryStore keeps datasets and applied votes in process memory. RWMutex
// lets many readers proceed together while writers get exclusive access.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets []model.PendingDataset
	votes    []model.AppliedVote
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Pending exposes the dataset half of the store.
func (m *MemoryStore) Pending() PendingStore { return memoryPending{m} }

// Applied exposes the applied-votes half of the store.
func (m *MemoryStore) Applied() AppliedStore { return memoryApplied{m} }

type memoryPending struct{ m *MemoryStore }

func (p memoryPending) List(ctx context.Context) ([]model.PendingDataset, error) {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	// Returning copies prevents callers from mutating internal state.
	return cloneAll(p.m.datasets), nil
}

func (p memoryPending) Get(ctx context.Context, id string) (*model.PendingDataset, error) {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	i := indexOf(p.m.datasets, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	ds := p.m.datasets[i].Clone()
	return &ds, nil
}

func (p memoryPending) Append(ctx context.Context, ds model.PendingDataset) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if indexOf(p.m.datasets, ds.ID) >= 0 {
		return ErrDuplicate
	}
	p.m.datasets = append(p.m.datasets, ds.Clone())
	return nil
}

func (p memoryPending) Update(ctx context.Context, id string, fn UpdateFunc) (*model.PendingDataset, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	i := indexOf(p.m.datasets, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	next := p.m.datasets[i].Clone()
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = id
	next.Version = p.m.datasets[i].Version + 1
	p.m.datasets[i] = next
	out := next.Clone()
	return &out, nil
}

func (p memoryPending) Remove(ctx context.Context, id string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	i := indexOf(p.m.datasets, id)
	if i < 0 {
		return ErrNotFound
	}
	p.m.datasets = append(p.m.datasets[:i:i], p.m.datasets[i+1:]...)
	return nil
}

func (p memoryPending) SaveAll(ctx context.Context, datasets []model.PendingDataset) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.datasets = cloneAll(datasets)
	return nil
}

type memoryApplied struct{ m *MemoryStore }

func (a memoryApplied) List(ctx context.Context) ([]model.AppliedVote, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	return append([]model.AppliedVote(nil), a.m.votes...), nil
}

func (a memoryApplied) Append(ctx context.Context, votes []model.AppliedVote) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.votes = append(a.m.votes, votes...)
	return nil
}

func (a memoryApplied) Count(ctx context.Context) (int, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	return len(a.m.votes), nil
}
