// Package swap - In-memory Repository for tests and single-process use.
// The durable SQLite implementation lives in internal/storage.
package swap

import "sync"

// MemoryRepository keeps swaps in a map. Values are copied on the way
// in and out so callers never share mutable state with the store.
type MemoryRepository struct {
	mu    sync.RWMutex
	swaps map[string]*Swap
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{swaps: make(map[string]*Swap)}
}

// CreateSwap inserts a new swap.
func (r *MemoryRepository) CreateSwap(swap *Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.swaps[swap.ID]; ok {
		return ErrSwapExists
	}
	r.swaps[swap.ID] = cloneSwap(swap)
	return nil
}

// GetSwap loads a swap by id.
func (r *MemoryRepository) GetSwap(id string) (*Swap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	swap, ok := r.swaps[id]
	if !ok {
		return nil, ErrSwapNotFound
	}
	return cloneSwap(swap), nil
}

// UpdateSwap overwrites the stored swap.
func (r *MemoryRepository) UpdateSwap(swap *Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.swaps[swap.ID]; !ok {
		return ErrSwapNotFound
	}
	r.swaps[swap.ID] = cloneSwap(swap)
	return nil
}

// ListOpenSwaps returns swaps that have not reached a terminal state.
func (r *MemoryRepository) ListOpenSwaps() ([]*Swap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Swap
	for _, swap := range r.swaps {
		if swap.State != StateCompleted && swap.State != StateExpired {
			out = append(out, cloneSwap(swap))
		}
	}
	return out, nil
}

func cloneSwap(s *Swap) *Swap {
	c := *s
	c.SecretHash = append([]byte(nil), s.SecretHash...)
	if s.Secret != nil {
		c.Secret = append([]byte(nil), s.Secret...)
	}
	c.Legs = make([]*Leg, len(s.Legs))
	for i, leg := range s.Legs {
		legCopy := *leg
		c.Legs[i] = &legCopy
	}
	return &c
}
