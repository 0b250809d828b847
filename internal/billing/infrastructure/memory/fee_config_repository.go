package memory

import (
	"context"
	"sort"
	"sync"

	billing "residence-cloud/internal/billing/domain"
)

// FeeConfigRepository is an in-memory repository for fee configurations.
type FeeConfigRepository struct {
	mu   sync.RWMutex
	data map[string]*billing.FeeConfiguration
}

// NewFeeConfigRepository constructs a repository.
func NewFeeConfigRepository() *FeeConfigRepository {
	return &FeeConfigRepository{data: make(map[string]*billing.FeeConfiguration)}
}

// Get loads a configuration by id.
func (r *FeeConfigRepository) Get(ctx context.Context, id string) (*billing.FeeConfiguration, error) {
	_ = ctx
	r.mu.RLock()
	cfg := r.data[id]
	r.mu.RUnlock()
	return cfg.Clone(), nil
}

// List returns configurations newest first.
func (r *FeeConfigRepository) List(ctx context.Context, filter billing.ConfigFilter) ([]*billing.FeeConfiguration, error) {
	_ = ctx
	r.mu.RLock()
	out := make([]*billing.FeeConfiguration, 0, len(r.data))
	for _, cfg := range r.data {
		if filter.Status != "" && cfg.Status != filter.Status {
			continue
		}
		out = append(out, cfg.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Save upserts a configuration. A second active configuration for the same
// period key is rejected.
func (r *FeeConfigRepository) Save(ctx context.Context, cfg *billing.FeeConfiguration) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Status == billing.ConfigStatusActive {
		for id, other := range r.data {
			if id != cfg.ID && other.Status == billing.ConfigStatusActive && other.PeriodKey() == cfg.PeriodKey() {
				return billing.ErrActiveConfigExists
			}
		}
	}
	r.data[cfg.ID] = cfg.Clone()
	return nil
}

// Delete removes a configuration.
func (r *FeeConfigRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return billing.ErrConfigNotFound
	}
	delete(r.data, id)
	return nil
}

// FindActive returns the active configuration for periodKey, or nil.
func (r *FeeConfigRepository) FindActive(ctx context.Context, periodKey string) (*billing.FeeConfiguration, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.data {
		if cfg.Status == billing.ConfigStatusActive && cfg.PeriodKey() == periodKey {
			return cfg.Clone(), nil
		}
	}
	return nil, nil
}
