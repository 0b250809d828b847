package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	masterdata "residence-cloud/internal/masterdata/domain"
)

// ApartmentRepository is an in-memory repository for apartments.
type ApartmentRepository struct {
	mu   sync.RWMutex
	data map[string]masterdata.Apartment
}

// NewApartmentRepository constructs a repository.
func NewApartmentRepository() *ApartmentRepository {
	return &ApartmentRepository{data: make(map[string]masterdata.Apartment)}
}

// Get loads an apartment by id.
func (r *ApartmentRepository) Get(ctx context.Context, id string) (*masterdata.Apartment, error) {
	_ = ctx
	r.mu.RLock()
	apt, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &apt, nil
}

// List returns apartments ordered by id.
func (r *ApartmentRepository) List(ctx context.Context, filter masterdata.ListFilter) ([]masterdata.Apartment, error) {
	_ = ctx
	owner := strings.ToLower(strings.TrimSpace(filter.Owner))
	r.mu.RLock()
	out := make([]masterdata.Apartment, 0, len(r.data))
	for _, apt := range r.data {
		if filter.Floor > 0 && apt.Floor != filter.Floor {
			continue
		}
		if owner != "" && !strings.Contains(strings.ToLower(apt.OwnerName), owner) {
			continue
		}
		out = append(out, apt)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save upserts an apartment.
func (r *ApartmentRepository) Save(ctx context.Context, apt *masterdata.Apartment) error {
	_ = ctx
	if err := apt.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.data[apt.ID]; ok {
		apt.CreatedAt = existing.CreatedAt
	} else {
		apt.CreatedAt = now
	}
	apt.UpdatedAt = now
	r.data[apt.ID] = *apt
	return nil
}

// Delete removes an apartment and reports whether it existed.
func (r *ApartmentRepository) Delete(ctx context.Context, id string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return false, nil
	}
	delete(r.data, id)
	return true, nil
}
