package memory

import (
	"context"
	"sort"
	"sync"

	billing "residence-cloud/internal/billing/domain"
)

// SubmissionRepository is an append-only in-memory submission store.
type SubmissionRepository struct {
	mu   sync.RWMutex
	data []billing.ConsumptionSubmission
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{}
}

// Append stores one submission.
func (r *SubmissionRepository) Append(ctx context.Context, sub *billing.ConsumptionSubmission) error {
	return r.AppendBatch(ctx, []*billing.ConsumptionSubmission{sub})
}

// AppendBatch stores every submission under one lock.
func (r *SubmissionRepository) AppendBatch(ctx context.Context, subs []*billing.ConsumptionSubmission) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range subs {
		copied := *sub
		copied.Readings = append([]billing.UnitReading(nil), sub.Readings...)
		r.data = append(r.data, copied)
	}
	return nil
}

// List returns matching submissions oldest first.
func (r *SubmissionRepository) List(ctx context.Context, filter billing.SubmissionFilter) ([]billing.ConsumptionSubmission, error) {
	_ = ctx
	r.mu.RLock()
	out := make([]billing.ConsumptionSubmission, 0)
	for _, sub := range r.data {
		if filter.ApartmentID != "" && sub.ApartmentID != filter.ApartmentID {
			continue
		}
		if filter.Period != "" && sub.Period != filter.Period {
			continue
		}
		out = append(out, sub)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
