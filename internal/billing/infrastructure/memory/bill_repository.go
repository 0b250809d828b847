package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	billing "residence-cloud/internal/billing/domain"
)

// BillRepository is an in-memory repository for bills.
type BillRepository struct {
	mu   sync.RWMutex
	data map[string]*billing.Bill
}

// NewBillRepository constructs a repository.
func NewBillRepository() *BillRepository {
	return &BillRepository{data: make(map[string]*billing.Bill)}
}

func billKey(aptID string, period billing.Period) string {
	return aptID + "|" + string(period)
}

// Get loads a bill.
func (r *BillRepository) Get(ctx context.Context, aptID string, period billing.Period) (*billing.Bill, error) {
	_ = ctx
	r.mu.RLock()
	b := r.data[billKey(aptID, period)]
	r.mu.RUnlock()
	return b.Clone(), nil
}

// Save upserts a bill.
func (r *BillRepository) Save(ctx context.Context, bill *billing.Bill) error {
	_ = ctx
	if bill == nil {
		return billing.ErrNilBill
	}
	r.mu.Lock()
	r.data[billKey(bill.ApartmentID, bill.Period)] = bill.Clone()
	r.mu.Unlock()
	return nil
}

// List returns matching bills ordered by period descending then apt_id.
func (r *BillRepository) List(ctx context.Context, filter billing.BillFilter) ([]*billing.Bill, int, error) {
	_ = ctx
	owner := strings.ToLower(strings.TrimSpace(filter.Owner))
	r.mu.RLock()
	matched := make([]*billing.Bill, 0)
	for _, b := range r.data {
		if filter.ApartmentID != "" && b.ApartmentID != filter.ApartmentID {
			continue
		}
		if owner != "" && !strings.Contains(strings.ToLower(b.OwnerName), owner) {
			continue
		}
		if filter.Period != "" && b.Period != filter.Period {
			continue
		}
		if filter.PeriodFrom != "" && b.Period < filter.PeriodFrom {
			continue
		}
		if filter.PeriodTo != "" && b.Period > filter.PeriodTo {
			continue
		}
		if filter.Status != "" && b.Status(filter.Now) != filter.Status {
			continue
		}
		matched = append(matched, b.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Period != matched[j].Period {
			return matched[i].Period > matched[j].Period
		}
		return matched[i].ApartmentID < matched[j].ApartmentID
	})
	total := len(matched)
	if filter.Limit <= 0 {
		if filter.Offset >= total {
			return []*billing.Bill{}, total, nil
		}
		return matched[filter.Offset:], total, nil
	}
	if filter.Offset >= total {
		return []*billing.Bill{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// LatestPeriod returns the most recent period with any bill.
func (r *BillRepository) LatestPeriod(ctx context.Context) (billing.Period, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest billing.Period
	for _, b := range r.data {
		if b.Period > latest {
			latest = b.Period
		}
	}
	return latest, nil
}
