package billing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"residence-cloud/internal/apperr"
)

// UnitReading is the quantity consumed of one named service.
type UnitReading struct {
	Name  string          `json:"name"`
	Units decimal.Decimal `json:"units"`
}

// ConsumptionSubmission records readings for one apartment and period. It is
// append-only; a later submission supersedes earlier readings per service name.
type ConsumptionSubmission struct {
	ID          string        `json:"id"`
	ApartmentID string        `json:"apt_id"`
	Period      Period        `json:"period"`
	Readings    []UnitReading `json:"readings"`
	SubmittedBy string        `json:"submitted_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ValidateReadings checks a reading list: non-empty, named, unique, non-negative.
func ValidateReadings(readings []UnitReading) ([]UnitReading, error) {
	if len(readings) == 0 {
		return nil, apperr.Validation("units must not be empty")
	}
	seen := make(map[string]struct{}, len(readings))
	out := make([]UnitReading, 0, len(readings))
	for _, r := range readings {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, apperr.Validation("service name is required")
		}
		if r.Units.IsNegative() {
			return nil, apperr.Validation("service %q: units must be >= 0", r.Name)
		}
		key := normalizeName(r.Name)
		if _, dup := seen[key]; dup {
			return nil, apperr.Validation("service %q: duplicate reading", r.Name)
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// LatestReadings folds submissions (oldest first) into one units value per
// normalized service name.
func LatestReadings(subs []ConsumptionSubmission) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, sub := range subs {
		for _, r := range sub.Readings {
			out[normalizeName(r.Name)] = r.Units
		}
	}
	return out
}

// SubmissionFilter narrows submission listings. Zero values match everything.
type SubmissionFilter struct {
	ApartmentID string
	Period      Period
}

// SubmissionRepository persists consumption submissions.
type SubmissionRepository interface {
	// Append stores one submission.
	Append(ctx context.Context, sub *ConsumptionSubmission) error
	// AppendBatch stores every submission or none.
	AppendBatch(ctx context.Context, subs []*ConsumptionSubmission) error
	// List returns matching submissions ordered by created_at ascending.
	List(ctx context.Context, filter SubmissionFilter) ([]ConsumptionSubmission, error)
}
