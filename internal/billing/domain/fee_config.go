package billing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"residence-cloud/internal/apperr"
)

const (
	ConfigStatusDraft     = "draft"
	ConfigStatusActive    = "active"
	ConfigStatusCompleted = "completed"
)

// Service is one priced line of a fee configuration.
type Service struct {
	Name          string           `json:"name"`
	Category      Category         `json:"category"`
	UnitCost      decimal.Decimal  `json:"unit_cost"`
	Unit          string           `json:"unit"`
	NumberOfUnits *decimal.Decimal `json:"number_of_units,omitempty"`
}

// DefaultUnits returns the default quantity or zero.
func (s Service) DefaultUnits() decimal.Decimal {
	if s.NumberOfUnits == nil {
		return decimal.Zero
	}
	return *s.NumberOfUnits
}

// FeeConfiguration groups the services priced for a period.
type FeeConfiguration struct {
	ID          string     `json:"id"`
	Period      Period     `json:"period,omitempty"`
	Services    []Service  `json:"services"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PeriodKey is the uniqueness key for active configurations. The unscoped
// configuration uses the empty key.
func (c *FeeConfiguration) PeriodKey() string {
	return string(c.Period)
}

// DefaultTotal is the sum of unit_cost x default number_of_units.
func (c *FeeConfiguration) DefaultTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range c.Services {
		total = total.Add(s.UnitCost.Mul(s.DefaultUnits()))
	}
	return total
}

// Service returns the service with name, matched case-insensitively.
func (c *FeeConfiguration) Service(name string) (Service, bool) {
	key := normalizeName(name)
	for _, s := range c.Services {
		if normalizeName(s.Name) == key {
			return s, true
		}
	}
	return Service{}, false
}

// Clone returns a deep copy.
func (c *FeeConfiguration) Clone() *FeeConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.Services = make([]Service, len(c.Services))
	for i, s := range c.Services {
		if s.NumberOfUnits != nil {
			n := *s.NumberOfUnits
			s.NumberOfUnits = &n
		}
		out.Services[i] = s
	}
	if c.PublishedAt != nil {
		t := *c.PublishedAt
		out.PublishedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// NormalizeServices validates services and resolves missing category tags.
// Names are trimmed; duplicates (case-insensitive) are rejected.
func NormalizeServices(services []Service, resolver *CategoryResolver) ([]Service, error) {
	if len(services) == 0 {
		return nil, apperr.Validation("services must not be empty")
	}
	seen := make(map[string]struct{}, len(services))
	out := make([]Service, 0, len(services))
	for i, s := range services {
		s.Name = strings.TrimSpace(s.Name)
		s.Unit = strings.TrimSpace(s.Unit)
		if s.Name == "" {
			return nil, apperr.Validation("service %d: name is required", i)
		}
		if s.Unit == "" {
			return nil, apperr.Validation("service %q: unit is required", s.Name)
		}
		if s.UnitCost.IsNegative() {
			return nil, apperr.Validation("service %q: unit_cost must be >= 0", s.Name)
		}
		if s.NumberOfUnits != nil && s.NumberOfUnits.IsNegative() {
			return nil, apperr.Validation("service %q: number_of_units must be >= 0", s.Name)
		}
		key := normalizeName(s.Name)
		if _, dup := seen[key]; dup {
			return nil, apperr.Validation("service %q: duplicate name", s.Name)
		}
		seen[key] = struct{}{}
		if s.Category == "" {
			s.Category = resolver.Resolve(s.Name)
		} else {
			c, err := ParseCategory(string(s.Category))
			if err != nil {
				return nil, err
			}
			s.Category = c
		}
		out = append(out, s)
	}
	return out, nil
}

// ConfigFilter narrows configuration listings.
type ConfigFilter struct {
	Status string
}

// FeeConfigRepository persists fee configurations. Save must reject a second
// active configuration for the same period key with ErrActiveConfigExists.
type FeeConfigRepository interface {
	Get(ctx context.Context, id string) (*FeeConfiguration, error)
	List(ctx context.Context, filter ConfigFilter) ([]*FeeConfiguration, error)
	Save(ctx context.Context, cfg *FeeConfiguration) error
	Delete(ctx context.Context, id string) error
	// FindActive returns the active configuration for periodKey, or nil.
	FindActive(ctx context.Context, periodKey string) (*FeeConfiguration, error)
}

// EnsureDraft fails unless the configuration is still a draft.
func (c *FeeConfiguration) EnsureDraft() error {
	if c.Status != ConfigStatusDraft {
		return ErrConfigNotDraft
	}
	return nil
}

// Publish moves draft -> active.
func (c *FeeConfiguration) Publish(now time.Time) error {
	if err := c.EnsureDraft(); err != nil {
		return err
	}
	c.Status = ConfigStatusActive
	c.PublishedAt = &now
	c.UpdatedAt = now
	return nil
}

// Complete moves active -> completed.
func (c *FeeConfiguration) Complete(now time.Time) error {
	if c.Status != ConfigStatusActive {
		return ErrConfigNotActive
	}
	c.Status = ConfigStatusCompleted
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

// ValidConfigStatus reports whether status is a known lifecycle state.
func ValidConfigStatus(status string) bool {
	switch status {
	case ConfigStatusDraft, ConfigStatusActive, ConfigStatusCompleted:
		return true
	}
	return false
}
