package application

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"residence-cloud/internal/apperr"
	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
	"residence-cloud/internal/observability/metrics"
)

// ConfigService manages the fee configuration lifecycle.
type ConfigService struct {
	repo       billing.FeeConfigRepository
	apartments ApartmentDirectory
	notifier   ResidentNotifier
	resolver   *billing.CategoryResolver
	opts       options
}

// PublishResult is returned by Publish.
type PublishResult struct {
	Config      *billing.FeeConfiguration `json:"config"`
	Notified    int                       `json:"notified"`
	TotalAmount decimal.Decimal           `json:"total_amount"`
}

// NewConfigService constructs a ConfigService. notifier may be nil.
func NewConfigService(repo billing.FeeConfigRepository, apartments ApartmentDirectory, notifier ResidentNotifier, resolver *billing.CategoryResolver, opts ...Option) (*ConfigService, error) {
	if repo == nil {
		return nil, errors.New("config service: nil repo")
	}
	if apartments == nil {
		return nil, errors.New("config service: nil apartment directory")
	}
	if resolver == nil {
		resolver = billing.NewCategoryResolver(nil)
	}
	return &ConfigService{
		repo:       repo,
		apartments: apartments,
		notifier:   notifier,
		resolver:   resolver,
		opts:       applyOptions(opts),
	}, nil
}

// Create stores a new draft configuration.
func (s *ConfigService) Create(ctx context.Context, period string, services []billing.Service) (cfg *billing.FeeConfiguration, err error) {
	defer observe("config_create", time.Now(), &err)

	p, err := parseOptionalPeriod(period)
	if err != nil {
		return nil, err
	}
	normalized, err := billing.NormalizeServices(services, s.resolver)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	cfg = &billing.FeeConfiguration{
		ID:        uuid.NewString(),
		Period:    p,
		Services:  normalized,
		Status:    billing.ConfigStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "save fee configuration")
	}
	return cfg, nil
}

// Update replaces period and services of a draft configuration.
func (s *ConfigService) Update(ctx context.Context, id, period string, services []billing.Service) (cfg *billing.FeeConfiguration, err error) {
	defer observe("config_update", time.Now(), &err)

	cfg, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDraft(); err != nil {
		return nil, err
	}
	p, err := parseOptionalPeriod(period)
	if err != nil {
		return nil, err
	}
	normalized, err := billing.NormalizeServices(services, s.resolver)
	if err != nil {
		return nil, err
	}
	cfg.Period = p
	cfg.Services = normalized
	cfg.UpdatedAt = s.opts.now()
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "save fee configuration")
	}
	return cfg, nil
}

// Publish activates a draft configuration and notifies every registered
// apartment. Notification failures are logged and do not undo the publish.
func (s *ConfigService) Publish(ctx context.Context, id string) (result *PublishResult, err error) {
	defer observe("config_publish", time.Now(), &err)

	cfg, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.FindActive(ctx, cfg.PeriodKey())
	if err != nil {
		return nil, errors.Wrap(err, "find active configuration")
	}
	if active != nil && active.ID != cfg.ID {
		return nil, billing.ErrActiveConfigExists
	}
	if err := cfg.Publish(s.opts.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "save fee configuration")
	}

	total := cfg.DefaultTotal()
	return &PublishResult{
		Config:      cfg,
		Notified:    s.notifyPublished(ctx, cfg, total),
		TotalAmount: total,
	}, nil
}

func (s *ConfigService) notifyPublished(ctx context.Context, cfg *billing.FeeConfiguration, total decimal.Decimal) int {
	if s.notifier == nil {
		return 0
	}
	apartments, err := s.apartments.List(ctx, masterdata.ListFilter{})
	if err != nil {
		s.opts.logger.WithError(err).WithField("config_id", cfg.ID).Warn("list apartments for publish notification failed")
		return 0
	}
	notified := 0
	for _, apt := range apartments {
		if err := s.notifier.ConfigPublished(ctx, apt, cfg, total); err != nil {
			s.opts.logger.WithError(err).WithFields(logrus.Fields{
				"config_id": cfg.ID,
				"apt_id":    apt.ID,
			}).Warn("publish notification failed")
			continue
		}
		notified++
	}
	return notified
}

// Complete closes an active configuration.
func (s *ConfigService) Complete(ctx context.Context, id string) (cfg *billing.FeeConfiguration, err error) {
	defer observe("config_complete", time.Now(), &err)

	cfg, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := cfg.Complete(s.opts.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "save fee configuration")
	}
	return cfg, nil
}

// Delete removes a draft configuration.
func (s *ConfigService) Delete(ctx context.Context, id string) (err error) {
	defer observe("config_delete", time.Now(), &err)

	cfg, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDraft(); err != nil {
		return err
	}
	return s.repo.Delete(ctx, cfg.ID)
}

// GetAll lists configurations, optionally by status.
func (s *ConfigService) GetAll(ctx context.Context, status string) ([]*billing.FeeConfiguration, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !billing.ValidConfigStatus(status) {
		return nil, apperr.Validation("unknown status %q", status)
	}
	list, err := s.repo.List(ctx, billing.ConfigFilter{Status: status})
	if err != nil {
		return nil, errors.Wrap(err, "list fee configurations")
	}
	return list, nil
}

// GetByID loads one configuration.
func (s *ConfigService) GetByID(ctx context.Context, id string) (*billing.FeeConfiguration, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("configuration id is required")
	}
	cfg, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load fee configuration")
	}
	if cfg == nil {
		return nil, billing.ErrConfigNotFound
	}
	return cfg, nil
}

func parseOptionalPeriod(value string) (billing.Period, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return billing.ParsePeriod(value)
}

func observe(operation string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	metrics.ObserveBilling(operation, metrics.ResultOf(e), time.Since(start))
}
