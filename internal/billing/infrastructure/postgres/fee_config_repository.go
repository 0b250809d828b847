package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	billing "residence-cloud/internal/billing/domain"
)

const activeConfigIndex = "fee_configurations_one_active_per_period"

// FeeConfigRepository persists fee configurations. Services are stored as JSONB.
type FeeConfigRepository struct {
	db DBTX
}

// NewFeeConfigRepository constructs a repository.
func NewFeeConfigRepository(db DBTX) *FeeConfigRepository {
	return &FeeConfigRepository{db: db}
}

const selectFeeConfig = `
SELECT id, period_key, services, status, created_at, updated_at, published_at, completed_at
FROM fee_configurations`

// Get loads a configuration by id.
func (r *FeeConfigRepository) Get(ctx context.Context, id string) (*billing.FeeConfiguration, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fee config repo: nil db")
	}
	cfg, err := scanFeeConfig(r.db.QueryRowContext(ctx, selectFeeConfig+`
WHERE id = $1
LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

// List returns configurations newest first.
func (r *FeeConfigRepository) List(ctx context.Context, filter billing.ConfigFilter) ([]*billing.FeeConfiguration, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fee config repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectFeeConfig+`
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id`, filter.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.FeeConfiguration
	for rows.Next() {
		cfg, err := scanFeeConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Save upserts a configuration. The partial unique index on active rows turns
// a second active configuration for the same period into ErrActiveConfigExists.
func (r *FeeConfigRepository) Save(ctx context.Context, cfg *billing.FeeConfiguration) error {
	if r == nil || r.db == nil {
		return errors.New("fee config repo: nil db")
	}
	if cfg == nil {
		return errors.New("fee config repo: nil configuration")
	}
	services, err := json.Marshal(cfg.Services)
	if err != nil {
		return errors.Wrap(err, "marshal services")
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO fee_configurations (
	id, period_key, services, status, created_at, updated_at, published_at, completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id)
DO UPDATE SET
	period_key = EXCLUDED.period_key,
	services = EXCLUDED.services,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at,
	published_at = EXCLUDED.published_at,
	completed_at = EXCLUDED.completed_at`,
		cfg.ID, cfg.PeriodKey(), services, cfg.Status, cfg.CreatedAt, cfg.UpdatedAt,
		nullTime(cfg.PublishedAt), nullTime(cfg.CompletedAt))
	if isUniqueViolation(err, activeConfigIndex) {
		return billing.ErrActiveConfigExists
	}
	return err
}

// Delete removes a configuration.
func (r *FeeConfigRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("fee config repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM fee_configurations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrConfigNotFound
	}
	return nil
}

// FindActive returns the active configuration for periodKey, or nil.
func (r *FeeConfigRepository) FindActive(ctx context.Context, periodKey string) (*billing.FeeConfiguration, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fee config repo: nil db")
	}
	cfg, err := scanFeeConfig(r.db.QueryRowContext(ctx, selectFeeConfig+`
WHERE status = 'active' AND period_key = $1
ORDER BY published_at DESC
LIMIT 1`, periodKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

func scanFeeConfig(row rowScanner) (*billing.FeeConfiguration, error) {
	var (
		cfg         billing.FeeConfiguration
		periodKey   string
		services    []byte
		publishedAt sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&cfg.ID, &periodKey, &services, &cfg.Status, &cfg.CreatedAt, &cfg.UpdatedAt, &publishedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(services, &cfg.Services); err != nil {
		return nil, errors.Wrapf(err, "decode services of %s", cfg.ID)
	}
	cfg.Period = billing.Period(periodKey)
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	cfg.PublishedAt = timePtr(publishedAt)
	cfg.CompletedAt = timePtr(completedAt)
	return &cfg, nil
}
