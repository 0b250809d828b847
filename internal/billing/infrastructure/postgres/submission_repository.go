package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	billing "residence-cloud/internal/billing/domain"
)

// SubmissionRepository persists consumption submissions.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Append stores one submission.
func (r *SubmissionRepository) Append(ctx context.Context, sub *billing.ConsumptionSubmission) error {
	if r == nil || r.db == nil {
		return errors.New("submission repo: nil db")
	}
	return insertSubmission(ctx, r.db, sub)
}

// AppendBatch stores every submission in one transaction.
func (r *SubmissionRepository) AppendBatch(ctx context.Context, subs []*billing.ConsumptionSubmission) error {
	if r == nil || r.db == nil {
		return errors.New("submission repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := insertSubmission(ctx, tx, sub); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert submission for %s", sub.ApartmentID)
		}
	}
	return tx.Commit()
}

// List returns matching submissions oldest first.
func (r *SubmissionRepository) List(ctx context.Context, filter billing.SubmissionFilter) ([]billing.ConsumptionSubmission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, apt_id, period, readings, submitted_by, created_at
FROM consumption_submissions
WHERE ($1 = '' OR apt_id = $1)
	AND ($2 = '' OR period = $2)
ORDER BY created_at, id`, filter.ApartmentID, string(filter.Period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.ConsumptionSubmission
	for rows.Next() {
		var (
			sub      billing.ConsumptionSubmission
			period   string
			readings []byte
		)
		if err := rows.Scan(&sub.ID, &sub.ApartmentID, &period, &readings, &sub.SubmittedBy, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(readings, &sub.Readings); err != nil {
			return nil, errors.Wrapf(err, "decode readings of %s", sub.ID)
		}
		sub.Period = billing.Period(period)
		sub.CreatedAt = sub.CreatedAt.UTC()
		out = append(out, sub)
	}
	return out, rows.Err()
}

func insertSubmission(ctx context.Context, db DBTX, sub *billing.ConsumptionSubmission) error {
	if sub == nil {
		return errors.New("submission repo: nil submission")
	}
	readings, err := json.Marshal(sub.Readings)
	if err != nil {
		return errors.Wrap(err, "marshal readings")
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO consumption_submissions (id, apt_id, period, readings, submitted_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		sub.ID, sub.ApartmentID, string(sub.Period), readings, sub.SubmittedBy, sub.CreatedAt)
	return err
}
