package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	billing "residence-cloud/internal/billing/domain"
)

// BillRepository persists bills keyed by (apt_id, period).
type BillRepository struct {
	db DBTX
}

// NewBillRepository constructs a repository.
func NewBillRepository(db DBTX) *BillRepository {
	return &BillRepository{db: db}
}

const billColumns = `
	apt_id, owner_name, period, electric, water, service, vehicles, other,
	pre_debt, late_fee, discount, paid_amount, paid, payment_method, paid_at,
	due_date, reminder_count, last_reminded_at, config_id, created_at, updated_at`

// statusExpr mirrors Bill.Status; $1 is the evaluation instant.
const statusExpr = `
CASE
	WHEN paid THEN 'paid'
	WHEN due_date IS NOT NULL AND due_date < $1 THEN 'overdue'
	WHEN paid_amount > 0 THEN 'partial'
	ELSE 'unpaid'
END`

const billWhere = `
WHERE ($2 = '' OR apt_id = $2)
	AND ($3 = '' OR owner_name ILIKE '%' || $3 || '%')
	AND ($4 = '' OR period = $4)
	AND ($5 = '' OR period >= $5)
	AND ($6 = '' OR period <= $6)
	AND ($7 = '' OR ` + statusExpr + ` = $7)`

// Get loads a bill.
func (r *BillRepository) Get(ctx context.Context, aptID string, period billing.Period) (*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	b, err := scanBill(r.db.QueryRowContext(ctx, `SELECT`+billColumns+`
FROM bills
WHERE apt_id = $1 AND period = $2
LIMIT 1`, aptID, string(period)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// Save upserts a bill.
func (r *BillRepository) Save(ctx context.Context, b *billing.Bill) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	if b == nil {
		return billing.ErrNilBill
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO bills (`+billColumns+`
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
ON CONFLICT (apt_id, period)
DO UPDATE SET
	owner_name = EXCLUDED.owner_name,
	electric = EXCLUDED.electric,
	water = EXCLUDED.water,
	service = EXCLUDED.service,
	vehicles = EXCLUDED.vehicles,
	other = EXCLUDED.other,
	pre_debt = EXCLUDED.pre_debt,
	late_fee = EXCLUDED.late_fee,
	discount = EXCLUDED.discount,
	paid_amount = EXCLUDED.paid_amount,
	paid = EXCLUDED.paid,
	payment_method = EXCLUDED.payment_method,
	paid_at = EXCLUDED.paid_at,
	due_date = EXCLUDED.due_date,
	reminder_count = EXCLUDED.reminder_count,
	last_reminded_at = EXCLUDED.last_reminded_at,
	config_id = EXCLUDED.config_id,
	updated_at = EXCLUDED.updated_at`,
		b.ApartmentID, b.OwnerName, string(b.Period), b.Electric, b.Water, b.Service, b.Vehicles, b.Other,
		b.PreDebt, b.LateFee, b.Discount, b.PaidAmount, b.Paid, b.PaymentMethod, nullTime(b.PaidAt),
		nullDueDate(b.DueDate), b.ReminderCount, nullTime(b.LastRemindedAt), b.ConfigID, b.CreatedAt, b.UpdatedAt)
	return err
}

// List returns matching bills ordered by period descending then apt_id.
func (r *BillRepository) List(ctx context.Context, filter billing.BillFilter) ([]*billing.Bill, int, error) {
	if r == nil || r.db == nil {
		return nil, 0, errors.New("bill repo: nil db")
	}
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	args := []any{now, filter.ApartmentID, filter.Owner, string(filter.Period),
		string(filter.PeriodFrom), string(filter.PeriodTo), filter.Status}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bills`+billWhere, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := r.db.QueryContext(ctx, `SELECT`+billColumns+`
FROM bills`+billWhere+`
ORDER BY period DESC, apt_id
OFFSET $8 LIMIT $9`, append(args, filter.Offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*billing.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// LatestPeriod returns the most recent period with any bill.
func (r *BillRepository) LatestPeriod(ctx context.Context) (billing.Period, error) {
	if r == nil || r.db == nil {
		return "", errors.New("bill repo: nil db")
	}
	var period sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(period) FROM bills`).Scan(&period); err != nil {
		return "", err
	}
	return billing.Period(period.String), nil
}

// CountUnpaid returns the number of unpaid bills.
func (r *BillRepository) CountUnpaid(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("bill repo: nil db")
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bills WHERE NOT paid`).Scan(&n)
	return n, err
}

func scanBill(row rowScanner) (*billing.Bill, error) {
	var (
		b              billing.Bill
		period         string
		paidAt         sql.NullTime
		dueDate        sql.NullTime
		lastRemindedAt sql.NullTime
	)
	if err := row.Scan(
		&b.ApartmentID, &b.OwnerName, &period, &b.Electric, &b.Water, &b.Service, &b.Vehicles, &b.Other,
		&b.PreDebt, &b.LateFee, &b.Discount, &b.PaidAmount, &b.Paid, &b.PaymentMethod, &paidAt,
		&dueDate, &b.ReminderCount, &lastRemindedAt, &b.ConfigID, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Period = billing.Period(period)
	b.PaidAt = timePtr(paidAt)
	b.LastRemindedAt = timePtr(lastRemindedAt)
	if dueDate.Valid {
		b.DueDate = dueDate.Time.UTC()
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func nullDueDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
