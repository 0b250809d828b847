package billing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"residence-cloud/internal/apperr"
)

const (
	BillStatusPaid    = "paid"
	BillStatusPartial = "partial"
	BillStatusOverdue = "overdue"
	BillStatusUnpaid  = "unpaid"
)

// Bill is the charge of one apartment for one period. Identity: (apt_id, period).
type Bill struct {
	ApartmentID    string
	OwnerName      string
	Period         Period
	Electric       decimal.Decimal
	Water          decimal.Decimal
	Service        decimal.Decimal
	Vehicles       decimal.Decimal
	Other          decimal.Decimal
	PreDebt        decimal.Decimal
	LateFee        decimal.Decimal
	Discount       decimal.Decimal
	PaidAmount     decimal.Decimal
	Paid           bool
	PaymentMethod  string
	PaidAt         *time.Time
	DueDate        time.Time
	ReminderCount  int
	LastRemindedAt *time.Time
	ConfigID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewBill creates an empty bill for apartment and period.
func NewBill(aptID, ownerName string, period Period, now time.Time) *Bill {
	return &Bill{
		ApartmentID: aptID,
		OwnerName:   ownerName,
		Period:      period,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Charges returns the sum of the category buckets.
func (b *Bill) Charges() decimal.Decimal {
	return b.Electric.Add(b.Water).Add(b.Service).Add(b.Vehicles).Add(b.Other)
}

// Total = charges + pre_debt + late_fee - discount.
func (b *Bill) Total() decimal.Decimal {
	return b.Charges().Add(b.PreDebt).Add(b.LateFee).Sub(b.Discount)
}

// Balance is what remains to be paid.
func (b *Bill) Balance() decimal.Decimal {
	if b.Paid {
		return decimal.Zero
	}
	return b.Total().Sub(b.PaidAmount)
}

// Status derives the payment status at now. An unpaid bill past its due date
// is overdue even when partially paid.
func (b *Bill) Status(now time.Time) string {
	switch {
	case b.Paid:
		return BillStatusPaid
	case !b.DueDate.IsZero() && now.After(b.DueDate):
		return BillStatusOverdue
	case b.PaidAmount.IsPositive():
		return BillStatusPartial
	default:
		return BillStatusUnpaid
	}
}

// Bucket returns the charge of category c.
func (b *Bill) Bucket(c Category) decimal.Decimal {
	switch c {
	case CategoryElectric:
		return b.Electric
	case CategoryWater:
		return b.Water
	case CategoryService:
		return b.Service
	case CategoryVehicles:
		return b.Vehicles
	default:
		return b.Other
	}
}

// Recompute replaces the category charges and pre_debt. Adjustments, partial
// payments and reminders are kept. A recompute that would leave the total
// negative under the existing discount is rejected and the bill is unchanged.
// When earlier payments already cover the new total the bill is settled.
func (b *Bill) Recompute(charges map[Category]decimal.Decimal, preDebt decimal.Decimal, configID string, due, now time.Time) error {
	if b.Paid {
		return ErrBillPaid
	}
	next := *b
	next.Electric = charges[CategoryElectric]
	next.Water = charges[CategoryWater]
	next.Service = charges[CategoryService]
	next.Vehicles = charges[CategoryVehicles]
	next.Other = charges[CategoryOther]
	next.PreDebt = preDebt
	if next.Total().IsNegative() {
		return ErrNegativeTotal
	}
	next.ConfigID = configID
	next.DueDate = due
	next.UpdatedAt = now
	if next.PaidAmount.IsPositive() && next.PaidAmount.GreaterThanOrEqual(next.Total()) {
		next.settle(next.PaymentMethod, now)
	}
	*b = next
	return nil
}

// AddLateFee adds amount to the late fee.
func (b *Bill) AddLateFee(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Paid {
		return ErrBillPaid
	}
	b.LateFee = b.LateFee.Add(amount)
	b.UpdatedAt = now
	return nil
}

// ApplyDiscount adds amount to the discount. A discount that would make the
// total negative is rejected.
func (b *Bill) ApplyDiscount(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Paid {
		return ErrBillPaid
	}
	if b.Total().Sub(amount).IsNegative() {
		return ErrNegativeTotal
	}
	b.Discount = b.Discount.Add(amount)
	b.UpdatedAt = now
	return nil
}

// MarkPaid settles the bill in full.
func (b *Bill) MarkPaid(method string, now time.Time) error {
	if b.Paid {
		return ErrBillPaid
	}
	b.PaidAmount = b.Total()
	b.settle(method, now)
	return nil
}

// RecordPayment adds a (possibly partial) payment. The bill becomes paid once
// the paid amount reaches the total.
func (b *Bill) RecordPayment(amount decimal.Decimal, method string, now time.Time) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Paid {
		return ErrBillPaid
	}
	if amount.GreaterThan(b.Balance()) {
		return apperr.Validation("payment %s exceeds balance %s", amount, b.Balance())
	}
	b.PaidAmount = b.PaidAmount.Add(amount)
	b.PaymentMethod = strings.TrimSpace(method)
	b.UpdatedAt = now
	if b.PaidAmount.GreaterThanOrEqual(b.Total()) {
		b.settle(method, now)
	}
	return nil
}

// Remind counts one more reminder.
func (b *Bill) Remind(now time.Time) error {
	if b.Paid {
		return ErrBillPaid
	}
	b.ReminderCount++
	b.LastRemindedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Bill) settle(method string, now time.Time) {
	b.Paid = true
	b.PaymentMethod = strings.TrimSpace(method)
	b.PaidAt = &now
	b.UpdatedAt = now
}

// Clone returns a deep copy.
func (b *Bill) Clone() *Bill {
	if b == nil {
		return nil
	}
	out := *b
	if b.PaidAt != nil {
		t := *b.PaidAt
		out.PaidAt = &t
	}
	if b.LastRemindedAt != nil {
		t := *b.LastRemindedAt
		out.LastRemindedAt = &t
	}
	return &out
}

// BillView is the JSON shape of a bill with derived fields.
type BillView struct {
	ApartmentID    string          `json:"apt_id"`
	OwnerName      string          `json:"owner_name"`
	Period         Period          `json:"period"`
	Electric       decimal.Decimal `json:"electric"`
	Water          decimal.Decimal `json:"water"`
	Service        decimal.Decimal `json:"service"`
	Vehicles       decimal.Decimal `json:"vehicles"`
	Other          decimal.Decimal `json:"other"`
	PreDebt        decimal.Decimal `json:"pre_debt"`
	LateFee        decimal.Decimal `json:"late_fee"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Balance        decimal.Decimal `json:"balance"`
	Paid           bool            `json:"paid"`
	Status         string          `json:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	DueDate        time.Time       `json:"due_date"`
	ReminderCount  int             `json:"reminder_count"`
	LastRemindedAt *time.Time      `json:"last_reminded_at,omitempty"`
	ConfigID       string          `json:"config_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// View renders the bill with total, balance and status evaluated at now.
func (b *Bill) View(now time.Time) BillView {
	return BillView{
		ApartmentID:    b.ApartmentID,
		OwnerName:      b.OwnerName,
		Period:         b.Period,
		Electric:       b.Electric,
		Water:          b.Water,
		Service:        b.Service,
		Vehicles:       b.Vehicles,
		Other:          b.Other,
		PreDebt:        b.PreDebt,
		LateFee:        b.LateFee,
		Discount:       b.Discount,
		Total:          b.Total(),
		PaidAmount:     b.PaidAmount,
		Balance:        b.Balance(),
		Paid:           b.Paid,
		Status:         b.Status(now),
		PaymentMethod:  b.PaymentMethod,
		PaidAt:         b.PaidAt,
		DueDate:        b.DueDate,
		ReminderCount:  b.ReminderCount,
		LastRemindedAt: b.LastRemindedAt,
		ConfigID:       b.ConfigID,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

// BillFilter narrows bill listings. Zero values match everything; Limit <= 0
// returns every match.
type BillFilter struct {
	ApartmentID string
	Owner       string
	Period      Period
	PeriodFrom  Period
	PeriodTo    Period
	Status      string
	Now         time.Time
	Offset      int
	Limit       int
}

// ValidBillStatus reports whether status is a known derived status.
func ValidBillStatus(status string) bool {
	switch status {
	case BillStatusPaid, BillStatusPartial, BillStatusOverdue, BillStatusUnpaid:
		return true
	}
	return false
}

// BillRepository persists bills keyed by (apt_id, period).
type BillRepository interface {
	Get(ctx context.Context, aptID string, period Period) (*Bill, error)
	Save(ctx context.Context, bill *Bill) error
	// List returns matches ordered by period descending then apt_id, plus the
	// total match count before paging.
	List(ctx context.Context, filter BillFilter) ([]*Bill, int, error)
	// LatestPeriod returns the most recent period with any bill, or "".
	LatestPeriod(ctx context.Context) (Period, error)
}
