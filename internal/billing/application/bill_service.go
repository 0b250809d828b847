package application

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"residence-cloud/internal/apperr"
	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
)

// BillService computes bills and applies administrative actions to them.
type BillService struct {
	bills       billing.BillRepository
	configs     billing.FeeConfigRepository
	submissions billing.SubmissionRepository
	apartments  ApartmentDirectory
	notifier    ResidentNotifier
	opts        options
}

// NewBillService constructs a BillService. notifier may be nil.
func NewBillService(bills billing.BillRepository, configs billing.FeeConfigRepository, submissions billing.SubmissionRepository, apartments ApartmentDirectory, notifier ResidentNotifier, opts ...Option) (*BillService, error) {
	if bills == nil {
		return nil, errors.New("bill service: nil bill repo")
	}
	if configs == nil {
		return nil, errors.New("bill service: nil config repo")
	}
	if submissions == nil {
		return nil, errors.New("bill service: nil submission repo")
	}
	if apartments == nil {
		return nil, errors.New("bill service: nil apartment directory")
	}
	return &BillService{
		bills:       bills,
		configs:     configs,
		submissions: submissions,
		apartments:  apartments,
		notifier:    notifier,
		opts:        applyOptions(opts),
	}, nil
}

// ComputeBill (re)computes the bill of one apartment for period. Adjustments
// already on the bill are kept; a paid bill is never recomputed.
func (s *BillService) ComputeBill(ctx context.Context, aptID, period string) (bill *billing.Bill, err error) {
	defer observe("compute_bill", time.Now(), &err)

	now := s.opts.now()
	p, err := billing.ParsePeriodOrCurrent(period, now)
	if err != nil {
		return nil, err
	}
	apt, err := s.apartment(ctx, aptID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.activeConfig(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, apt, cfg, p, now)
}

// PeriodComputeResult summarizes ComputePeriod.
type PeriodComputeResult struct {
	Period   billing.Period    `json:"period"`
	Computed int               `json:"computed"`
	Failures []apperr.RowError `json:"failures"`
}

// ComputePeriod computes the bill of every registered apartment for period.
// Per-apartment failures are collected; Index is the apartment's position in
// the registry listing.
func (s *BillService) ComputePeriod(ctx context.Context, period string) (result *PeriodComputeResult, err error) {
	defer observe("compute_period", time.Now(), &err)

	now := s.opts.now()
	p, err := billing.ParsePeriodOrCurrent(period, now)
	if err != nil {
		return nil, err
	}
	cfg, err := s.activeConfig(ctx, p)
	if err != nil {
		return nil, err
	}
	apartments, err := s.apartments.List(ctx, masterdata.ListFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "list apartments")
	}
	result = &PeriodComputeResult{Period: p, Failures: []apperr.RowError{}}
	for i := range apartments {
		if _, err := s.compute(ctx, &apartments[i], cfg, p, now); err != nil {
			result.Failures = append(result.Failures, apperr.RowError{Index: i, Reason: apartments[i].ID + ": " + err.Error()})
			continue
		}
		result.Computed++
	}
	return result, nil
}

func (s *BillService) compute(ctx context.Context, apt *masterdata.Apartment, cfg *billing.FeeConfiguration, p billing.Period, now time.Time) (*billing.Bill, error) {
	subs, err := s.submissions.List(ctx, billing.SubmissionFilter{ApartmentID: apt.ID, Period: p})
	if err != nil {
		return nil, errors.Wrap(err, "list submissions")
	}
	charges := Charges(cfg, subs)

	preDebt, err := s.preDebt(ctx, apt.ID, p)
	if err != nil {
		return nil, err
	}

	bill, err := s.bills.Get(ctx, apt.ID, p)
	if err != nil {
		return nil, errors.Wrap(err, "load bill")
	}
	if bill == nil {
		bill = billing.NewBill(apt.ID, apt.OwnerName, p, now)
	}
	bill.OwnerName = apt.OwnerName
	if err := bill.Recompute(charges, preDebt, cfg.ID, p.DueDate(s.opts.dueDay), now); err != nil {
		return nil, err
	}
	if err := s.bills.Save(ctx, bill); err != nil {
		return nil, errors.Wrap(err, "save bill")
	}
	return bill, nil
}

// Charges buckets unit_cost x units per category. Without any submission the
// default number_of_units of every service applies; once the apartment has
// submitted, services it did not report count zero.
func Charges(cfg *billing.FeeConfiguration, subs []billing.ConsumptionSubmission) map[billing.Category]decimal.Decimal {
	readings := billing.LatestReadings(subs)
	charges := make(map[billing.Category]decimal.Decimal, len(billing.Categories))
	for _, svc := range cfg.Services {
		units, ok := readings[billing.ServiceKey(svc.Name)]
		if !ok && len(subs) == 0 {
			units = svc.DefaultUnits()
		}
		charges[svc.Category] = charges[svc.Category].Add(svc.UnitCost.Mul(units))
	}
	return charges
}

// preDebt is the unpaid balance of the immediately preceding period's bill.
func (s *BillService) preDebt(ctx context.Context, aptID string, p billing.Period) (decimal.Decimal, error) {
	prev, err := s.bills.Get(ctx, aptID, p.Previous())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "load previous bill")
	}
	if prev == nil || prev.Paid {
		return decimal.Zero, nil
	}
	balance := prev.Balance()
	if !balance.IsPositive() {
		return decimal.Zero, nil
	}
	return balance, nil
}

// activeConfig returns the period's active configuration, falling back to the
// active unscoped one.
func (s *BillService) activeConfig(ctx context.Context, p billing.Period) (*billing.FeeConfiguration, error) {
	cfg, err := s.configs.FindActive(ctx, string(p))
	if err != nil {
		return nil, errors.Wrap(err, "find active configuration")
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg, err = s.configs.FindActive(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "find unscoped configuration")
	}
	if cfg == nil {
		return nil, errors.Wrapf(billing.ErrNoActiveConfig, "period %s", p)
	}
	return cfg, nil
}

// MarkPaid settles a bill in full.
func (s *BillService) MarkPaid(ctx context.Context, aptID, period, method string) (*billing.Bill, error) {
	return s.mutate(ctx, "mark_paid", aptID, period, func(b *billing.Bill, now time.Time) error {
		return b.MarkPaid(method, now)
	})
}

// RecordPayment adds a partial or final payment.
func (s *BillService) RecordPayment(ctx context.Context, aptID, period string, amount decimal.Decimal, method string) (*billing.Bill, error) {
	return s.mutate(ctx, "record_payment", aptID, period, func(b *billing.Bill, now time.Time) error {
		return b.RecordPayment(amount, method, now)
	})
}

// AddLateFee adds a late fee to the stored bill.
func (s *BillService) AddLateFee(ctx context.Context, aptID, period string, amount decimal.Decimal) (*billing.Bill, error) {
	return s.mutate(ctx, "add_late_fee", aptID, period, func(b *billing.Bill, now time.Time) error {
		return b.AddLateFee(amount, now)
	})
}

// ApplyDiscount applies a discount to the stored bill.
func (s *BillService) ApplyDiscount(ctx context.Context, aptID, period string, amount decimal.Decimal) (*billing.Bill, error) {
	return s.mutate(ctx, "apply_discount", aptID, period, func(b *billing.Bill, now time.Time) error {
		return b.ApplyDiscount(amount, now)
	})
}

// SendReminder counts a reminder and hands delivery to the notifier. A failed
// delivery is logged; the counted reminder stays.
func (s *BillService) SendReminder(ctx context.Context, aptID, period string) (*billing.Bill, error) {
	bill, err := s.mutate(ctx, "send_reminder", aptID, period, func(b *billing.Bill, now time.Time) error {
		return b.Remind(now)
	})
	if err != nil || s.notifier == nil {
		return bill, err
	}
	apt, err := s.apartments.Get(ctx, bill.ApartmentID)
	if err != nil || apt == nil {
		s.opts.logger.WithError(err).WithField("apt_id", bill.ApartmentID).Warn("reminder recipient lookup failed")
		return bill, nil
	}
	if err := s.notifier.BillReminder(ctx, *apt, bill); err != nil {
		s.opts.logger.WithError(err).WithFields(logrus.Fields{
			"apt_id": bill.ApartmentID,
			"period": bill.Period,
		}).Warn("reminder delivery failed")
	}
	return bill, nil
}

func (s *BillService) mutate(ctx context.Context, operation, aptID, period string, fn func(*billing.Bill, time.Time) error) (bill *billing.Bill, err error) {
	defer observe(operation, time.Now(), &err)

	bill, err = s.GetBill(ctx, aptID, period)
	if err != nil {
		return nil, err
	}
	if err := fn(bill, s.opts.now()); err != nil {
		return nil, err
	}
	if err := s.bills.Save(ctx, bill); err != nil {
		return nil, errors.Wrap(err, "save bill")
	}
	return bill, nil
}

// GetBill loads one bill.
func (s *BillService) GetBill(ctx context.Context, aptID, period string) (*billing.Bill, error) {
	id, err := masterdata.NormalizeApartmentID(aptID)
	if err != nil {
		return nil, err
	}
	p, err := billing.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	bill, err := s.bills.Get(ctx, id, p)
	if err != nil {
		return nil, errors.Wrap(err, "load bill")
	}
	if bill == nil {
		return nil, errors.Wrapf(billing.ErrBillNotFound, "%s/%s", id, p)
	}
	return bill, nil
}

// BillQuery are the list filters accepted from callers.
type BillQuery struct {
	ApartmentID string
	Owner       string
	Period      string
	Status      string
	Offset      int
	Limit       int
}

// BillPage is one page of bills.
type BillPage struct {
	Items  []billing.BillView `json:"items"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

// ListBills returns a filtered page of bills.
func (s *BillService) ListBills(ctx context.Context, q BillQuery) (*BillPage, error) {
	now := s.opts.now()
	filter := billing.BillFilter{
		Owner:  strings.TrimSpace(q.Owner),
		Status: strings.ToLower(strings.TrimSpace(q.Status)),
		Now:    now,
		Offset: q.Offset,
		Limit:  q.Limit,
	}
	if q.ApartmentID != "" {
		id, err := masterdata.NormalizeApartmentID(q.ApartmentID)
		if err != nil {
			return nil, err
		}
		filter.ApartmentID = id
	}
	if q.Period != "" {
		p, err := billing.ParsePeriod(q.Period)
		if err != nil {
			return nil, err
		}
		filter.Period = p
	}
	if filter.Status != "" && !billing.ValidBillStatus(filter.Status) {
		return nil, apperr.Validation("unknown status %q", q.Status)
	}
	bills, total, err := s.bills.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list bills")
	}
	items := make([]billing.BillView, 0, len(bills))
	for _, b := range bills {
		items = append(items, b.View(now))
	}
	return &BillPage{Items: items, Total: total, Offset: q.Offset, Limit: q.Limit}, nil
}

// Now exposes the service clock so views rendered elsewhere agree with it.
func (s *BillService) Now() time.Time {
	return s.opts.now()
}

func (s *BillService) apartment(ctx context.Context, aptID string) (*masterdata.Apartment, error) {
	id, err := masterdata.NormalizeApartmentID(aptID)
	if err != nil {
		return nil, err
	}
	apt, err := s.apartments.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load apartment")
	}
	if apt == nil {
		return nil, errors.Wrapf(billing.ErrApartmentNotFound, "apartment %s", id)
	}
	return apt, nil
}
