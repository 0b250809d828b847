package application

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
)

// LedgerService answers debt questions from the bill table.
type LedgerService struct {
	bills billing.BillRepository
	opts  options
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(bills billing.BillRepository, opts ...Option) (*LedgerService, error) {
	if bills == nil {
		return nil, errors.New("ledger service: nil bill repo")
	}
	return &LedgerService{bills: bills, opts: applyOptions(opts)}, nil
}

// Outstanding is the unpaid balance of one period.
type Outstanding struct {
	Period      billing.Period  `json:"period"`
	UnpaidBills int             `json:"unpaid_bills"`
	Amount      decimal.Decimal `json:"amount"`
}

// TotalOutstanding sums the balance of unpaid bills in period, or in the latest
// billed period when period is empty.
func (s *LedgerService) TotalOutstanding(ctx context.Context, period string) (*Outstanding, error) {
	p, err := resolvePeriod(ctx, s.bills, period)
	if err != nil {
		return nil, err
	}
	out := &Outstanding{Period: p, Amount: decimal.Zero}
	if p == "" {
		return out, nil
	}
	bills, _, err := s.bills.List(ctx, billing.BillFilter{Period: p, Now: s.opts.now()})
	if err != nil {
		return nil, errors.Wrap(err, "list bills")
	}
	for _, b := range bills {
		if b.Paid {
			continue
		}
		out.UnpaidBills++
		out.Amount = out.Amount.Add(b.Balance())
	}
	return out, nil
}

// PaymentHistory returns every bill of the apartment, newest period first.
func (s *LedgerService) PaymentHistory(ctx context.Context, aptID string) ([]billing.BillView, error) {
	id, err := masterdata.NormalizeApartmentID(aptID)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	bills, _, err := s.bills.List(ctx, billing.BillFilter{ApartmentID: id, Now: now})
	if err != nil {
		return nil, errors.Wrap(err, "list bills")
	}
	out := make([]billing.BillView, 0, len(bills))
	for _, b := range bills {
		out = append(out, b.View(now))
	}
	return out, nil
}

func resolvePeriod(ctx context.Context, bills billing.BillRepository, period string) (billing.Period, error) {
	p, err := parseOptionalPeriod(period)
	if err != nil {
		return "", err
	}
	if p != "" {
		return p, nil
	}
	latest, err := bills.LatestPeriod(ctx)
	if err != nil {
		return "", errors.Wrap(err, "latest period")
	}
	return latest, nil
}
