package application

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"residence-cloud/internal/apperr"
	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
)

var hundred = decimal.NewFromInt(100)

// ReportService derives read-only summaries from bills.
type ReportService struct {
	bills billing.BillRepository
	opts  options
}

// NewReportService constructs a ReportService.
func NewReportService(bills billing.BillRepository, opts ...Option) (*ReportService, error) {
	if bills == nil {
		return nil, errors.New("report service: nil bill repo")
	}
	return &ReportService{bills: bills, opts: applyOptions(opts)}, nil
}

// GrowthPoint is the billed total of one period.
type GrowthPoint struct {
	Period        billing.Period   `json:"period"`
	Bills         int              `json:"bills"`
	Total         decimal.Decimal  `json:"total"`
	ChangePercent *decimal.Decimal `json:"change_percent"`
}

// maxGrowthMonths bounds the calendar range of a growth report.
const maxGrowthMonths = 240

// GrowthByMonth returns per-month totals between from and to inclusive, one
// point per calendar month, each with the percent change against the calendar
// month before it. Months without bills are reported with a zero total. An
// open bound defaults to the earliest or latest billed month.
func (s *ReportService) GrowthByMonth(ctx context.Context, from, to string) ([]GrowthPoint, error) {
	pf, err := parseOptionalPeriod(from)
	if err != nil {
		return nil, err
	}
	pt, err := parseOptionalPeriod(to)
	if err != nil {
		return nil, err
	}
	if pf != "" && pt != "" && pf > pt {
		return nil, apperr.Validation("from %s is after to %s", pf, pt)
	}
	bills, err := s.list(ctx, billing.BillFilter{PeriodFrom: pf, PeriodTo: pt})
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(bills, func(b *billing.Bill) billing.Period { return b.Period })
	periods := lo.Keys(grouped)
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	if pf == "" && len(periods) > 0 {
		pf = periods[0]
	}
	if pt == "" && len(periods) > 0 {
		pt = periods[len(periods)-1]
	}
	if pf == "" || pt == "" {
		return []GrowthPoint{}, nil
	}

	out := make([]GrowthPoint, 0, len(periods))
	for p := pf; p <= pt; p = p.Next() {
		if len(out) == maxGrowthMonths {
			return nil, apperr.Validation("growth range %s..%s exceeds %d months", pf, pt, maxGrowthMonths)
		}
		point := GrowthPoint{Period: p, Bills: len(grouped[p]), Total: sumTotals(grouped[p])}
		if len(out) > 0 {
			point.ChangePercent = percentChange(out[len(out)-1].Total, point.Total)
		}
		out = append(out, point)
	}
	return out, nil
}

// FeeTypeBreakdown sums every bill component of a period.
type FeeTypeBreakdown struct {
	Period   billing.Period  `json:"period"`
	Bills    int             `json:"bills"`
	Electric decimal.Decimal `json:"electric"`
	Water    decimal.Decimal `json:"water"`
	Service  decimal.Decimal `json:"service"`
	Vehicles decimal.Decimal `json:"vehicles"`
	Other    decimal.Decimal `json:"other"`
	PreDebt  decimal.Decimal `json:"pre_debt"`
	LateFee  decimal.Decimal `json:"late_fee"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// BreakdownByFeeType sums categories and adjustments for period (default: the
// latest billed period).
func (s *ReportService) BreakdownByFeeType(ctx context.Context, period string) (*FeeTypeBreakdown, error) {
	p, bills, err := s.periodBills(ctx, period)
	if err != nil {
		return nil, err
	}
	out := &FeeTypeBreakdown{Period: p, Bills: len(bills)}
	for _, b := range bills {
		out.Electric = out.Electric.Add(b.Electric)
		out.Water = out.Water.Add(b.Water)
		out.Service = out.Service.Add(b.Service)
		out.Vehicles = out.Vehicles.Add(b.Vehicles)
		out.Other = out.Other.Add(b.Other)
		out.PreDebt = out.PreDebt.Add(b.PreDebt)
		out.LateFee = out.LateFee.Add(b.LateFee)
		out.Discount = out.Discount.Add(b.Discount)
		out.Total = out.Total.Add(b.Total())
	}
	return out, nil
}

// FloorSummary aggregates the bills of one floor.
type FloorSummary struct {
	Floor       int             `json:"floor"`
	Bills       int             `json:"bills"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// BreakdownByFloor groups the bills of period by the floor encoded in the
// apartment id, ascending by floor.
func (s *ReportService) BreakdownByFloor(ctx context.Context, period string) ([]FloorSummary, error) {
	_, bills, err := s.periodBills(ctx, period)
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(bills, func(b *billing.Bill) int { return masterdata.FloorOf(b.ApartmentID) })
	floors := lo.Keys(grouped)
	sort.Ints(floors)

	out := make([]FloorSummary, 0, len(floors))
	for _, f := range floors {
		row := FloorSummary{Floor: f, Bills: len(grouped[f])}
		for _, b := range grouped[f] {
			row.Total = row.Total.Add(b.Total())
			row.Paid = row.Paid.Add(b.PaidAmount)
			row.Outstanding = row.Outstanding.Add(b.Balance())
		}
		out = append(out, row)
	}
	return out, nil
}

// Collection is the payment progress of one period.
type Collection struct {
	Period      billing.Period   `json:"period"`
	TotalBills  int              `json:"total_bills"`
	PaidBills   int              `json:"paid_bills"`
	Rate        *decimal.Decimal `json:"rate"`
	Billed      decimal.Decimal  `json:"billed"`
	Collected   decimal.Decimal  `json:"collected"`
	Outstanding decimal.Decimal  `json:"outstanding"`
}

// CollectionRate is paid bills / total bills x 100 for period. Rate is nil
// when the period has no bills.
func (s *ReportService) CollectionRate(ctx context.Context, period string) (*Collection, error) {
	p, bills, err := s.periodBills(ctx, period)
	if err != nil {
		return nil, err
	}
	out := &Collection{Period: p, TotalBills: len(bills)}
	out.PaidBills = lo.CountBy(bills, func(b *billing.Bill) bool { return b.Paid })
	for _, b := range bills {
		out.Billed = out.Billed.Add(b.Total())
		out.Collected = out.Collected.Add(b.PaidAmount)
		out.Outstanding = out.Outstanding.Add(b.Balance())
	}
	if out.TotalBills > 0 {
		rate := decimal.NewFromInt(int64(out.PaidBills)).Mul(hundred).
			Div(decimal.NewFromInt(int64(out.TotalBills))).Round(2)
		out.Rate = &rate
	}
	return out, nil
}

// CategoryDelta compares one bucket across two periods.
type CategoryDelta struct {
	Category      billing.Category `json:"category"`
	A             decimal.Decimal  `json:"a"`
	B             decimal.Decimal  `json:"b"`
	ChangePercent *decimal.Decimal `json:"change_percent"`
}

// Comparison compares two periods.
type Comparison struct {
	PeriodA       billing.Period   `json:"period_a"`
	PeriodB       billing.Period   `json:"period_b"`
	TotalA        decimal.Decimal  `json:"total_a"`
	TotalB        decimal.Decimal  `json:"total_b"`
	ChangePercent *decimal.Decimal `json:"change_percent"`
	Categories    []CategoryDelta  `json:"categories"`
}

// ComparePeriods reports totals and per-category values of a and b with the
// percent change from a to b.
func (s *ReportService) ComparePeriods(ctx context.Context, a, b string) (*Comparison, error) {
	pa, err := billing.ParsePeriod(a)
	if err != nil {
		return nil, err
	}
	pb, err := billing.ParsePeriod(b)
	if err != nil {
		return nil, err
	}
	billsA, err := s.list(ctx, billing.BillFilter{Period: pa})
	if err != nil {
		return nil, err
	}
	billsB, err := s.list(ctx, billing.BillFilter{Period: pb})
	if err != nil {
		return nil, err
	}
	out := &Comparison{
		PeriodA: pa,
		PeriodB: pb,
		TotalA:  sumTotals(billsA),
		TotalB:  sumTotals(billsB),
	}
	out.ChangePercent = percentChange(out.TotalA, out.TotalB)
	out.Categories = lo.Map(billing.Categories, func(c billing.Category, _ int) CategoryDelta {
		va, vb := sumBucket(billsA, c), sumBucket(billsB, c)
		return CategoryDelta{Category: c, A: va, B: vb, ChangePercent: percentChange(va, vb)}
	})
	return out, nil
}

func (s *ReportService) periodBills(ctx context.Context, period string) (billing.Period, []*billing.Bill, error) {
	p, err := resolvePeriod(ctx, s.bills, period)
	if err != nil {
		return "", nil, err
	}
	if p == "" {
		return "", nil, nil
	}
	bills, err := s.list(ctx, billing.BillFilter{Period: p})
	if err != nil {
		return "", nil, err
	}
	return p, bills, nil
}

func (s *ReportService) list(ctx context.Context, filter billing.BillFilter) ([]*billing.Bill, error) {
	filter.Now = s.opts.now()
	bills, _, err := s.bills.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list bills")
	}
	return bills, nil
}

func sumTotals(bills []*billing.Bill) decimal.Decimal {
	return lo.Reduce(bills, func(acc decimal.Decimal, b *billing.Bill, _ int) decimal.Decimal {
		return acc.Add(b.Total())
	}, decimal.Zero)
}

func sumBucket(bills []*billing.Bill, c billing.Category) decimal.Decimal {
	return lo.Reduce(bills, func(acc decimal.Decimal, b *billing.Bill, _ int) decimal.Decimal {
		return acc.Add(b.Bucket(c))
	}, decimal.Zero)
}

// percentChange is (to-from)/from x 100 rounded to 2 places, nil when from is zero.
func percentChange(from, to decimal.Decimal) *decimal.Decimal {
	if from.IsZero() {
		return nil
	}
	pct := to.Sub(from).Mul(hundred).Div(from).Round(2)
	return &pct
}
