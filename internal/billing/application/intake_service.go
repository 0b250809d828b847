package application

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"residence-cloud/internal/apperr"
	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
	"residence-cloud/internal/observability/metrics"
)

// UnitRow is one normalized bulk row: an apartment's readings for a period.
// Index points at the source row the row was built from. Rows grouped from
// several long-format records list every contributing record in Sources.
type UnitRow struct {
	Index       int                   `json:"index"`
	Sources     []int                 `json:"-"`
	ApartmentID string                `json:"apt_id"`
	Period      string                `json:"period"`
	Readings    []billing.UnitReading `json:"units"`
}

func (r UnitRow) sourceRows() []int {
	if len(r.Sources) == 0 {
		return []int{r.Index}
	}
	return r.Sources
}

// IntakeService records consumption submissions.
type IntakeService struct {
	repo       billing.SubmissionRepository
	apartments ApartmentDirectory
	opts       options
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(repo billing.SubmissionRepository, apartments ApartmentDirectory, opts ...Option) (*IntakeService, error) {
	if repo == nil {
		return nil, errors.New("intake service: nil repo")
	}
	if apartments == nil {
		return nil, errors.New("intake service: nil apartment directory")
	}
	return &IntakeService{repo: repo, apartments: apartments, opts: applyOptions(opts)}, nil
}

// SubmitUnits records readings for one apartment. period defaults to the current month.
func (s *IntakeService) SubmitUnits(ctx context.Context, aptID, period string, readings []billing.UnitReading, submittedBy string) (sub *billing.ConsumptionSubmission, err error) {
	defer observe("submit_units", time.Now(), &err)

	sub, err = s.build(ctx, UnitRow{ApartmentID: aptID, Period: period, Readings: readings}, submittedBy)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Append(ctx, sub); err != nil {
		return nil, errors.Wrap(err, "append submission")
	}
	metrics.AddIntakeRows(metrics.IntakeAccepted, 1)
	return sub, nil
}

// SubmitBulk validates every row before writing any. A batch with one invalid
// row is rejected in full with a BulkError listing every invalid row.
func (s *IntakeService) SubmitBulk(ctx context.Context, rows []UnitRow, submittedBy string) (subs []*billing.ConsumptionSubmission, err error) {
	defer observe("submit_bulk", time.Now(), &err)

	if len(rows) == 0 {
		return nil, apperr.Validation("bulk submission has no rows")
	}
	var rowErrs []apperr.RowError
	subs = make([]*billing.ConsumptionSubmission, 0, len(rows))
	for _, row := range rows {
		sub, err := s.build(ctx, row, submittedBy)
		if err != nil {
			if !errors.Is(err, apperr.ErrValidation) && !errors.Is(err, apperr.ErrNotFound) {
				return nil, err
			}
			for _, index := range row.sourceRows() {
				rowErrs = append(rowErrs, apperr.RowError{Index: index, Reason: err.Error()})
			}
			continue
		}
		subs = append(subs, sub)
	}
	if len(rowErrs) > 0 {
		sort.SliceStable(rowErrs, func(i, j int) bool { return rowErrs[i].Index < rowErrs[j].Index })
		metrics.AddIntakeRows(metrics.IntakeRejected, len(rows))
		return nil, &apperr.BulkError{Rows: rowErrs}
	}
	if err := s.repo.AppendBatch(ctx, subs); err != nil {
		return nil, errors.Wrap(err, "append submission batch")
	}
	metrics.AddIntakeRows(metrics.IntakeAccepted, len(rows))
	return subs, nil
}

// List returns recorded submissions, optionally narrowed by apartment and period.
func (s *IntakeService) List(ctx context.Context, aptID, period string) ([]billing.ConsumptionSubmission, error) {
	filter := billing.SubmissionFilter{}
	if aptID != "" {
		id, err := masterdata.NormalizeApartmentID(aptID)
		if err != nil {
			return nil, err
		}
		filter.ApartmentID = id
	}
	if period != "" {
		p, err := billing.ParsePeriod(period)
		if err != nil {
			return nil, err
		}
		filter.Period = p
	}
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list submissions")
	}
	return list, nil
}

func (s *IntakeService) build(ctx context.Context, row UnitRow, submittedBy string) (*billing.ConsumptionSubmission, error) {
	aptID, err := masterdata.NormalizeApartmentID(row.ApartmentID)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	period, err := billing.ParsePeriodOrCurrent(row.Period, now)
	if err != nil {
		return nil, err
	}
	readings, err := billing.ValidateReadings(row.Readings)
	if err != nil {
		return nil, err
	}
	apt, err := s.apartments.Get(ctx, aptID)
	if err != nil {
		return nil, errors.Wrap(err, "load apartment")
	}
	if apt == nil {
		return nil, errors.Wrapf(billing.ErrApartmentNotFound, "apartment %s", aptID)
	}
	return &billing.ConsumptionSubmission{
		ID:          uuid.NewString(),
		ApartmentID: aptID,
		Period:      period,
		Readings:    readings,
		SubmittedBy: submittedBy,
		CreatedAt:   now,
	}, nil
}

var (
	aptColumns     = []string{"apt_id", "apartment", "apt", "căn hộ", "can ho"}
	periodColumns  = []string{"period", "kỳ", "ky"}
	serviceColumns = []string{"service", "name", "dịch vụ", "dich vu"}
	unitsColumns   = []string{"units", "quantity", "số lượng", "so luong"}
)

// NormalizeRows turns flat records into UnitRows. A record set is "long" when
// it has a service column and a units column (one row per apartment-service
// pair, grouped here by apartment and period); otherwise it is "wide" (one row
// per apartment, one column per service, blank cells skipped). Unparseable
// cells are reported per row in a BulkError.
func NormalizeRows(records []map[string]string) ([]UnitRow, error) {
	if len(records) == 0 {
		return nil, apperr.Validation("bulk submission has no rows")
	}
	if isLong(records) {
		return normalizeLong(records)
	}
	return normalizeWide(records)
}

func isLong(records []map[string]string) bool {
	return lo.SomeBy(records, func(rec map[string]string) bool {
		_, hasService := pick(rec, serviceColumns)
		_, hasUnits := pick(rec, unitsColumns)
		return hasService && hasUnits
	})
}

func normalizeWide(records []map[string]string) ([]UnitRow, error) {
	reserved := append(append([]string{}, aptColumns...), periodColumns...)
	var rowErrs []apperr.RowError
	rows := make([]UnitRow, 0, len(records))
	for i, rec := range records {
		aptID, _ := pick(rec, aptColumns)
		period, _ := pick(rec, periodColumns)
		row := UnitRow{Index: i, ApartmentID: aptID, Period: period}

		names := lo.Keys(rec)
		sort.Strings(names)
		bad := false
		for _, column := range names {
			name := strings.TrimSpace(column)
			if matchesAny(name, reserved) {
				continue
			}
			raw := strings.TrimSpace(rec[column])
			if raw == "" {
				continue
			}
			units, err := decimal.NewFromString(raw)
			if err != nil {
				rowErrs = append(rowErrs, apperr.RowError{Index: i, Reason: "service " + name + ": units " + raw + " is not a number"})
				bad = true
				break
			}
			row.Readings = append(row.Readings, billing.UnitReading{Name: name, Units: units})
		}
		if !bad {
			rows = append(rows, row)
		}
	}
	if len(rowErrs) > 0 {
		return nil, &apperr.BulkError{Rows: rowErrs}
	}
	return rows, nil
}

// normalizeLong checks each reading against its own record so a bad value is
// reported under the record it came from, then groups by apartment and period.
func normalizeLong(records []map[string]string) ([]UnitRow, error) {
	type groupKey struct{ apt, period string }
	var (
		rowErrs []apperr.RowError
		order   []groupKey
	)
	groups := make(map[groupKey]*UnitRow)
	seen := make(map[groupKey]map[string]struct{})
	for i, rec := range records {
		aptID, _ := pick(rec, aptColumns)
		period, _ := pick(rec, periodColumns)
		name, _ := pick(rec, serviceColumns)
		raw, _ := pick(rec, unitsColumns)

		units, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			rowErrs = append(rowErrs, apperr.RowError{Index: i, Reason: "units " + raw + " is not a number"})
			continue
		}
		reading := billing.UnitReading{Name: name, Units: units}
		if _, err := billing.ValidateReadings([]billing.UnitReading{reading}); err != nil {
			rowErrs = append(rowErrs, apperr.RowError{Index: i, Reason: err.Error()})
			continue
		}
		key := groupKey{apt: strings.ToUpper(strings.TrimSpace(aptID)), period: strings.TrimSpace(period)}
		group, ok := groups[key]
		if !ok {
			group = &UnitRow{Index: i, ApartmentID: aptID, Period: period}
			groups[key] = group
			seen[key] = make(map[string]struct{})
			order = append(order, key)
		}
		service := billing.ServiceKey(name)
		if _, dup := seen[key][service]; dup {
			rowErrs = append(rowErrs, apperr.RowError{Index: i, Reason: "service " + strings.TrimSpace(name) + ": duplicate reading"})
			continue
		}
		seen[key][service] = struct{}{}
		group.Sources = append(group.Sources, i)
		group.Readings = append(group.Readings, reading)
	}
	if len(rowErrs) > 0 {
		return nil, &apperr.BulkError{Rows: rowErrs}
	}
	return lo.Map(order, func(key groupKey, _ int) UnitRow { return *groups[key] }), nil
}

// pick returns the value of the first column matching an alias, ignoring case.
func pick(rec map[string]string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		for column, v := range rec {
			if strings.EqualFold(strings.TrimSpace(column), alias) {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

func matchesAny(column string, aliases []string) bool {
	return lo.ContainsBy(aliases, func(alias string) bool { return strings.EqualFold(column, alias) })
}
