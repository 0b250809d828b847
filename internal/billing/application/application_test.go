package application

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"residence-cloud/internal/apperr"
	billing "residence-cloud/internal/billing/domain"
	billingmem "residence-cloud/internal/billing/infrastructure/memory"
	masterdata "residence-cloud/internal/masterdata/domain"
	mastermem "residence-cloud/internal/masterdata/infrastructure/memory"
)

var testNow = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	published []string
	reminded  []string
	fail      error
}

func (f *fakeNotifier) ConfigPublished(_ context.Context, apt masterdata.Apartment, _ *billing.FeeConfiguration, _ decimal.Decimal) error {
	if f.fail != nil {
		return f.fail
	}
	f.published = append(f.published, apt.ID)
	return nil
}

func (f *fakeNotifier) BillReminder(_ context.Context, apt masterdata.Apartment, _ *billing.Bill) error {
	if f.fail != nil {
		return f.fail
	}
	f.reminded = append(f.reminded, apt.ID)
	return nil
}

type testEnv struct {
	apartments *mastermem.ApartmentRepository
	configs    *billingmem.FeeConfigRepository
	subs       *billingmem.SubmissionRepository
	bills      *billingmem.BillRepository
	notifier   *fakeNotifier
	configSvc  *ConfigService
	intake     *IntakeService
	billSvc    *BillService
	ledger     *LedgerService
	reports    *ReportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		apartments: mastermem.NewApartmentRepository(),
		configs:    billingmem.NewFeeConfigRepository(),
		subs:       billingmem.NewSubmissionRepository(),
		bills:      billingmem.NewBillRepository(),
		notifier:   &fakeNotifier{},
	}
	ctx := context.Background()
	require.NoError(t, env.apartments.Save(ctx, &masterdata.Apartment{ID: "A101", OwnerName: "Nguyen Van A"}))
	require.NoError(t, env.apartments.Save(ctx, &masterdata.Apartment{ID: "B1203", OwnerName: "Tran Thi B"}))

	clock := WithClock(func() time.Time { return testNow })
	resolver := billing.NewCategoryResolver(map[string]string{"điện": "electric", "nước": "water", "gửi xe": "vehicles"})

	var err error
	env.configSvc, err = NewConfigService(env.configs, env.apartments, env.notifier, resolver, clock)
	require.NoError(t, err)
	env.intake, err = NewIntakeService(env.subs, env.apartments, clock)
	require.NoError(t, err)
	env.billSvc, err = NewBillService(env.bills, env.configs, env.subs, env.apartments, env.notifier, clock, WithDueDay(10))
	require.NoError(t, err)
	env.ledger, err = NewLedgerService(env.bills, clock)
	require.NoError(t, err)
	env.reports, err = NewReportService(env.bills, clock)
	require.NoError(t, err)
	return env
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func standardServices() []billing.Service {
	return []billing.Service{
		{Name: "Điện", UnitCost: dec("3500"), Unit: "kWh", NumberOfUnits: decPtr("100")},
		{Name: "Nước", UnitCost: dec("8000"), Unit: "m³", NumberOfUnits: decPtr("50")},
	}
}

func (env *testEnv) publish(t *testing.T, period string, services []billing.Service) *PublishResult {
	t.Helper()
	ctx := context.Background()
	cfg, err := env.configSvc.Create(ctx, period, services)
	require.NoError(t, err)
	result, err := env.configSvc.Publish(ctx, cfg.ID)
	require.NoError(t, err)
	return result
}

func TestPublish_TotalFromDefaultUnits(t *testing.T) {
	env := newTestEnv(t)

	result := env.publish(t, "", standardServices())

	assertDec(t, "750000", result.TotalAmount)
	assert.Equal(t, 2, result.Notified)
	assert.ElementsMatch(t, []string{"A101", "B1203"}, env.notifier.published)
	assert.Equal(t, billing.ConfigStatusActive, result.Config.Status)
	assert.Equal(t, billing.CategoryElectric, result.Config.Services[0].Category)
	assert.Equal(t, billing.CategoryWater, result.Config.Services[1].Category)
}

func TestPublish_NotificationFailureKeepsActive(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.fail = errors.New("smtp down")

	result := env.publish(t, "2025-01", standardServices())

	assert.Equal(t, 0, result.Notified)
	active, err := env.configs.FindActive(context.Background(), "2025-01")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, result.Config.ID, active.ID)
}

func TestPublish_RejectsRepublishAndSecondActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	first := env.publish(t, "2025-01", standardServices())

	_, err := env.configSvc.Publish(ctx, first.Config.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	second, err := env.configSvc.Create(ctx, "2025-01", standardServices())
	require.NoError(t, err)
	_, err = env.configSvc.Publish(ctx, second.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrActiveConfigExists))

	// another period is independent
	other, err := env.configSvc.Create(ctx, "2025-02", standardServices())
	require.NoError(t, err)
	_, err = env.configSvc.Publish(ctx, other.ID)
	require.NoError(t, err)
}

func TestConfig_CreateUpdateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cfg, err := env.configSvc.Create(ctx, "2025-01", standardServices())
	require.NoError(t, err)
	updated := []billing.Service{
		{Name: "Gửi xe máy", UnitCost: dec("120000"), Unit: "xe", NumberOfUnits: decPtr("2")},
	}
	_, err = env.configSvc.Update(ctx, cfg.ID, "2025-01", updated)
	require.NoError(t, err)

	got, err := env.configSvc.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, got.Services, 1)
	assert.Equal(t, "Gửi xe máy", got.Services[0].Name)
	assert.Equal(t, billing.CategoryVehicles, got.Services[0].Category)
	assertDec(t, "120000", got.Services[0].UnitCost)
}

func TestConfig_MutationsOnlyWhileDraft(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	result := env.publish(t, "2025-01", standardServices())

	_, err := env.configSvc.Update(ctx, result.Config.ID, "2025-01", standardServices())
	assert.True(t, errors.Is(err, billing.ErrConfigNotDraft))
	err = env.configSvc.Delete(ctx, result.Config.ID)
	assert.True(t, errors.Is(err, billing.ErrConfigNotDraft))

	completed, err := env.configSvc.Complete(ctx, result.Config.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ConfigStatusCompleted, completed.Status)

	_, err = env.configSvc.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = env.configSvc.Create(ctx, "", nil)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestComputeBill_SubmittedUnits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	_, err := env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("120")}}, "tester")
	require.NoError(t, err)

	bill, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "420000", bill.Electric)
	assertDec(t, "0", bill.Water)
	assertDec(t, "0", bill.PreDebt)
	assertDec(t, "420000", bill.Total())
	assert.Equal(t, time.Date(2025, 2, 10, 23, 59, 59, 0, time.UTC), bill.DueDate)
	assert.Equal(t, "Nguyen Van A", bill.OwnerName)
}

func TestComputeBill_DefaultsWithoutSubmission(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	bill, err := env.billSvc.ComputeBill(context.Background(), "B1203", "2025-01")
	require.NoError(t, err)
	assertDec(t, "350000", bill.Electric)
	assertDec(t, "400000", bill.Water)
	assertDec(t, "750000", bill.Total())
}

func TestComputeBill_PreDebtFromUnpaidPreviousPeriod(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	prev := billing.NewBill("A101", "Nguyen Van A", "2024-12", testNow)
	prev.Electric = dec("100000")
	require.NoError(t, env.bills.Save(ctx, prev))

	_, err := env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("120")}}, "")
	require.NoError(t, err)

	bill, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "100000", bill.PreDebt)
	assertDec(t, "520000", bill.Total())

	prev.Paid = true
	prev.PaidAmount = prev.Total()
	require.NoError(t, env.bills.Save(ctx, prev))
	bill, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "0", bill.PreDebt)
}

func TestComputeBill_UnmappedServiceGoesToOther(t *testing.T) {
	env := newTestEnv(t)
	services := append(standardServices(), billing.Service{Name: "Internet", UnitCost: dec("200000"), Unit: "month", NumberOfUnits: decPtr("1")})
	env.publish(t, "", services)

	bill, err := env.billSvc.ComputeBill(context.Background(), "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "200000", bill.Other)
	assertDec(t, "950000", bill.Total())
}

func TestComputeBill_TotalMatchesFormula(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	services := []billing.Service{
		{Name: "Điện", UnitCost: dec("3500"), Unit: "kWh"},
		{Name: "Nước", UnitCost: dec("8000"), Unit: "m³"},
		{Name: "Gửi xe ô tô", UnitCost: dec("1200000"), Unit: "xe"},
		{Name: "Phí vệ sinh", UnitCost: dec("15000.5"), Unit: "người"},
	}
	env.publish(t, "2025-01", services)
	readings := []billing.UnitReading{
		{Name: "điện", Units: dec("87.5")},
		{Name: "NƯỚC", Units: dec("12")},
		{Name: "Gửi xe ô tô", Units: dec("1")},
		{Name: "Phí vệ sinh", Units: dec("3")},
		{Name: "Không có", Units: dec("99")},
	}
	_, err := env.intake.SubmitUnits(ctx, "A101", "2025-01", readings, "")
	require.NoError(t, err)

	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	_, err = env.billSvc.AddLateFee(ctx, "A101", "2025-01", dec("50000"))
	require.NoError(t, err)
	bill, err := env.billSvc.ApplyDiscount(ctx, "A101", "2025-01", dec("20000"))
	require.NoError(t, err)

	charges := dec("3500").Mul(dec("87.5")).
		Add(dec("8000").Mul(dec("12"))).
		Add(dec("1200000")).
		Add(dec("15000.5").Mul(dec("3")))
	assertDec(t, charges.Add(dec("50000")).Sub(dec("20000")).String(), bill.Total())

	// recompute keeps adjustments
	bill, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "50000", bill.LateFee)
	assertDec(t, "20000", bill.Discount)
}

func TestComputeBill_Failures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	assert.True(t, errors.Is(err, billing.ErrNoActiveConfig))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	env.publish(t, "", standardServices())
	_, err = env.billSvc.ComputeBill(ctx, "C999", "2025-01")
	assert.True(t, errors.Is(err, billing.ErrApartmentNotFound))

	_, err = env.billSvc.ComputeBill(ctx, "not-an-id", "2025-01")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	_, err = env.billSvc.MarkPaid(ctx, "A101", "2025-01", "cash")
	require.NoError(t, err)
	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	assert.True(t, errors.Is(err, billing.ErrBillPaid))
}

func TestComputeBill_PeriodConfigWinsOverUnscoped(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	env.publish(t, "2025-01", []billing.Service{{Name: "Điện", UnitCost: dec("4000"), Unit: "kWh", NumberOfUnits: decPtr("10")}})

	bill, err := env.billSvc.ComputeBill(context.Background(), "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "40000", bill.Total())
}

func TestAdjustments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	_, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)

	_, err = env.billSvc.AddLateFee(ctx, "A101", "2025-01", dec("-50"))
	assert.True(t, errors.Is(err, billing.ErrNonPositiveAmount))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = env.billSvc.ApplyDiscount(ctx, "A101", "2025-01", dec("0"))
	assert.True(t, errors.Is(err, billing.ErrNonPositiveAmount))

	_, err = env.billSvc.ApplyDiscount(ctx, "A101", "2025-01", dec("750001"))
	assert.True(t, errors.Is(err, billing.ErrNegativeTotal))

	bill, err := env.billSvc.ApplyDiscount(ctx, "A101", "2025-01", dec("750000"))
	require.NoError(t, err)
	assertDec(t, "0", bill.Total())

	_, err = env.billSvc.AddLateFee(ctx, "A101", "2024-11", dec("10"))
	assert.True(t, errors.Is(err, billing.ErrBillNotFound))
}

func TestMarkPaid_ExcludedFromOutstanding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	_, err := env.billSvc.ComputePeriod(ctx, "2025-01")
	require.NoError(t, err)

	out, err := env.ledger.TotalOutstanding(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, billing.Period("2025-01"), out.Period)
	assert.Equal(t, 2, out.UnpaidBills)
	assertDec(t, "1500000", out.Amount)

	bill, err := env.billSvc.MarkPaid(ctx, "A101", "2025-01", "bank_transfer")
	require.NoError(t, err)
	assert.True(t, bill.Paid)
	assertDec(t, "750000", bill.PaidAmount)
	assert.Equal(t, "bank_transfer", bill.PaymentMethod)
	require.NotNil(t, bill.PaidAt)

	out, err = env.ledger.TotalOutstanding(ctx, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, out.UnpaidBills)
	assertDec(t, "750000", out.Amount)

	_, err = env.billSvc.MarkPaid(ctx, "A101", "2025-01", "cash")
	assert.True(t, errors.Is(err, billing.ErrBillPaid))
}

func TestRecordPayment_PartialThenPaid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	_, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)

	bill, err := env.billSvc.RecordPayment(ctx, "A101", "2025-01", dec("250000"), "cash")
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPartial, bill.Status(testNow))
	assertDec(t, "500000", bill.Balance())

	_, err = env.billSvc.RecordPayment(ctx, "A101", "2025-01", dec("500001"), "cash")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bill, err = env.billSvc.RecordPayment(ctx, "A101", "2025-01", dec("500000"), "cash")
	require.NoError(t, err)
	assert.True(t, bill.Paid)
	assert.Equal(t, billing.BillStatusPaid, bill.Status(testNow))
}

func TestComputeBill_RecomputeRejectsNegativeTotal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	_, err := env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("120")}}, "")
	require.NoError(t, err)
	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	_, err = env.billSvc.ApplyDiscount(ctx, "A101", "2025-01", dec("400000"))
	require.NoError(t, err)

	_, err = env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("10")}}, "")
	require.NoError(t, err)
	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrNegativeTotal))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	stored, err := env.billSvc.GetBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "420000", stored.Electric)
	assertDec(t, "20000", stored.Total())

	outstanding, err := env.ledger.TotalOutstanding(ctx, "2025-01")
	require.NoError(t, err)
	assertDec(t, "20000", outstanding.Amount)
}

func TestComputeBill_RecomputeSettlesCoveredBill(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	_, err := env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("120")}}, "")
	require.NoError(t, err)
	_, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	bill, err := env.billSvc.RecordPayment(ctx, "A101", "2025-01", dec("400000"), "transfer")
	require.NoError(t, err)
	assert.Equal(t, billing.BillStatusPartial, bill.Status(testNow))

	_, err = env.intake.SubmitUnits(ctx, "A101", "2025-01", []billing.UnitReading{{Name: "Điện", Units: dec("10")}}, "")
	require.NoError(t, err)
	bill, err = env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assertDec(t, "35000", bill.Total())
	assert.True(t, bill.Paid)
	assertDec(t, "0", bill.Balance())
	assert.Equal(t, billing.BillStatusPaid, bill.Status(testNow))
	assert.Equal(t, "transfer", bill.PaymentMethod)

	outstanding, err := env.ledger.TotalOutstanding(ctx, "2025-01")
	require.NoError(t, err)
	assert.Zero(t, outstanding.UnpaidBills)
	assertDec(t, "0", outstanding.Amount)
}

func TestSendReminder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	_, err := env.billSvc.ComputeBill(ctx, "A101", "2025-01")
	require.NoError(t, err)

	bill, err := env.billSvc.SendReminder(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, bill.ReminderCount)
	assert.Equal(t, []string{"A101"}, env.notifier.reminded)

	env.notifier.fail = errors.New("webhook down")
	bill, err = env.billSvc.SendReminder(ctx, "A101", "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 2, bill.ReminderCount)

	_, err = env.billSvc.MarkPaid(ctx, "A101", "2025-01", "cash")
	require.NoError(t, err)
	_, err = env.billSvc.SendReminder(ctx, "A101", "2025-01")
	assert.True(t, errors.Is(err, billing.ErrBillPaid))
}

func TestListBills_Filters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())
	result, err := env.billSvc.ComputePeriod(ctx, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Computed)
	assert.Empty(t, result.Failures)
	_, err = env.billSvc.MarkPaid(ctx, "B1203", "2025-01", "cash")
	require.NoError(t, err)

	page, err := env.billSvc.ListBills(ctx, BillQuery{Owner: "van a"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "A101", page.Items[0].ApartmentID)

	page, err = env.billSvc.ListBills(ctx, BillQuery{Status: "PAID"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "B1203", page.Items[0].ApartmentID)

	page, err = env.billSvc.ListBills(ctx, BillQuery{Period: "2025-01", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	_, err = env.billSvc.ListBills(ctx, BillQuery{Status: "late"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestPaymentHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	for _, p := range []billing.Period{"2024-11", "2025-01", "2024-12"} {
		require.NoError(t, env.bills.Save(ctx, billing.NewBill("A101", "Nguyen Van A", p, testNow)))
	}
	require.NoError(t, env.bills.Save(ctx, billing.NewBill("B1203", "Tran Thi B", "2025-01", testNow)))

	history, err := env.ledger.PaymentHistory(ctx, "a101")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, billing.Period("2025-01"), history[0].Period)
	assert.Equal(t, billing.Period("2024-12"), history[1].Period)
	assert.Equal(t, billing.Period("2024-11"), history[2].Period)
}

func TestSubmitUnits_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.intake.SubmitUnits(ctx, "A101", "", nil, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = env.intake.SubmitUnits(ctx, "A101", "", []billing.UnitReading{{Name: "Điện", Units: dec("-1")}}, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = env.intake.SubmitUnits(ctx, "101", "", []billing.UnitReading{{Name: "Điện", Units: dec("1")}}, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = env.intake.SubmitUnits(ctx, "C999", "", []billing.UnitReading{{Name: "Điện", Units: dec("1")}}, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	sub, err := env.intake.SubmitUnits(ctx, "a101", "", []billing.UnitReading{{Name: "Điện", Units: dec("1")}}, "")
	require.NoError(t, err)
	assert.Equal(t, "A101", sub.ApartmentID)
	assert.Equal(t, billing.Period("2025-01"), sub.Period)
}

func TestSubmitBulk_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.publish(t, "", standardServices())

	rows, err := NormalizeRows([]map[string]string{
		{"apt_id": "A101", "period": "2025-01", "Điện": "120"},
		{"apt_id": "B1203", "period": "2025-01", "Điện": "-5"},
		{"apt_id": "X1", "period": "2025-01", "Điện": "3"},
	})
	require.NoError(t, err)

	_, err = env.intake.SubmitBulk(ctx, rows, "")
	require.Error(t, err)
	var bulk *apperr.BulkError
	require.True(t, errors.As(err, &bulk))
	require.Len(t, bulk.Rows, 2)
	assert.Equal(t, 1, bulk.Rows[0].Index)
	assert.Equal(t, 2, bulk.Rows[1].Index)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	subs, err := env.intake.List(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, subs)
	page, err := env.billSvc.ListBills(ctx, BillQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestNormalizeRows_WideAndLongAgree(t *testing.T) {
	wide, err := NormalizeRows([]map[string]string{
		{"Apt_ID": "A101", "Period": "2025-01", "Điện": "120", "Nước": "7"},
		{"Apt_ID": "B1203", "Period": "2025-01", "Điện": "80", "Nước": ""},
	})
	require.NoError(t, err)
	long, err := NormalizeRows([]map[string]string{
		{"apt_id": "A101", "period": "2025-01", "service": "Điện", "units": "120"},
		{"apt_id": "B1203", "period": "2025-01", "service": "Điện", "units": "80"},
		{"apt_id": "a101", "period": "2025-01", "service": "Nước", "units": "7"},
	})
	require.NoError(t, err)
	require.Len(t, wide, 2)
	require.Len(t, long, 2)

	for i := range wide {
		assert.Equal(t, wide[i].Period, long[i].Period)
		assert.Equal(t, billing.Period("2025-01"), billing.Period(wide[i].Period))
		assert.ElementsMatch(t, readingPairs(wide[i].Readings), readingPairs(long[i].Readings))
	}

	_, err = NormalizeRows([]map[string]string{{"apt_id": "A101", "Điện": "abc"}})
	var bulk *apperr.BulkError
	require.True(t, errors.As(err, &bulk))
	assert.Equal(t, 0, bulk.Rows[0].Index)
}

func TestNormalizeRows_LongReportsOffendingRecord(t *testing.T) {
	_, err := NormalizeRows([]map[string]string{
		{"apt_id": "A101", "period": "2025-01", "service": "Điện", "units": "120"},
		{"apt_id": "B1203", "period": "2025-01", "service": "Điện", "units": "50"},
		{"apt_id": "A101", "period": "2025-01", "service": "Nước", "units": "-5"},
		{"apt_id": "A101", "period": "2025-01", "service": "điện", "units": "3"},
	})
	require.Error(t, err)
	var bulk *apperr.BulkError
	require.True(t, errors.As(err, &bulk))
	require.Len(t, bulk.Rows, 2)
	assert.Equal(t, 2, bulk.Rows[0].Index)
	assert.Contains(t, bulk.Rows[0].Reason, "units must be >= 0")
	assert.Equal(t, 3, bulk.Rows[1].Index)
	assert.Contains(t, bulk.Rows[1].Reason, "duplicate")
}

func TestSubmitBulk_LongGroupErrorsNameEveryRecord(t *testing.T) {
	env := newTestEnv(t)
	rows, err := NormalizeRows([]map[string]string{
		{"apt_id": "A101", "period": "2025-01", "service": "Điện", "units": "120"},
		{"apt_id": "Z999", "period": "2025-01", "service": "Điện", "units": "10"},
		{"apt_id": "B1203", "period": "2025-01", "service": "Nước", "units": "4"},
		{"apt_id": "Z999", "period": "2025-01", "service": "Nước", "units": "2"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	_, err = env.intake.SubmitBulk(context.Background(), rows, "")
	var bulk *apperr.BulkError
	require.True(t, errors.As(err, &bulk))
	indexes := lo.Map(bulk.Rows, func(row apperr.RowError, _ int) int { return row.Index })
	assert.Equal(t, []int{1, 3}, indexes)
}

func readingPairs(readings []billing.UnitReading) []string {
	out := make([]string, 0, len(readings))
	for _, r := range readings {
		out = append(out, billing.ServiceKey(r.Name)+"="+r.Units.String())
	}
	return out
}

func TestSubmitBulk_MatchesIndividualSubmissions(t *testing.T) {
	ctx := context.Background()
	bulkEnv := newTestEnv(t)
	singleEnv := newTestEnv(t)
	bulkEnv.publish(t, "", standardServices())
	singleEnv.publish(t, "", standardServices())

	rows := []UnitRow{
		{Index: 0, ApartmentID: "A101", Period: "2025-01", Readings: []billing.UnitReading{{Name: "Điện", Units: dec("120")}, {Name: "Nước", Units: dec("9")}}},
		{Index: 1, ApartmentID: "B1203", Period: "2025-01", Readings: []billing.UnitReading{{Name: "Nước", Units: dec("4")}}},
	}
	_, err := bulkEnv.intake.SubmitBulk(ctx, rows, "")
	require.NoError(t, err)
	for _, row := range rows {
		_, err := singleEnv.intake.SubmitUnits(ctx, row.ApartmentID, row.Period, row.Readings, "")
		require.NoError(t, err)
	}

	for _, apt := range []string{"A101", "B1203"} {
		a, err := bulkEnv.billSvc.ComputeBill(ctx, apt, "2025-01")
		require.NoError(t, err)
		b, err := singleEnv.billSvc.ComputeBill(ctx, apt, "2025-01")
		require.NoError(t, err)
		assertDec(t, a.Total().String(), b.Total())
	}
}

func seedReportBills(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	save := func(apt string, p billing.Period, electric, water string, paid bool) {
		b := billing.NewBill(apt, "", p, testNow)
		b.Electric = dec(electric)
		b.Water = dec(water)
		if paid {
			b.Paid = true
			b.PaidAmount = b.Total()
		}
		require.NoError(t, env.bills.Save(ctx, b))
	}
	save("A101", "2024-12", "100", "0", false)
	save("B1203", "2024-12", "150", "50", true)
	save("A101", "2025-01", "120", "30", false)
	save("A102", "2025-01", "80", "20", true)
	save("B1203", "2025-01", "200", "50", false)
}

func TestReports_GrowthByMonth(t *testing.T) {
	env := newTestEnv(t)
	seedReportBills(t, env)

	points, err := env.reports.GrowthByMonth(context.Background(), "2024-12", "2025-01")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assertDec(t, "300", points[0].Total)
	assert.Nil(t, points[0].ChangePercent)
	assertDec(t, "500", points[1].Total)
	require.NotNil(t, points[1].ChangePercent)
	assertDec(t, "66.67", *points[1].ChangePercent)

	_, err = env.reports.GrowthByMonth(context.Background(), "2025-02", "2025-01")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestReports_GrowthComparesCalendarMonths(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	for _, p := range []billing.Period{"2025-01", "2025-03"} {
		b := billing.NewBill("A101", "", p, testNow)
		b.Electric = dec("100")
		require.NoError(t, env.bills.Save(ctx, b))
	}

	points, err := env.reports.GrowthByMonth(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, billing.Period("2025-02"), points[1].Period)
	assert.Zero(t, points[1].Bills)
	assertDec(t, "0", points[1].Total)
	require.NotNil(t, points[1].ChangePercent)
	assertDec(t, "-100", *points[1].ChangePercent)
	assert.Nil(t, points[2].ChangePercent)

	_, err = env.reports.GrowthByMonth(ctx, "2000-01", "2025-01")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	empty := newTestEnv(t)
	points, err = empty.reports.GrowthByMonth(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestReports_Breakdowns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedReportBills(t, env)

	fees, err := env.reports.BreakdownByFeeType(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, billing.Period("2025-01"), fees.Period)
	assert.Equal(t, 3, fees.Bills)
	assertDec(t, "400", fees.Electric)
	assertDec(t, "100", fees.Water)
	assertDec(t, "500", fees.Total)

	floors, err := env.reports.BreakdownByFloor(ctx, "2025-01")
	require.NoError(t, err)
	require.Len(t, floors, 2)
	assert.Equal(t, 1, floors[0].Floor)
	assert.Equal(t, 2, floors[0].Bills)
	assertDec(t, "250", floors[0].Total)
	assertDec(t, "100", floors[0].Paid)
	assertDec(t, "150", floors[0].Outstanding)
	assert.Equal(t, 12, floors[1].Floor)
	assertDec(t, "250", floors[1].Outstanding)
}

func TestReports_CollectionRate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	empty, err := env.reports.CollectionRate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty.Rate)

	seedReportBills(t, env)
	c, err := env.reports.CollectionRate(ctx, "2024-12")
	require.NoError(t, err)
	assert.Equal(t, 2, c.TotalBills)
	assert.Equal(t, 1, c.PaidBills)
	require.NotNil(t, c.Rate)
	assertDec(t, "50", *c.Rate)
	assertDec(t, "300", c.Billed)
	assertDec(t, "200", c.Collected)
	assertDec(t, "100", c.Outstanding)
}

func TestReports_ComparePeriods(t *testing.T) {
	env := newTestEnv(t)
	seedReportBills(t, env)

	cmp, err := env.reports.ComparePeriods(context.Background(), "2024-12", "2025-01")
	require.NoError(t, err)
	assertDec(t, "300", cmp.TotalA)
	assertDec(t, "500", cmp.TotalB)
	require.NotNil(t, cmp.ChangePercent)
	assertDec(t, "66.67", *cmp.ChangePercent)
	require.Len(t, cmp.Categories, len(billing.Categories))
	assert.Equal(t, billing.CategoryElectric, cmp.Categories[0].Category)
	assertDec(t, "60", *cmp.Categories[0].ChangePercent)
	assert.Nil(t, cmp.Categories[4].ChangePercent)

	_, err = env.reports.ComparePeriods(context.Background(), "", "2025-01")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
