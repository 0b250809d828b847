package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"residence-cloud/internal/audit"
	billing "residence-cloud/internal/billing/domain"
	billingpg "residence-cloud/internal/billing/infrastructure/postgres"
	masterdata "residence-cloud/internal/masterdata/domain"
	masterpg "residence-cloud/internal/masterdata/infrastructure/postgres"
	"residence-cloud/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, migrations.Apply(ctx, db))
	for _, table := range []string{"bills", "consumption_submissions", "fee_configurations", "audit_logs", "apartments"} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func TestPostgres_FeeConfigActiveUniqueness(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	repo := billingpg.NewFeeConfigRepository(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	units := decimal.NewFromInt(100)

	first := &billing.FeeConfiguration{
		ID:     "cfg-1",
		Status: billing.ConfigStatusActive,
		Services: []billing.Service{
			{Name: "Điện", Category: billing.CategoryElectric, UnitCost: decimal.NewFromInt(3500), Unit: "kWh", NumberOfUnits: &units},
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}
	require.NoError(t, repo.Save(ctx, first))

	second := first.Clone()
	second.ID = "cfg-2"
	err := repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrActiveConfigExists))

	scoped := first.Clone()
	scoped.ID = "cfg-3"
	scoped.Period = "2025-01"
	require.NoError(t, repo.Save(ctx, scoped))

	active, err := repo.FindActive(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "cfg-1", active.ID)
	require.Len(t, active.Services, 1)
	assert.Equal(t, "3500", active.Services[0].UnitCost.String())
	assert.Equal(t, "100", active.Services[0].DefaultUnits().String())

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.True(t, errors.Is(repo.Delete(ctx, "nope"), billing.ErrConfigNotFound))
}

func TestPostgres_SubmissionBatchAndBills(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	subs := billingpg.NewSubmissionRepository(db)
	require.NoError(t, subs.AppendBatch(ctx, []*billing.ConsumptionSubmission{
		{ID: "sub-1", ApartmentID: "A101", Period: "2025-01", Readings: []billing.UnitReading{{Name: "Điện", Units: decimal.NewFromInt(100)}}, CreatedAt: now},
		{ID: "sub-2", ApartmentID: "A101", Period: "2025-01", Readings: []billing.UnitReading{{Name: "Điện", Units: decimal.NewFromInt(120)}}, CreatedAt: now.Add(time.Minute)},
	}))
	listed, err := subs.List(ctx, billing.SubmissionFilter{ApartmentID: "A101", Period: "2025-01"})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "120", billing.LatestReadings(listed)["điện"].String())

	bills := billingpg.NewBillRepository(db)
	latest, err := bills.LatestPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Period(""), latest)

	unpaid := billing.NewBill("A101", "Nguyen Van A", "2025-01", now)
	unpaid.Electric = decimal.NewFromInt(350000)
	unpaid.DueDate = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, bills.Save(ctx, unpaid))

	paid := billing.NewBill("B1203", "Tran Thi B", "2025-01", now)
	paid.Water = decimal.NewFromInt(400000)
	paid.Paid = true
	paid.PaidAt = &now
	paid.PaymentMethod = "cash"
	require.NoError(t, bills.Save(ctx, paid))

	older := billing.NewBill("A101", "Nguyen Van A", "2024-12", now)
	older.Service = decimal.NewFromInt(50000)
	older.DueDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, bills.Save(ctx, older))

	latest, err = bills.LatestPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.Period("2025-01"), latest)

	got, err := bills.Get(ctx, "A101", "2025-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "350000", got.Total().String())

	items, total, err := bills.List(ctx, billing.BillFilter{Period: "2025-01", Status: billing.BillStatusPaid, Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "B1203", items[0].ApartmentID)

	items, total, err = bills.List(ctx, billing.BillFilter{Status: billing.BillStatusOverdue, Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, billing.Period("2024-12"), items[0].Period)

	items, total, err = bills.List(ctx, billing.BillFilter{Now: now, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, billing.Period("2025-01"), items[0].Period)
	assert.Equal(t, "A101", items[0].ApartmentID)
}

func TestPostgres_ApartmentsAndActivity(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	apartments := masterpg.NewApartmentRepository(db)
	require.NoError(t, apartments.Save(ctx, &masterdata.Apartment{ID: "B1203", OwnerName: "Tran Thi B", Floor: 12, Block: "B"}))
	apt, err := apartments.Get(ctx, "B1203")
	require.NoError(t, err)
	require.NotNil(t, apt)
	assert.Equal(t, 12, apt.Floor)

	removed, err := apartments.Delete(ctx, "B1203")
	require.NoError(t, err)
	assert.True(t, removed)

	store := audit.NewRepository(db)
	require.NoError(t, store.Log(ctx, audit.Entry{Actor: "admin", Action: "bill.mark_paid", ResourceType: "bill", ApartmentID: "A101"}))
	entries, total, err := store.List(ctx, audit.Query{ApartmentID: "A101", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "bill.mark_paid", entries[0].Action)
}
