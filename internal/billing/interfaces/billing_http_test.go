package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
	billingmem "residence-cloud/internal/billing/infrastructure/memory"
	masterdata "residence-cloud/internal/masterdata/domain"
	mastermem "residence-cloud/internal/masterdata/infrastructure/memory"
)

var testNow = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router *mux.Router
	audit  *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	apartments := mastermem.NewApartmentRepository()
	require.NoError(t, apartments.Save(ctx, &masterdata.Apartment{ID: "A101", OwnerName: "Nguyen Van A"}))
	require.NoError(t, apartments.Save(ctx, &masterdata.Apartment{ID: "B1203", OwnerName: "Tran Thi B"}))

	configs := billingmem.NewFeeConfigRepository()
	subs := billingmem.NewSubmissionRepository()
	bills := billingmem.NewBillRepository()
	clock := application.WithClock(func() time.Time { return testNow })
	resolver := billing.NewCategoryResolver(map[string]string{"điện": "electric", "nước": "water"})

	configSvc, err := application.NewConfigService(configs, apartments, nil, resolver, clock)
	require.NoError(t, err)
	intake, err := application.NewIntakeService(subs, apartments, clock)
	require.NoError(t, err)
	billSvc, err := application.NewBillService(bills, configs, subs, apartments, nil, clock)
	require.NoError(t, err)
	ledger, err := application.NewLedgerService(bills, clock)
	require.NoError(t, err)
	reports, err := application.NewReportService(bills, clock)
	require.NoError(t, err)

	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(store, nil)
	configHandler, err := NewFeeConfigHandler(configSvc, recorder)
	require.NoError(t, err)
	unitsHandler, err := NewUnitsHandler(intake, recorder)
	require.NoError(t, err)
	billHandler, err := NewBillHandler(billSvc, recorder, "VND")
	require.NoError(t, err)
	ledgerHandler, err := NewLedgerHandler(ledger, reports)
	require.NoError(t, err)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	configHandler.Register(api)
	unitsHandler.Register(api)
	billHandler.Register(api)
	ledgerHandler.Register(api)
	return &fixture{router: router, audit: store}
}

func (f *fixture) do(t *testing.T, ctx context.Context, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body).WithContext(ctx)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return f.do(t, context.Background(), method, path, contentTypeJSON, reader)
}

func (f *fixture) publishStandard(t *testing.T) {
	t.Helper()
	resp := f.doJSON(t, http.MethodPost, "/api/v1/fee-configs", `{"services":[
		{"name":"Điện","unit_cost":3500,"unit":"kWh","number_of_units":100},
		{"name":"Nước","unit_cost":"8000","unit":"m3","number_of_units":50}]}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var cfg billing.FeeConfiguration
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cfg))

	resp = f.doJSON(t, http.MethodPost, "/api/v1/fee-configs/"+cfg.ID+"/publish", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var result application.PublishResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, "750000", result.TotalAmount.String())

	resp = f.doJSON(t, http.MethodPost, "/api/v1/fee-configs/"+cfg.ID+"/publish", "")
	require.Equal(t, http.StatusConflict, resp.Code)
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) apihttp.ErrorResponse {
	t.Helper()
	var body apihttp.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestBillingHTTP_Flow(t *testing.T) {
	f := newFixture(t)
	f.publishStandard(t)

	resp := f.doJSON(t, http.MethodPost, "/api/v1/units", `{"apt_id":"A101","period":"2025-01","units":[{"name":"Điện","units":120}]}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/compute", `{"apt_id":"A101","period":"2025-01"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var view billing.BillView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "420000", view.Electric.String())
	assert.Equal(t, "420000", view.Total.String())
	assert.Equal(t, billing.BillStatusUnpaid, view.Status)

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/A101/2025-01/late-fee", `{"amount":-50}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, apihttp.ErrCodeValidation, decodeError(t, resp).Code)

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/A101/2025-01/late-fee", `{"amount":"30000"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.doJSON(t, http.MethodGet, "/api/v1/ledger/outstanding", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var out application.Outstanding
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "450000", out.Amount.String())

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/A101/2025-01/mark-paid", `{"payment_method":"cash"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.True(t, view.Paid)
	assert.Equal(t, billing.BillStatusPaid, view.Status)

	resp = f.doJSON(t, http.MethodGet, "/api/v1/ledger/outstanding?period=2025-01", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.True(t, out.Amount.IsZero())
	assert.Equal(t, 0, out.UnpaidBills)

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/A101/2025-01/reminder", "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = f.doJSON(t, http.MethodGet, "/api/v1/bills/C999/2025-01", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	entries, total, err := f.audit.List(context.Background(), audit.Query{ResourceType: "bill"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NotEmpty(t, entries)
}

func TestBillingHTTP_ComputeWithoutConfig(t *testing.T) {
	f := newFixture(t)
	resp := f.doJSON(t, http.MethodPost, "/api/v1/bills/compute", `{"apt_id":"A101","period":"2025-01"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = f.doJSON(t, http.MethodPost, "/api/v1/bills/compute", `{"apt_id":"1A","period":"2025-01"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBillingHTTP_BulkCSVAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.publishStandard(t)

	csv := "apt_id,period,Điện,Nước\nA101,2025-01,120,7\nB1203,2025-01,-3,2\n"
	resp := f.do(t, context.Background(), http.MethodPost, "/api/v1/units/bulk", "text/csv", strings.NewReader(csv))
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
	body := decodeError(t, resp)
	details, ok := body.Details.([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, float64(1), details[0].(map[string]any)["index"])

	resp = f.doJSON(t, http.MethodGet, "/api/v1/units", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	csv = "apt_id,period,service,units\nA101,2025-01,Điện,120\nA101,2025-01,Nước,7\nB1203,2025-01,Nước,2\n"
	resp = f.do(t, context.Background(), http.MethodPost, "/api/v1/units/bulk", "text/csv; charset=utf-8", strings.NewReader(csv))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var bulk bulkResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bulk))
	assert.Equal(t, 2, bulk.Accepted)
}

func TestBillingHTTP_BulkXLSX(t *testing.T) {
	f := newFixture(t)

	book := excelize.NewFile()
	rows := [][]any{
		{"apt_id", "period", "Điện", "Nước"},
		{"A101", "2025-01", 120, 7},
		{"B1203", "2025-01", 80},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, book.Write(&buf))

	resp := f.do(t, context.Background(), http.MethodPost, "/api/v1/units/bulk", contentTypeXLSX, &buf)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var bulk bulkResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bulk))
	require.Equal(t, 2, bulk.Accepted)
	assert.Len(t, bulk.Submissions[0].Readings, 2)
	assert.Len(t, bulk.Submissions[1].Readings, 1)
}

func TestBillingHTTP_BulkJSON(t *testing.T) {
	f := newFixture(t)

	resp := f.doJSON(t, http.MethodPost, "/api/v1/units/bulk", `{"rows":[
		{"apt_id":"A101","period":"2025-01","units":[{"name":"Điện","units":120}]},
		{"apt_id":"B1203","period":"2025-01","units":[{"name":"Nước","units":3}]}]}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = f.doJSON(t, http.MethodPost, "/api/v1/units/bulk", `[
		{"apt_id":"A101","period":"2025-02","Điện":130},
		{"apt_id":"B1203","period":"2025-02","Điện":"abc"}]`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, context.Background(), http.MethodPost, "/api/v1/units/bulk", "application/xml", strings.NewReader("<rows/>"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBillingHTTP_ResidentScope(t *testing.T) {
	f := newFixture(t)
	f.publishStandard(t)
	resp := f.doJSON(t, http.MethodPost, "/api/v1/bills/compute-period", `{"period":"2025-01"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resident := auth.WithIdentity(context.Background(), "resident-1", auth.RoleUser, "a101")

	resp = f.do(t, resident, http.MethodGet, "/api/v1/bills/B1203/2025-01", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, resident, http.MethodGet, "/api/v1/bills/A101/2025-01", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, resident, http.MethodGet, "/api/v1/bills", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var page application.BillPage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "A101", page.Items[0].ApartmentID)

	resp = f.do(t, resident, http.MethodGet, "/api/v1/bills?apt_id=B1203", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, resident, http.MethodGet, "/api/v1/ledger/history/B1203", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, resident, http.MethodGet, "/api/v1/bills/B1203/2025-01/invoice.pdf", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	manager := auth.WithIdentity(context.Background(), "manager-1", auth.RoleManager, "")
	resp = f.do(t, manager, http.MethodGet, "/api/v1/bills?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
}

func TestBillingHTTP_ResidentSubmitsOwnUnits(t *testing.T) {
	f := newFixture(t)
	resident := auth.WithIdentity(context.Background(), "resident-1", auth.RoleUser, "a101")

	resp := f.do(t, resident, http.MethodPost, "/api/v1/units", contentTypeJSON,
		strings.NewReader(`{"apt_id":"B1203","period":"2025-01","units":[{"name":"Điện","units":40}]}`))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, resident, http.MethodPost, "/api/v1/units", contentTypeJSON,
		strings.NewReader(`{"apt_id":"A101","period":"2025-01","units":[{"name":"Điện","units":40}]}`))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var sub billing.ConsumptionSubmission
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sub))
	assert.Equal(t, "A101", sub.ApartmentID)
	assert.Equal(t, "resident-1", sub.SubmittedBy)

	resp = f.doJSON(t, http.MethodGet, "/api/v1/units?apt_id=B1203", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stored []billing.ConsumptionSubmission
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stored))
	assert.Empty(t, stored)
}

func TestBillingHTTP_Exports(t *testing.T) {
	f := newFixture(t)
	f.publishStandard(t)
	resp := f.doJSON(t, http.MethodPost, "/api/v1/bills/compute-period", `{"period":"2025-01"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.doJSON(t, http.MethodGet, "/api/v1/bills/export.csv?period=2025-01", "")
	require.Equal(t, http.StatusOK, resp.Code)
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "apt_id,owner_name,period,electric"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "bills-2025-01.csv")

	resp = f.doJSON(t, http.MethodGet, "/api/v1/bills/export.xlsx?period=2025-01", "")
	require.Equal(t, http.StatusOK, resp.Code)
	book, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
	require.NoError(t, err)
	rows, err := book.GetRows("bills")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Apartment", rows[0][0])
	count, err := book.GetCellValue("summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "2", count)

	resp = f.doJSON(t, http.MethodGet, "/api/v1/bills/A101/2025-01/invoice.pdf", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")))
}

func TestBillingHTTP_Reports(t *testing.T) {
	f := newFixture(t)
	f.publishStandard(t)
	for _, period := range []string{"2024-12", "2025-01"} {
		resp := f.doJSON(t, http.MethodPost, "/api/v1/bills/compute-period", `{"period":"`+period+`"}`)
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := f.doJSON(t, http.MethodGet, "/api/v1/reports/collection-rate?period=2025-01", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var collection application.Collection
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &collection))
	assert.Equal(t, 2, collection.TotalBills)
	require.NotNil(t, collection.Rate)
	assert.True(t, collection.Rate.IsZero())

	resp = f.doJSON(t, http.MethodGet, "/api/v1/reports/compare?a=2024-12&b=2025-01", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var cmp application.Comparison
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cmp))
	// January carries December's unpaid balance as pre_debt.
	assert.Equal(t, "1500000", cmp.TotalA.String())
	assert.Equal(t, "3000000", cmp.TotalB.String())

	for _, path := range []string{"/api/v1/reports/growth", "/api/v1/reports/fee-types", "/api/v1/reports/floors"} {
		resp = f.doJSON(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}

	resp = f.doJSON(t, http.MethodGet, "/api/v1/reports/compare?a=bad&b=2025-01", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
