package interfaces

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/observability/metrics"
)

// BillHandler handles bill computation, adjustment and export APIs.
type BillHandler struct {
	bills    *application.BillService
	audit    *audit.Recorder
	currency string
}

// NewBillHandler constructs a handler.
func NewBillHandler(bills *application.BillService, recorder *audit.Recorder, currency string) (*BillHandler, error) {
	if bills == nil {
		return nil, errors.New("bill handler: nil bill service")
	}
	if currency == "" {
		currency = "VND"
	}
	return &BillHandler{bills: bills, audit: recorder, currency: currency}, nil
}

// Register mounts routes on the /api/v1 router.
func (h *BillHandler) Register(r *mux.Router) {
	r.HandleFunc("/bills", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/bills/compute", h.handleCompute).Methods(http.MethodPost)
	r.HandleFunc("/bills/compute-period", h.handleComputePeriod).Methods(http.MethodPost)
	r.HandleFunc("/bills/export.xlsx", h.handleExportXLSX).Methods(http.MethodGet)
	r.HandleFunc("/bills/export.csv", h.handleExportCSV).Methods(http.MethodGet)
	r.HandleFunc("/bills/{apt_id}/{period}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/bills/{apt_id}/{period}/invoice.pdf", h.handleInvoice).Methods(http.MethodGet)
	r.HandleFunc("/bills/{apt_id}/{period}/mark-paid", h.handleMarkPaid).Methods(http.MethodPost)
	r.HandleFunc("/bills/{apt_id}/{period}/payments", h.handlePayment).Methods(http.MethodPost)
	r.HandleFunc("/bills/{apt_id}/{period}/late-fee", h.handleLateFee).Methods(http.MethodPost)
	r.HandleFunc("/bills/{apt_id}/{period}/discount", h.handleDiscount).Methods(http.MethodPost)
	r.HandleFunc("/bills/{apt_id}/{period}/reminder", h.handleReminder).Methods(http.MethodPost)
}

type computeRequest struct {
	ApartmentID string `json:"apt_id" validate:"required,apt_id"`
	Period      string `json:"period"`
}

type computePeriodRequest struct {
	Period string `json:"period"`
}

type markPaidRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type amountRequest struct {
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string           `json:"payment_method"`
}

func (h *BillHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := apihttp.ParsePage(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	aptID, err := auth.ScopedApartmentID(r.Context(), q.Get("apt_id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	result, err := h.bills.ListBills(r.Context(), application.BillQuery{
		ApartmentID: aptID,
		Owner:       q.Get("owner"),
		Period:      q.Get("period"),
		Status:      q.Get("status"),
		Offset:      page.Offset,
		Limit:       page.Limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
}

func (h *BillHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	bill, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bill.View(h.bills.Now()))
}

func (h *BillHandler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	bill, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	start := time.Now()
	data, err := BuildInvoicePDF(bill.View(h.bills.Now()), h.currency)
	metrics.ObserveExport("pdf", metrics.ResultOf(err), time.Since(start))
	if err != nil {
		apihttp.WriteError(w, errors.Wrap(err, "render invoice"))
		return
	}
	apihttp.WriteFile(w, "application/pdf", "invoice-"+bill.ApartmentID+"-"+string(bill.Period)+".pdf", data)
}

// loadOwned loads the bill named by the path after the ownership check.
func (h *BillHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*billing.Bill, bool) {
	vars := mux.Vars(r)
	if err := auth.EnsureApartmentAccess(r.Context(), vars["apt_id"]); err != nil {
		apihttp.WriteError(w, err)
		return nil, false
	}
	bill, err := h.bills.GetBill(r.Context(), vars["apt_id"], vars["period"])
	if err != nil {
		apihttp.WriteError(w, err)
		return nil, false
	}
	return bill, true
}

func (h *BillHandler) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	bill, err := h.bills.ComputeBill(r.Context(), req.ApartmentID, req.Period)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bill.View(h.bills.Now()))
	h.record(r, "bill.compute", bill, map[string]any{"total": bill.Total()})
}

func (h *BillHandler) handleComputePeriod(w http.ResponseWriter, r *http.Request) {
	var req computePeriodRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	result, err := h.bills.ComputePeriod(r.Context(), req.Period)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
	h.audit.Record(r, "bill.compute_period", "bill", string(result.Period), "", map[string]any{
		"computed": result.Computed,
		"failures": len(result.Failures),
	})
}

func (h *BillHandler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	vars := mux.Vars(r)
	bill, err := h.bills.MarkPaid(r.Context(), vars["apt_id"], vars["period"], req.PaymentMethod)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bill.View(h.bills.Now()))
	h.record(r, "bill.mark_paid", bill, map[string]any{
		"payment_method": bill.PaymentMethod,
		"paid_amount":    bill.PaidAmount,
	})
}

func (h *BillHandler) handlePayment(w http.ResponseWriter, r *http.Request) {
	h.amountAction(w, r, "bill.payment", func(aptID, period string, req amountRequest) (*billing.Bill, error) {
		return h.bills.RecordPayment(r.Context(), aptID, period, *req.Amount, req.PaymentMethod)
	})
}

func (h *BillHandler) handleLateFee(w http.ResponseWriter, r *http.Request) {
	h.amountAction(w, r, "bill.late_fee", func(aptID, period string, req amountRequest) (*billing.Bill, error) {
		return h.bills.AddLateFee(r.Context(), aptID, period, *req.Amount)
	})
}

func (h *BillHandler) handleDiscount(w http.ResponseWriter, r *http.Request) {
	h.amountAction(w, r, "bill.discount", func(aptID, period string, req amountRequest) (*billing.Bill, error) {
		return h.bills.ApplyDiscount(r.Context(), aptID, period, *req.Amount)
	})
}

func (h *BillHandler) amountAction(w http.ResponseWriter, r *http.Request, action string, fn func(aptID, period string, req amountRequest) (*billing.Bill, error)) {
	var req amountRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	vars := mux.Vars(r)
	bill, err := fn(vars["apt_id"], vars["period"], req)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bill.View(h.bills.Now()))
	h.record(r, action, bill, map[string]any{"amount": req.Amount})
}

func (h *BillHandler) handleReminder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bill, err := h.bills.SendReminder(r.Context(), vars["apt_id"], vars["period"])
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, bill.View(h.bills.Now()))
	h.record(r, "bill.reminder", bill, map[string]any{"reminder_count": bill.ReminderCount})
}

func (h *BillHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	period, bills, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	start := time.Now()
	data, err := BuildBillsXLSX(period, bills)
	metrics.ObserveExport("xlsx", metrics.ResultOf(err), time.Since(start))
	if err != nil {
		apihttp.WriteError(w, errors.Wrap(err, "render xlsx"))
		return
	}
	apihttp.WriteFile(w, contentTypeXLSX, "bills-"+string(period)+".xlsx", data)
}

func (h *BillHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	period, bills, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	start := time.Now()
	data, err := BuildBillsCSV(bills)
	metrics.ObserveExport("csv", metrics.ResultOf(err), time.Since(start))
	if err != nil {
		apihttp.WriteError(w, errors.Wrap(err, "render csv"))
		return
	}
	apihttp.WriteFile(w, "text/csv; charset=utf-8", "bills-"+string(period)+".csv", data)
}

// exportRows lists every bill of the requested period, the current one by default.
func (h *BillHandler) exportRows(w http.ResponseWriter, r *http.Request) (billing.Period, []billing.BillView, bool) {
	period, err := billing.ParsePeriodOrCurrent(r.URL.Query().Get("period"), h.bills.Now())
	if err != nil {
		apihttp.WriteError(w, err)
		return "", nil, false
	}
	page, err := h.bills.ListBills(r.Context(), application.BillQuery{Period: string(period)})
	if err != nil {
		apihttp.WriteError(w, err)
		return "", nil, false
	}
	return period, page.Items, true
}

func (h *BillHandler) record(r *http.Request, action string, bill *billing.Bill, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["period"] = bill.Period
	h.audit.Record(r, action, "bill", bill.ApartmentID+"/"+string(bill.Period), bill.ApartmentID, meta)
}
