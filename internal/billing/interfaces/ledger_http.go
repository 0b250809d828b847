package interfaces

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/auth"
	"residence-cloud/internal/billing/application"
)

// LedgerHandler serves the debt ledger and the read-only reports.
type LedgerHandler struct {
	ledger  *application.LedgerService
	reports *application.ReportService
}

// NewLedgerHandler constructs a handler.
func NewLedgerHandler(ledger *application.LedgerService, reports *application.ReportService) (*LedgerHandler, error) {
	if ledger == nil {
		return nil, errors.New("ledger handler: nil ledger service")
	}
	if reports == nil {
		return nil, errors.New("ledger handler: nil report service")
	}
	return &LedgerHandler{ledger: ledger, reports: reports}, nil
}

// Register mounts routes on the /api/v1 router.
func (h *LedgerHandler) Register(r *mux.Router) {
	r.HandleFunc("/ledger/outstanding", h.handleOutstanding).Methods(http.MethodGet)
	r.HandleFunc("/ledger/history/{apt_id}", h.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/reports/growth", h.handleGrowth).Methods(http.MethodGet)
	r.HandleFunc("/reports/fee-types", h.handleFeeTypes).Methods(http.MethodGet)
	r.HandleFunc("/reports/floors", h.handleFloors).Methods(http.MethodGet)
	r.HandleFunc("/reports/collection-rate", h.handleCollectionRate).Methods(http.MethodGet)
	r.HandleFunc("/reports/compare", h.handleCompare).Methods(http.MethodGet)
}

func (h *LedgerHandler) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	out, err := h.ledger.TotalOutstanding(r.Context(), r.URL.Query().Get("period"))
	respond(w, out, err)
}

func (h *LedgerHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	aptID := mux.Vars(r)["apt_id"]
	if err := auth.EnsureApartmentAccess(r.Context(), aptID); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	history, err := h.ledger.PaymentHistory(r.Context(), aptID)
	respond(w, history, err)
}

func (h *LedgerHandler) handleGrowth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := h.reports.GrowthByMonth(r.Context(), q.Get("from"), q.Get("to"))
	respond(w, points, err)
}

func (h *LedgerHandler) handleFeeTypes(w http.ResponseWriter, r *http.Request) {
	out, err := h.reports.BreakdownByFeeType(r.Context(), r.URL.Query().Get("period"))
	respond(w, out, err)
}

func (h *LedgerHandler) handleFloors(w http.ResponseWriter, r *http.Request) {
	out, err := h.reports.BreakdownByFloor(r.Context(), r.URL.Query().Get("period"))
	respond(w, out, err)
}

func (h *LedgerHandler) handleCollectionRate(w http.ResponseWriter, r *http.Request) {
	out, err := h.reports.CollectionRate(r.Context(), r.URL.Query().Get("period"))
	respond(w, out, err)
}

func (h *LedgerHandler) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.reports.ComparePeriods(r.Context(), q.Get("a"), q.Get("b"))
	respond(w, out, err)
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, payload)
}
