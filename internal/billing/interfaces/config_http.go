package interfaces

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
)

// FeeConfigHandler handles fee configuration APIs.
type FeeConfigHandler struct {
	service *application.ConfigService
	audit   *audit.Recorder
}

// NewFeeConfigHandler constructs a handler.
func NewFeeConfigHandler(service *application.ConfigService, recorder *audit.Recorder) (*FeeConfigHandler, error) {
	if service == nil {
		return nil, errors.New("fee config handler: nil service")
	}
	return &FeeConfigHandler{service: service, audit: recorder}, nil
}

// Register mounts routes on the /api/v1 router.
func (h *FeeConfigHandler) Register(r *mux.Router) {
	r.HandleFunc("/fee-configs", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/fee-configs", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/fee-configs/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/fee-configs/{id}", h.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/fee-configs/{id}", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/fee-configs/{id}/publish", h.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/fee-configs/{id}/complete", h.handleComplete).Methods(http.MethodPost)
}

type serviceRequest struct {
	Name          string           `json:"name" validate:"required"`
	Category      string           `json:"category" validate:"omitempty,oneof=electric water service vehicles other"`
	UnitCost      *decimal.Decimal `json:"unit_cost" validate:"required"`
	Unit          string           `json:"unit" validate:"required"`
	NumberOfUnits *decimal.Decimal `json:"number_of_units"`
}

type feeConfigRequest struct {
	Period   string           `json:"period"`
	Services []serviceRequest `json:"services" validate:"required,min=1,dive"`
}

func (req feeConfigRequest) services() []billing.Service {
	out := make([]billing.Service, 0, len(req.Services))
	for _, s := range req.Services {
		out = append(out, billing.Service{
			Name:          s.Name,
			Category:      billing.Category(s.Category),
			UnitCost:      *s.UnitCost,
			Unit:          s.Unit,
			NumberOfUnits: s.NumberOfUnits,
		})
	}
	return out
}

func (h *FeeConfigHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetAll(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []*billing.FeeConfiguration{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *FeeConfigHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, cfg)
}

func (h *FeeConfigHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req feeConfigRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	cfg, err := h.service.Create(r.Context(), req.Period, req.services())
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, cfg)
	h.audit.Record(r, "fee_config.create", "fee_config", cfg.ID, "", map[string]any{
		"period":   cfg.Period,
		"services": len(cfg.Services),
	})
}

func (h *FeeConfigHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req feeConfigRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	cfg, err := h.service.Update(r.Context(), mux.Vars(r)["id"], req.Period, req.services())
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, cfg)
	h.audit.Record(r, "fee_config.update", "fee_config", cfg.ID, "", map[string]any{
		"period":   cfg.Period,
		"services": len(cfg.Services),
	})
}

func (h *FeeConfigHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.Delete(r.Context(), id); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.audit.Record(r, "fee_config.delete", "fee_config", id, "", nil)
}

func (h *FeeConfigHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Publish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, result)
	h.audit.Record(r, "fee_config.publish", "fee_config", result.Config.ID, "", map[string]any{
		"notified":     result.Notified,
		"total_amount": result.TotalAmount,
	})
}

func (h *FeeConfigHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, cfg)
	h.audit.Record(r, "fee_config.complete", "fee_config", cfg.ID, "", nil)
}
