package interfaces

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/apperr"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/masterdata/application"
	masterdata "residence-cloud/internal/masterdata/domain"
)

// ApartmentHandler handles apartment registry APIs.
type ApartmentHandler struct {
	service *application.ApartmentService
	audit   *audit.Recorder
}

// NewApartmentHandler constructs a handler.
func NewApartmentHandler(service *application.ApartmentService, recorder *audit.Recorder) (*ApartmentHandler, error) {
	if service == nil {
		return nil, errors.New("apartment handler: nil service")
	}
	return &ApartmentHandler{service: service, audit: recorder}, nil
}

// Register mounts routes on the /api/v1 router.
func (h *ApartmentHandler) Register(r *mux.Router) {
	r.HandleFunc("/apartments", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/apartments", h.handleUpsert).Methods(http.MethodPost)
	r.HandleFunc("/apartments/{apt_id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/apartments/{apt_id}", h.handleUpsert).Methods(http.MethodPut)
	r.HandleFunc("/apartments/{apt_id}", h.handleDelete).Methods(http.MethodDelete)
}

type apartmentRequest struct {
	ID        string  `json:"apt_id" validate:"omitempty,apt_id"`
	OwnerName string  `json:"owner_name" validate:"required"`
	Phone     string  `json:"phone"`
	Email     string  `json:"email" validate:"omitempty,email"`
	AreaM2    float64 `json:"area_m2" validate:"gte=0"`
	Residents int     `json:"residents" validate:"gte=0"`
}

func (h *ApartmentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := masterdata.ListFilter{Owner: r.URL.Query().Get("owner")}
	if raw := r.URL.Query().Get("floor"); raw != "" {
		floor, err := strconv.Atoi(raw)
		if err != nil || floor < 0 {
			apihttp.WriteError(w, apperr.Validation("floor must be a non-negative integer"))
			return
		}
		filter.Floor = floor
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []masterdata.Apartment{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *ApartmentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	apt, err := h.service.Get(r.Context(), mux.Vars(r)["apt_id"])
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, apt)
}

func (h *ApartmentHandler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req apartmentRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if id := mux.Vars(r)["apt_id"]; id != "" {
		req.ID = id
	}
	apt := &masterdata.Apartment{
		ID:        req.ID,
		OwnerName: req.OwnerName,
		Phone:     req.Phone,
		Email:     req.Email,
		AreaM2:    req.AreaM2,
		Residents: req.Residents,
	}
	if err := h.service.Upsert(r.Context(), apt); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, apt)
	h.audit.Record(r, "apartment.upsert", "apartment", apt.ID, apt.ID, map[string]any{
		"owner_name": apt.OwnerName,
	})
}

func (h *ApartmentHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["apt_id"]
	if err := h.service.Delete(r.Context(), id); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.audit.Record(r, "apartment.delete", "apartment", id, id, nil)
}
