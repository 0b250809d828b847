package audit

import (
	"net/http"

	"github.com/cockroachdb/errors"

	apihttp "residence-cloud/internal/api/http"
)

// Handler serves GET /api/v1/activity.
type Handler struct {
	store Store
}

// NewHandler constructs an activity handler.
func NewHandler(store Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("activity handler: nil store")
	}
	return &Handler{store: store}, nil
}

// ServeHTTP lists recent activity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	page, err := apihttp.ParsePage(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	entries, total, err := h.store.List(r.Context(), Query{
		ApartmentID:  q.Get("apt_id"),
		ResourceType: q.Get("resource_type"),
		Action:       q.Get("action"),
		Offset:       page.Offset,
		Limit:        page.Limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"items":  entries,
		"total":  total,
		"offset": page.Offset,
		"limit":  page.Limit,
	})
}
