package interfaces

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gocarina/gocsv"
	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"

	apihttp "residence-cloud/internal/api/http"
	"residence-cloud/internal/apperr"
	"residence-cloud/internal/audit"
	"residence-cloud/internal/auth"
	"residence-cloud/internal/billing/application"
	billing "residence-cloud/internal/billing/domain"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCSV  = "text/csv"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxUploadBytes  = 10 << 20
)

// UnitsHandler handles consumption intake APIs.
type UnitsHandler struct {
	intake *application.IntakeService
	audit  *audit.Recorder
}

// NewUnitsHandler constructs a handler.
func NewUnitsHandler(intake *application.IntakeService, recorder *audit.Recorder) (*UnitsHandler, error) {
	if intake == nil {
		return nil, errors.New("units handler: nil intake service")
	}
	return &UnitsHandler{intake: intake, audit: recorder}, nil
}

// Register mounts routes on the /api/v1 router.
func (h *UnitsHandler) Register(r *mux.Router) {
	r.HandleFunc("/units", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/units", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/units/bulk", h.handleBulk).Methods(http.MethodPost)
}

type unitsRequest struct {
	ApartmentID string                `json:"apt_id" validate:"required,apt_id"`
	Period      string                `json:"period"`
	Units       []billing.UnitReading `json:"units" validate:"required,min=1"`
}

func (h *UnitsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req unitsRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if err := auth.EnsureApartmentAccess(r.Context(), req.ApartmentID); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	sub, err := h.intake.SubmitUnits(r.Context(), req.ApartmentID, req.Period, req.Units, auth.SubjectFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, sub)
	h.audit.Record(r, "units.submit", "submission", sub.ID, sub.ApartmentID, map[string]any{
		"period":   sub.Period,
		"readings": len(sub.Readings),
	})
}

func (h *UnitsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.intake.List(r.Context(), q.Get("apt_id"), q.Get("period"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

type bulkResponse struct {
	Accepted    int                              `json:"accepted"`
	Submissions []*billing.ConsumptionSubmission `json:"submissions"`
}

func (h *UnitsHandler) handleBulk(w http.ResponseWriter, r *http.Request) {
	rows, err := readBulkRows(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	subs, err := h.intake.SubmitBulk(r.Context(), rows, auth.SubjectFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, bulkResponse{Accepted: len(subs), Submissions: subs})
	h.audit.Record(r, "units.bulk", "submission", "", "", map[string]any{
		"rows": len(rows),
	})
}

// readBulkRows decodes a bulk payload by content type into normalized rows.
func readBulkRows(r *http.Request) ([]application.UnitRow, error) {
	mediaType := contentTypeJSON
	if raw := r.Header.Get("Content-Type"); raw != "" {
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			return nil, apperr.Validation("invalid content type %q", raw)
		}
		mediaType = parsed
	}
	body := io.LimitReader(r.Body, maxUploadBytes)

	switch mediaType {
	case contentTypeCSV:
		records, err := gocsv.CSVToMaps(body)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "invalid csv"), apperr.ErrValidation)
		}
		return application.NormalizeRows(records)
	case contentTypeXLSX:
		records, err := xlsxRecords(body)
		if err != nil {
			return nil, err
		}
		return application.NormalizeRows(records)
	case contentTypeJSON:
		return jsonRows(body)
	}
	return nil, apperr.Validation("unsupported content type %q", mediaType)
}

// xlsxRecords reads the first sheet; the first row is the header.
func xlsxRecords(body io.Reader) ([]map[string]string, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid xlsx"), apperr.ErrValidation)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.Validation("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read xlsx rows"), apperr.ErrValidation)
	}
	if len(rows) < 2 {
		return nil, apperr.Validation("xlsx needs a header row and at least one data row")
	}
	header := rows[0]
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, column := range header {
			if strings.TrimSpace(column) == "" {
				continue
			}
			if i < len(row) {
				rec[column] = row[i]
			} else {
				rec[column] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// jsonRows accepts {"rows": [...]} or a bare array. Rows whose "units" is a
// list are taken as already normalized; otherwise every row is a flat wide or
// long record.
func jsonRows(body io.Reader) ([]application.UnitRow, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	raw = bytes.TrimSpace(raw)
	var items []map[string]json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &items)
	} else {
		var envelope struct {
			Rows []map[string]json.RawMessage `json:"rows"`
		}
		err = json.Unmarshal(raw, &envelope)
		items = envelope.Rows
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid json"), apperr.ErrValidation)
	}
	if len(items) == 0 {
		return nil, apperr.Validation("bulk submission has no rows")
	}

	if structured(items) {
		rows := make([]application.UnitRow, 0, len(items))
		for i, item := range items {
			encoded, _ := json.Marshal(item)
			var row application.UnitRow
			if err := json.Unmarshal(encoded, &row); err != nil {
				return nil, &apperr.BulkError{Rows: []apperr.RowError{{Index: i, Reason: err.Error()}}}
			}
			row.Index = i
			rows = append(rows, row)
		}
		return rows, nil
	}

	records := make([]map[string]string, 0, len(items))
	for _, item := range items {
		rec := make(map[string]string, len(item))
		for k, v := range item {
			rec[k] = scalar(v)
		}
		records = append(records, rec)
	}
	return application.NormalizeRows(records)
}

func structured(items []map[string]json.RawMessage) bool {
	for _, item := range items {
		if units, ok := item["units"]; ok {
			trimmed := bytes.TrimSpace(units)
			if len(trimmed) > 0 && trimmed[0] == '[' {
				return true
			}
		}
	}
	return false
}

// scalar renders a JSON value as the text a spreadsheet cell would hold.
func scalar(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(v))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
