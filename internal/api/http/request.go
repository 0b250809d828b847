package apihttp

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"residence-cloud/internal/apperr"
	masterdata "residence-cloud/internal/masterdata/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxBodyBytes    = 10 << 20
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("apt_id", func(fl validator.FieldLevel) bool {
		return masterdata.ValidApartmentID(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON decodes the request body into dst and validates struct tags.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid json"), apperr.ErrValidation)
	}
	return Validate(dst)
}

// Validate runs struct tag validation and converts failures into a validation error.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			return apperr.Validation("%s", strings.Join(msgs, ", "))
		}
		return errors.Mark(err, apperr.ErrValidation)
	}
	return nil
}

// Page is an offset/limit window.
type Page struct {
	Offset int
	Limit  int
}

// ParsePage reads offset and limit query parameters.
func ParsePage(r *http.Request) (Page, error) {
	page := Page{Limit: DefaultPageSize}
	q := r.URL.Query()
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, apperr.Validation("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, apperr.Validation("limit must be a positive integer")
		}
		page.Limit = n
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	return page, nil
}
