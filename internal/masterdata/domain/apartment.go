package masterdata

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"residence-cloud/internal/apperr"
)

var apartmentIDPattern = regexp.MustCompile(`^[A-Za-z]{1,3}[0-9]{3,4}$`)

// ValidApartmentID reports whether id has the block letters + floor/room digits shape.
func ValidApartmentID(id string) bool {
	return apartmentIDPattern.MatchString(id)
}

// NormalizeApartmentID trims and upper-cases id, then validates it.
func NormalizeApartmentID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !ValidApartmentID(id) {
		return "", apperr.Validation("invalid apartment id %q", id)
	}
	return id, nil
}

// FloorOf returns the floor encoded in an apartment id: every digit but the
// last two. "A101" is on floor 1, "B1203" on floor 12.
func FloorOf(id string) int {
	digits := strings.TrimLeftFunc(id, func(r rune) bool { return r < '0' || r > '9' })
	if len(digits) < 3 {
		return 0
	}
	floor, err := strconv.Atoi(digits[:len(digits)-2])
	if err != nil {
		return 0
	}
	return floor
}

// BlockOf returns the letter prefix of an apartment id.
func BlockOf(id string) string {
	return strings.TrimRightFunc(strings.ToUpper(id), func(r rune) bool { return r >= '0' && r <= '9' })
}

// Apartment is a resident unit.
type Apartment struct {
	ID        string    `json:"apt_id"`
	OwnerName string    `json:"owner_name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	AreaM2    float64   `json:"area_m2,omitempty"`
	Residents int       `json:"residents,omitempty"`
	Floor     int       `json:"floor"`
	Block     string    `json:"block"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks apartment invariants and fills derived fields.
func (a *Apartment) Validate() error {
	id, err := NormalizeApartmentID(a.ID)
	if err != nil {
		return err
	}
	a.ID = id
	a.OwnerName = strings.TrimSpace(a.OwnerName)
	if a.OwnerName == "" {
		return apperr.Validation("apartment %s: empty owner name", a.ID)
	}
	if a.AreaM2 < 0 {
		return apperr.Validation("apartment %s: negative area", a.ID)
	}
	if a.Residents < 0 {
		return apperr.Validation("apartment %s: negative residents", a.ID)
	}
	a.Floor = FloorOf(a.ID)
	a.Block = BlockOf(a.ID)
	return nil
}

// ListFilter narrows apartment listings. Zero values match everything.
type ListFilter struct {
	Floor int
	Owner string
}

// ApartmentRepository manages apartment persistence.
type ApartmentRepository interface {
	Get(ctx context.Context, id string) (*Apartment, error)
	List(ctx context.Context, filter ListFilter) ([]Apartment, error)
	Save(ctx context.Context, apartment *Apartment) error
	Delete(ctx context.Context, id string) (bool, error)
}
