package billing

import (
	"github.com/cockroachdb/errors"

	"residence-cloud/internal/apperr"
)

var (
	// ErrConfigNotFound is returned when a fee configuration id is unknown.
	ErrConfigNotFound = errors.Mark(errors.New("billing: fee configuration not found"), apperr.ErrNotFound)
	// ErrConfigNotDraft is returned when mutating a configuration outside draft.
	ErrConfigNotDraft = errors.Mark(errors.New("billing: fee configuration is not in draft"), apperr.ErrConflict)
	// ErrConfigNotActive is returned when completing a configuration that is not active.
	ErrConfigNotActive = errors.Mark(errors.New("billing: fee configuration is not active"), apperr.ErrConflict)
	// ErrActiveConfigExists is returned when a period already has an active configuration.
	ErrActiveConfigExists = errors.Mark(errors.New("billing: an active fee configuration already exists for this period"), apperr.ErrConflict)
	// ErrNoActiveConfig is returned when no configuration applies to a period.
	ErrNoActiveConfig = errors.Mark(errors.New("billing: no active fee configuration"), apperr.ErrConflict)
	// ErrApartmentNotFound is returned when the apartment is not registered.
	ErrApartmentNotFound = errors.Mark(errors.New("billing: apartment not found"), apperr.ErrNotFound)
	// ErrBillNotFound is returned when no bill exists for (apartment, period).
	ErrBillNotFound = errors.Mark(errors.New("billing: bill not found"), apperr.ErrNotFound)
	// ErrBillPaid is returned when mutating a bill that is already paid.
	ErrBillPaid = errors.Mark(errors.New("billing: bill already paid"), apperr.ErrConflict)
	// ErrNonPositiveAmount is returned for adjustments and payments <= 0.
	ErrNonPositiveAmount = errors.Mark(errors.New("billing: amount must be greater than zero"), apperr.ErrValidation)
	// ErrNegativeTotal is returned when a discount would push the total below zero.
	ErrNegativeTotal = errors.Mark(errors.New("billing: discount exceeds bill total"), apperr.ErrValidation)
	// ErrNilBill is returned when saving a nil bill.
	ErrNilBill = errors.New("billing: nil bill")
)
