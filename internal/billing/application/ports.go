package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
)

// ApartmentDirectory looks up registered apartments.
type ApartmentDirectory interface {
	Get(ctx context.Context, id string) (*masterdata.Apartment, error)
	List(ctx context.Context, filter masterdata.ListFilter) ([]masterdata.Apartment, error)
}

// ResidentNotifier delivers resident-facing messages. Delivery is best effort:
// callers log failures and never roll back state because of them.
type ResidentNotifier interface {
	ConfigPublished(ctx context.Context, apt masterdata.Apartment, cfg *billing.FeeConfiguration, total decimal.Decimal) error
	BillReminder(ctx context.Context, apt masterdata.Apartment, bill *billing.Bill) error
}

// Option configures the billing services.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *logrus.Logger
	dueDay int
}

func defaultOptions() options {
	return options{
		now:    func() time.Time { return time.Now().UTC() },
		logger: logrus.StandardLogger(),
		dueDay: 10,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDueDay sets the day of the following month on which bills fall due.
func WithDueDay(day int) Option {
	return func(o *options) {
		if day >= 1 && day <= 28 {
			o.dueDay = day
		}
	}
}
