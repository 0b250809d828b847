package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	billing "residence-cloud/internal/billing/domain"
	masterdata "residence-cloud/internal/masterdata/domain"
	"residence-cloud/internal/observability/metrics"
)

// Clock provides time for cooldown checks.
type Clock interface {
	Now() time.Time
}

// Notifier renders resident notifications and fans them out to channels.
type Notifier struct {
	channels  []Channel
	templates map[string]*Template
	logger    *logrus.Logger
	clock     Clock
	currency  string
	cooldown  time.Duration
	mu        sync.Mutex
	sent      map[string]time.Time
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between reminders for the same bill.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithCurrency sets the currency label printed next to amounts.
func WithCurrency(currency string) Option {
	return func(n *Notifier) {
		n.currency = currency
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *logrus.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithTemplate replaces the template of one event.
func WithTemplate(event string, tpl *Template) Option {
	return func(n *Notifier) {
		if tpl != nil {
			n.templates[event] = tpl
		}
	}
}

// NewNotifier constructs a notifier over at least one channel.
func NewNotifier(channels []Channel, opts ...Option) (*Notifier, error) {
	active := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	if len(active) == 0 {
		return nil, errors.New("notifier: no channels")
	}
	templates, err := defaultTemplates()
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		channels:  active,
		templates: templates,
		logger:    logrus.StandardLogger(),
		clock:     systemClock{},
		currency:  "VND",
		sent:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// ConfigPublished tells a resident about a newly active fee schedule.
func (n *Notifier) ConfigPublished(ctx context.Context, apt masterdata.Apartment, cfg *billing.FeeConfiguration, total decimal.Decimal) error {
	if cfg == nil {
		return errors.New("notifier: nil configuration")
	}
	lines := make([]string, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		lines = append(lines, fmt.Sprintf("%s: %s %s/%s", s.Name, formatAmount(s.UnitCost), n.currency, s.Unit))
	}
	data := TemplateData{
		Event:       EventConfigPublished,
		ApartmentID: apt.ID,
		Owner:       ownerName(apt),
		Period:      string(cfg.Period),
		Lines:       lines,
		Amount:      formatAmount(total),
		Currency:    n.currency,
	}
	return n.dispatch(ctx, apt, data)
}

// BillReminder asks a resident to settle a bill. Reminders for the same bill
// inside the cooldown are dropped silently.
func (n *Notifier) BillReminder(ctx context.Context, apt masterdata.Apartment, bill *billing.Bill) error {
	if bill == nil {
		return errors.New("notifier: nil bill")
	}
	key := apt.ID + "|" + string(bill.Period)
	if !n.shouldSend(key) {
		return nil
	}
	now := n.clock.Now().UTC()
	due := ""
	if !bill.DueDate.IsZero() {
		due = bill.DueDate.Format("2006-01-02")
	}
	data := TemplateData{
		Event:         EventBillReminder,
		ApartmentID:   apt.ID,
		Owner:         ownerName(apt),
		Period:        string(bill.Period),
		Amount:        formatAmount(bill.Balance()),
		Currency:      n.currency,
		Status:        bill.Status(now),
		DueDate:       due,
		ReminderCount: bill.ReminderCount,
	}
	if err := n.dispatch(ctx, apt, data); err != nil {
		return err
	}
	n.markSent(key)
	return nil
}

// dispatch sends to every channel. It fails only when no channel delivered;
// when every channel skipped the resident the error is ErrNoRecipient.
func (n *Notifier) dispatch(ctx context.Context, apt masterdata.Apartment, data TemplateData) error {
	tpl, ok := n.templates[data.Event]
	if !ok {
		return errors.Newf("notifier: no template for %s", data.Event)
	}
	subject, body, err := tpl.Render(data)
	if err != nil {
		return errors.Wrap(err, "render notification")
	}
	msg := Message{
		Event:   data.Event,
		To:      Recipient{ApartmentID: apt.ID, Name: apt.OwnerName, Email: apt.Email},
		Subject: subject,
		Body:    body,
	}

	var (
		delivered int
		combined  error
	)
	for _, ch := range n.channels {
		err := ch.Send(ctx, msg)
		switch {
		case errors.Is(err, ErrNoRecipient):
			metrics.IncNotification(data.Event, ch.Name(), "skipped")
		case err != nil:
			metrics.IncNotification(data.Event, ch.Name(), metrics.ResultError)
			n.logger.WithError(err).WithFields(logrus.Fields{
				"event":   data.Event,
				"channel": ch.Name(),
				"apt_id":  apt.ID,
			}).Warn("notification channel failed")
			combined = errors.CombineErrors(combined, err)
		default:
			metrics.IncNotification(data.Event, ch.Name(), metrics.ResultSuccess)
			delivered++
		}
	}
	if delivered > 0 {
		return nil
	}
	if combined != nil {
		return combined
	}
	return errors.Wrapf(ErrNoRecipient, "apartment %s", apt.ID)
}

func (n *Notifier) shouldSend(key string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	last, ok := n.sent[key]
	n.mu.Unlock()
	return !ok || n.clock.Now().UTC().Sub(last) >= n.cooldown
}

func (n *Notifier) markSent(key string) {
	if n.cooldown <= 0 {
		return
	}
	n.mu.Lock()
	n.sent[key] = n.clock.Now().UTC()
	n.mu.Unlock()
}

func ownerName(apt masterdata.Apartment) string {
	if apt.OwnerName != "" {
		return apt.OwnerName
	}
	return "resident of " + apt.ID
}

func formatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
