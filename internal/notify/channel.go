package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

// ErrNoRecipient is returned by channels that need an address the resident
// has not registered. The notifier treats it as a skip.
var ErrNoRecipient = errors.New("notify: recipient has no address for this channel")

// Recipient identifies who a message is for.
type Recipient struct {
	ApartmentID string
	Name        string
	Email       string
}

// Message is one rendered notification.
type Message struct {
	Event   string
	To      Recipient
	Subject string
	Body    string
}

// Channel delivers rendered messages.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts messages to a DingTalk/WeCom-compatible endpoint.
type WebhookChannel struct {
	url    string
	client *retryablehttp.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithRetryMax sets how many times a failed post is retried.
func WithRetryMax(n int) WebhookOption {
	return func(ch *WebhookChannel) {
		if n >= 0 {
			ch.client.RetryMax = n
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client.HTTPClient.Timeout = timeout
		}
	}
}

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(min, max time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if min > 0 && max >= min {
			ch.client.RetryWaitMin = min
			ch.client.RetryWaitMax = max
		}
	}
}

// WithWebhookLogger routes retry logs to logger.
func WithWebhookLogger(logger *logrus.Logger) WebhookOption {
	return func(ch *WebhookChannel) {
		if logger != nil {
			ch.client.Logger = retryLogger{entry: logger.WithField("channel", "webhook")}
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	ch := &WebhookChannel{url: url, client: client}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// Send posts the message as a text payload.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	content := msg.Body
	if msg.Subject != "" {
		content = msg.Subject + "\n" + msg.Body
	}
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook channel")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

type retryLogger struct {
	entry *logrus.Entry
}

func (l retryLogger) Printf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// EmailChannel sends messages through SendGrid.
type EmailChannel struct {
	send    func(ctx context.Context, email *mail.SGMailV3) (int, string, error)
	from    *mail.Email
	sandbox bool
}

// NewEmailChannel constructs a SendGrid email channel.
func NewEmailChannel(apiKey, fromEmail, fromName string, sandbox bool) (*EmailChannel, error) {
	if apiKey == "" {
		return nil, errors.New("email channel: empty api key")
	}
	if fromEmail == "" {
		return nil, errors.New("email channel: empty sender")
	}
	client := sendgrid.NewSendClient(apiKey)
	return &EmailChannel{
		send: func(ctx context.Context, email *mail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, email)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		},
		from:    mail.NewEmail(fromName, fromEmail),
		sandbox: sandbox,
	}, nil
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return "email" }

// Send emails the message to the recipient's registered address.
func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if msg.To.Email == "" {
		return ErrNoRecipient
	}
	email := e.build(msg)
	status, body, err := e.send(ctx, email)
	if err != nil {
		return errors.Wrap(err, "email channel")
	}
	if status >= 300 {
		return fmt.Errorf("email channel: sendgrid status %d: %s", status, body)
	}
	return nil
}

func (e *EmailChannel) build(msg Message) *mail.SGMailV3 {
	to := mail.NewEmail(msg.To.Name, msg.To.Email)
	email := mail.NewSingleEmail(e.from, msg.Subject, to, msg.Body, "")
	if e.sandbox {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		email.MailSettings = ms
	}
	return email
}

// LogChannel writes messages to the service log.
type LogChannel struct {
	logger *logrus.Logger
}

// NewLogChannel constructs a log channel.
func NewLogChannel(logger *logrus.Logger) *LogChannel {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (l *LogChannel) Name() string { return "log" }

// Send logs the message.
func (l *LogChannel) Send(_ context.Context, msg Message) error {
	l.logger.WithFields(logrus.Fields{
		"event":   msg.Event,
		"apt_id":  msg.To.ApartmentID,
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}
