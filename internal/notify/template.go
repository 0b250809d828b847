package notify

import (
	"bytes"
	"text/template"

	"github.com/cockroachdb/errors"
)

const (
	EventConfigPublished = "config_published"
	EventBillReminder    = "bill_reminder"
)

const DefaultPublishedTemplate = `Dear {{.Owner}},
The fee schedule{{if .Period}} for {{.Period}}{{end}} has been published.
{{range .Lines}}- {{.}}
{{end}}Estimated total at default usage: {{.Amount}} {{.Currency}}
Apartment: {{.ApartmentID}}`

const DefaultReminderTemplate = `Dear {{.Owner}},
Your bill for {{.Period}} is {{.Status}}.
Amount due: {{.Amount}} {{.Currency}}
Due date: {{.DueDate}}
Reminder #{{.ReminderCount}} for apartment {{.ApartmentID}}.`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event         string
	ApartmentID   string
	Owner         string
	Period        string
	Lines         []string
	Amount        string
	Currency      string
	Status        string
	DueDate       string
	ReminderCount int
}

// Template renders the subject and body of one event.
type Template struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplate parses subject and body templates.
func NewTemplate(name, subject, body string) (*Template, error) {
	s, err := template.New(name + "-subject").Parse(subject)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s subject", name)
	}
	b, err := template.New(name + "-body").Parse(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s body", name)
	}
	return &Template{subject: s, body: b}, nil
}

// Render applies the templates to data.
func (t *Template) Render(data TemplateData) (subject, body string, err error) {
	if t == nil || t.subject == nil || t.body == nil {
		return "", "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, data); err != nil {
		return "", "", err
	}
	subject = buf.String()
	buf.Reset()
	if err := t.body.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}

func defaultTemplates() (map[string]*Template, error) {
	published, err := NewTemplate(EventConfigPublished, "Fee schedule published{{if .Period}} for {{.Period}}{{end}}", DefaultPublishedTemplate)
	if err != nil {
		return nil, err
	}
	reminder, err := NewTemplate(EventBillReminder, "Payment reminder: {{.Period}} bill for {{.ApartmentID}}", DefaultReminderTemplate)
	if err != nil {
		return nil, err
	}
	return map[string]*Template{
		EventConfigPublished: published,
		EventBillReminder:    reminder,
	}, nil
}
