package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/charterdesk/charterdesk/internal/quotations"
	"github.com/charterdesk/charterdesk/internal/workflow"
	"github.com/charterdesk/charterdesk/report"
	"github.com/charterdesk/charterdesk/web"
)

// Composer builds the customer emails for each notification kind.
type Composer struct {
	templates *template.Template
	company   string
	location  *time.Location
	now       func() time.Time
}

func NewComposer(company string, loc *time.Location) (*Composer, error) {
	if loc == nil {
		loc = time.UTC
	}
	tpl, err := template.ParseFS(web.Templates, "templates/emails/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Composer{templates: tpl, company: company, location: loc, now: time.Now}, nil
}

// WithClock replaces the time source used for expiry warnings.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	cp := *c
	cp.now = now
	return &cp
}

type emailData struct {
	Company      string
	CustomerName string
	Number       string
	Title        string
	Pickup       string
	Total        string
	ValidUntil   string
	Warning      string
	AccessURL    string
	PaymentURL   string
}

// Compose renders the subject and body. The caller adds attachments.
func (c *Composer) Compose(kind quotations.NotificationKind, q *quotations.Quotation, accessURL string) (Message, error) {
	data := emailData{
		Company:      c.company,
		CustomerName: q.CustomerName,
		Number:       q.QuoteNumber,
		Title:        q.Title,
		Total:        report.Money(q.TotalAmount, q.Currency),
		ValidUntil:   q.ExpiresAt.In(c.location).Format("2 Jan 2006 15:04"),
		AccessURL:    accessURL,
	}
	if at := q.PickupAt(c.location); at != nil {
		data.Pickup = at.Format("Mon 2 Jan 2006 15:04")
	}
	if q.PaymentLinkURL != nil {
		data.PaymentURL = *q.PaymentLinkURL
	}

	var subject string
	switch kind {
	case quotations.NotifyQuotation:
		subject = fmt.Sprintf("Your quotation %s from %s", q.QuoteNumber, c.company)
	case quotations.NotifyReminder:
		tl := workflow.Derive(q.Milestones(), workflow.Options{Now: c.now()})
		if step, ok := tl.Step(workflow.StepReminder); ok {
			data.Warning = step.Warning
		}
		if data.Warning == "" {
			data.Warning = "Expires soon"
		}
		subject = fmt.Sprintf("Reminder: quotation %s, %s", q.QuoteNumber, lowerFirst(data.Warning))
	case quotations.NotifyPaymentLink:
		subject = fmt.Sprintf("Payment for quotation %s", q.QuoteNumber)
	default:
		return Message{}, fmt.Errorf("notify: unknown notification kind %q", kind)
	}

	buf := &bytes.Buffer{}
	if err := c.templates.ExecuteTemplate(buf, string(kind)+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s email: %w", kind, err)
	}
	return Message{
		To:      q.CustomerEmail,
		ToName:  q.CustomerName,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
