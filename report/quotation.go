package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/quotations"
	"github.com/charterdesk/charterdesk/web"
)

// HTMLConverter turns an HTML document into a PDF.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// QuotationRenderer renders the customer facing quotation through Gotenberg.
type QuotationRenderer struct {
	converter HTMLConverter
	templates *template.Template
	location  *time.Location
}

func NewQuotationRenderer(converter HTMLConverter, loc *time.Location) (*QuotationRenderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	funcs := template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}
	tpl, err := template.New("quotation_pdf.html").Funcs(funcs).ParseFS(web.Templates, "templates/reports/quotation_pdf.html")
	if err != nil {
		return nil, fmt.Errorf("parse quotation template: %w", err)
	}
	return &QuotationRenderer{converter: converter, templates: tpl, location: loc}, nil
}

func (r *QuotationRenderer) RenderQuotation(ctx context.Context, q *quotations.Quotation) ([]byte, error) {
	html, err := r.BuildHTML(q)
	if err != nil {
		return nil, err
	}
	return r.converter.RenderHTML(ctx, html)
}

// BuildHTML renders the quotation template without converting it.
func (r *QuotationRenderer) BuildHTML(q *quotations.Quotation) (string, error) {
	doc, err := newDocument(q, r.location)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	if err := r.templates.ExecuteTemplate(buf, "quotation_pdf.html", doc); err != nil {
		return "", fmt.Errorf("render quotation template: %w", err)
	}
	return buf.String(), nil
}

type documentLine struct {
	Description string
	Quantity    string
	UnitPrice   string
	Amount      string
	Adjustment  string
}

type documentTotal struct {
	Label  string
	Amount string
}

// document is the formatted view shared by the quotation and invoice renderers.
type document struct {
	Number        string
	Title         string
	Status        string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Pickup        string
	IssuedAt      string
	ValidUntil    string
	Notes         string
	Lines         []documentLine
	Totals        []documentTotal
	Total         string
}

func newDocument(q *quotations.Quotation, loc *time.Location) (document, error) {
	b, err := q.Breakdown()
	if err != nil {
		return document{}, fmt.Errorf("quotation %s: %w", q.QuoteNumber, err)
	}
	cur := q.Currency

	doc := document{
		Number:        q.QuoteNumber,
		Title:         q.Title,
		Status:        string(q.Status),
		CustomerName:  q.CustomerName,
		CustomerEmail: q.CustomerEmail,
		IssuedAt:      q.CreatedAt.In(loc).Format("2 Jan 2006"),
		ValidUntil:    q.ExpiresAt.In(loc).Format("2 Jan 2006 15:04"),
		Total:         Money(b.Total, cur),
	}
	if q.CustomerPhone != nil {
		doc.CustomerPhone = *q.CustomerPhone
	}
	if q.Notes != nil {
		doc.Notes = *q.Notes
	}
	if at := q.PickupAt(loc); at != nil {
		layout := "Mon 2 Jan 2006"
		if q.PickupTime != nil {
			layout += " 15:04"
		}
		doc.Pickup = at.Format(layout)
	}

	for _, it := range q.Items {
		pi := it.PricingItem()
		line := documentLine{
			Description: it.Description,
			Quantity:    pi.Units().String(),
			UnitPrice:   Money(it.UnitPrice, cur),
			Amount:      Money(pi.LineTotal().Round(int32(pricing.MinorUnits(cur))), cur),
		}
		if !it.TimeAdjustmentPercentage.IsZero() && it.TotalPrice == nil {
			line.Adjustment = fmt.Sprintf("Time of day adjustment %s%%", signed(it.TimeAdjustmentPercentage))
		}
		doc.Lines = append(doc.Lines, line)
	}

	doc.Totals = append(doc.Totals, documentTotal{"Subtotal", Money(b.Base, cur)})
	if !b.PercentDiscount.IsZero() {
		doc.Totals = append(doc.Totals, documentTotal{fmt.Sprintf("Discount (%s%%)", q.DiscountPercentage), Money(b.PercentDiscount.Neg(), cur)})
	}
	if !b.PromotionDiscount.IsZero() {
		doc.Totals = append(doc.Totals, documentTotal{"Promotion", Money(b.PromotionDiscount.Neg(), cur)})
	}
	if !b.PackageDiscount.IsZero() {
		doc.Totals = append(doc.Totals, documentTotal{"Package discount", Money(b.PackageDiscount.Neg(), cur)})
	}
	if !b.Tax.IsZero() {
		doc.Totals = append(doc.Totals, documentTotal{fmt.Sprintf("Tax (%s%%)", q.TaxPercentage), Money(b.Tax, cur)})
	}
	return doc, nil
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}
