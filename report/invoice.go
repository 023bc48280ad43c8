package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/charterdesk/charterdesk/internal/quotations"
)

// Issuer is the company printed on invoices.
type Issuer struct {
	Name    string
	Address string
	Email   string
}

// InvoiceRenderer draws invoices locally with gofpdf so they do not depend on Gotenberg.
type InvoiceRenderer struct {
	issuer   Issuer
	location *time.Location
	now      func() time.Time
}

func NewInvoiceRenderer(issuer Issuer, loc *time.Location) *InvoiceRenderer {
	if loc == nil {
		loc = time.UTC
	}
	if issuer.Name == "" {
		issuer.Name = "Charterdesk"
	}
	return &InvoiceRenderer{issuer: issuer, location: loc, now: time.Now}
}

// InvoiceNumber derives the invoice number from the quote number.
func InvoiceNumber(q *quotations.Quotation) string {
	return "INV-" + q.QuoteNumber
}

func (r *InvoiceRenderer) RenderInvoice(_ context.Context, q *quotations.Quotation) ([]byte, error) {
	doc, err := newDocument(q, r.location)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(InvoiceNumber(q), true)
	pdf.SetAuthor(r.issuer.Name, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(110, 10, tr(r.issuer.Name))
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(80, 10, "INVOICE", "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if r.issuer.Address != "" {
		pdf.Cell(110, 6, tr(r.issuer.Address))
	} else {
		pdf.Cell(110, 6, "")
	}
	pdf.CellFormat(80, 6, InvoiceNumber(q), "", 1, "R", false, 0, "")
	if r.issuer.Email != "" {
		pdf.Cell(110, 6, r.issuer.Email)
	} else {
		pdf.Cell(110, 6, "")
	}
	pdf.CellFormat(80, 6, "Date: "+r.now().In(r.location).Format("2 Jan 2006"), "", 1, "R", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(100, 7, "Billed to")
	pdf.Ln(7)
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(100, 6, tr(doc.CustomerName))
	pdf.Ln(6)
	pdf.Cell(100, 6, doc.CustomerEmail)
	pdf.Ln(6)
	if doc.CustomerPhone != "" {
		pdf.Cell(100, 6, "Phone: "+doc.CustomerPhone)
		pdf.Ln(6)
	}
	pdf.Cell(100, 6, "Quotation: "+doc.Number)
	pdf.Ln(6)
	if doc.Pickup != "" {
		pdf.Cell(100, 6, "Service date: "+doc.Pickup)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(235, 238, 241)
	pdf.CellFormat(90, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Unit price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 1, "R", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, l := range doc.Lines {
		desc := l.Description
		if l.Adjustment != "" {
			desc += " (" + l.Adjustment + ")"
		}
		pdf.CellFormat(90, 8, tr(truncate(desc, 60)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, l.Quantity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 8, l.UnitPrice, "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, l.Amount, "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	for _, t := range doc.Totals {
		pdf.CellFormat(150, 7, t.Label, "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 7, t.Amount, "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(150, 9, "Total due", "T", 0, "R", false, 0, "")
	pdf.CellFormat(40, 9, doc.Total, "T", 1, "R", false, 0, "")

	if q.PaymentCompletedAt != nil {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(22, 120, 60)
		pdf.Cell(100, 7, "PAID "+q.PaymentCompletedAt.In(r.location).Format("2 Jan 2006"))
		pdf.SetTextColor(0, 0, 0)
	} else if q.PaymentLinkURL != nil {
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(190, 6, "Pay online: "+*q.PaymentLinkURL, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
