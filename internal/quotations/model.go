package quotations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/workflow"
)

// Status is shared with the workflow deriver.
type Status = workflow.Status

const (
	StatusDraft     = workflow.StatusDraft
	StatusSent      = workflow.StatusSent
	StatusApproved  = workflow.StatusApproved
	StatusRejected  = workflow.StatusRejected
	StatusExpired   = workflow.StatusExpired
	StatusPaid      = workflow.StatusPaid
	StatusConverted = workflow.StatusConverted
)

type Quotation struct {
	ID                  uuid.UUID          `json:"id"`
	QuoteNumber         string             `json:"quote_number"`
	Title               string             `json:"title"`
	Status              Status             `json:"status"`
	CustomerName        string             `json:"customer_name"`
	CustomerEmail       string             `json:"customer_email"`
	CustomerPhone       *string            `json:"customer_phone,omitempty"`
	ServiceTypeID       *uuid.UUID         `json:"service_type_id,omitempty"`
	VehicleID           *uuid.UUID         `json:"vehicle_id,omitempty"`
	VehicleCategoryID   *uuid.UUID         `json:"vehicle_category_id,omitempty"`
	PickupDate          *time.Time         `json:"pickup_date,omitempty"`
	PickupTime          *pricing.ClockTime `json:"pickup_time,omitempty"`
	DurationHours       int                `json:"duration_hours"`
	ServiceDays         int                `json:"service_days"`
	HoursPerDay         int                `json:"hours_per_day"`
	Amount              decimal.Decimal    `json:"amount"`
	TotalAmount         decimal.Decimal    `json:"total_amount"`
	Currency            string             `json:"currency"`
	DiscountPercentage  decimal.Decimal    `json:"discount_percentage"`
	TaxPercentage       decimal.Decimal    `json:"tax_percentage"`
	PromotionDiscount   decimal.Decimal    `json:"promotion_discount"`
	PackageDiscount     decimal.Decimal    `json:"package_discount"`
	TimeBasedAdjustment decimal.Decimal    `json:"time_based_adjustment"`
	Notes               *string            `json:"notes,omitempty"`
	CreatedBy           string             `json:"created_by"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	ExpiresAt           time.Time          `json:"expires_at"`

	LastSentAt         *time.Time       `json:"last_sent_at,omitempty"`
	ReminderSentAt     *time.Time       `json:"reminder_sent_at,omitempty"`
	ApprovedAt         *time.Time       `json:"approved_at,omitempty"`
	ApprovalNotes      *string          `json:"approval_notes,omitempty"`
	RejectedAt         *time.Time       `json:"rejected_at,omitempty"`
	RejectedReason     *string          `json:"rejected_reason,omitempty"`
	InvoiceGeneratedAt *time.Time       `json:"invoice_generated_at,omitempty"`
	PaymentLinkSentAt  *time.Time       `json:"payment_link_sent_at,omitempty"`
	PaymentLinkURL     *string          `json:"payment_link_url,omitempty"`
	PaymentCompletedAt *time.Time       `json:"payment_completed_at,omitempty"`
	PaymentAmount      *decimal.Decimal `json:"payment_amount,omitempty"`
	PaymentMethod      *string          `json:"payment_method,omitempty"`
	BookingCreatedAt   *time.Time       `json:"booking_created_at,omitempty"`
	BookingID          *uuid.UUID       `json:"booking_id,omitempty"`

	Items []ServiceItem `json:"items,omitempty"`
}

// ServiceItem is one priced line of a quotation.
// ItemSource records whether a line was entered by staff or generated from the catalogue.
type ItemSource string

const (
	ItemSourceManual    ItemSource = "manual"
	ItemSourceCatalogue ItemSource = "catalogue"
)

type ServiceItem struct {
	ID                       uuid.UUID          `json:"id"`
	QuotationID              uuid.UUID          `json:"quotation_id"`
	Description              string             `json:"description"`
	ServiceTypeID            *uuid.UUID         `json:"service_type_id,omitempty"`
	VehicleID                *uuid.UUID         `json:"vehicle_id,omitempty"`
	UnitPrice                decimal.Decimal    `json:"unit_price"`
	Quantity                 decimal.Decimal    `json:"quantity"`
	ServiceDays              int                `json:"service_days"`
	HoursPerDay              int                `json:"hours_per_day"`
	TotalPrice               *decimal.Decimal   `json:"total_price,omitempty"`
	TimeAdjustmentPercentage decimal.Decimal    `json:"time_adjustment_percentage"`
	PickupDate               *time.Time         `json:"pickup_date,omitempty"`
	PickupTime               *pricing.ClockTime `json:"pickup_time,omitempty"`
	SortOrder                int                `json:"sort_order"`
	Source                   ItemSource         `json:"source"`
}

// PricingItem converts the line for the pricing engine.
func (i ServiceItem) PricingItem() pricing.Item {
	return pricing.Item{
		UnitPrice:                i.UnitPrice,
		Quantity:                 i.Quantity,
		ServiceDays:              i.ServiceDays,
		HoursPerDay:              i.HoursPerDay,
		TotalPrice:               i.TotalPrice,
		TimeAdjustmentPercentage: i.TimeAdjustmentPercentage,
	}
}

// Booking is created when a quotation is converted.
type Booking struct {
	ID          uuid.UUID          `json:"id"`
	QuotationID uuid.UUID          `json:"quotation_id"`
	ServiceDate *time.Time         `json:"service_date,omitempty"`
	PickupTime  *pricing.ClockTime `json:"pickup_time,omitempty"`
	VehicleID   *uuid.UUID         `json:"vehicle_id,omitempty"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

const BookingStatusConfirmed = "confirmed"

// Activity is an audit entry on a quotation.
type Activity struct {
	QuotationID uuid.UUID      `json:"quotation_id"`
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Milestones projects the quotation for the workflow deriver.
func (q Quotation) Milestones() workflow.Milestones {
	return workflow.Milestones{
		Status:             q.Status,
		CreatedAt:          q.CreatedAt,
		ExpiresAt:          q.ExpiresAt,
		LastSentAt:         q.LastSentAt,
		ReminderSentAt:     q.ReminderSentAt,
		ApprovedAt:         q.ApprovedAt,
		RejectedAt:         q.RejectedAt,
		InvoiceGeneratedAt: q.InvoiceGeneratedAt,
		PaymentLinkSentAt:  q.PaymentLinkSentAt,
		PaymentCompletedAt: q.PaymentCompletedAt,
		BookingCreatedAt:   q.BookingCreatedAt,
	}
}

// Adjustments returns the quotation level discounts and tax.
func (q Quotation) Adjustments() pricing.Adjustments {
	return pricing.Adjustments{
		DiscountPercentage: q.DiscountPercentage,
		TaxPercentage:      q.TaxPercentage,
		PromotionDiscount:  q.PromotionDiscount,
		PackageDiscount:    q.PackageDiscount,
	}
}

// Breakdown recomputes the price from the stored items.
func (q Quotation) Breakdown() (pricing.Breakdown, error) {
	items := make([]pricing.Item, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, it.PricingItem())
	}
	b, err := pricing.Calculate(items, q.Adjustments())
	if err != nil {
		return pricing.Breakdown{}, err
	}
	return b.Round(q.Currency), nil
}

// PickupAt combines the pickup calendar date and time of day in loc.
func (q Quotation) PickupAt(loc *time.Location) *time.Time {
	if q.PickupDate == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	d := *q.PickupDate
	at := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	if q.PickupTime != nil {
		at = at.Add(time.Duration(*q.PickupTime) * time.Minute)
	}
	return &at
}
