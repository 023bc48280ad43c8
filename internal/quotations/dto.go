package quotations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/workflow"
)

type CreateRequest struct {
	Title              string             `json:"title" validate:"required,max=200"`
	CustomerName       string             `json:"customer_name" validate:"required,max=200"`
	CustomerEmail      string             `json:"customer_email" validate:"required,email"`
	CustomerPhone      *string            `json:"customer_phone,omitempty" validate:"omitempty,max=50"`
	ServiceTypeID      *uuid.UUID         `json:"service_type_id,omitempty"`
	VehicleID          *uuid.UUID         `json:"vehicle_id,omitempty"`
	VehicleCategoryID  *uuid.UUID         `json:"vehicle_category_id,omitempty"`
	PickupDate         string             `json:"pickup_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PickupTime         string             `json:"pickup_time,omitempty" validate:"omitempty,datetime=15:04"`
	DurationHours      int                `json:"duration_hours" validate:"gte=0,lte=24"`
	ServiceDays        int                `json:"service_days" validate:"gte=0,lte=365"`
	HoursPerDay        int                `json:"hours_per_day" validate:"gte=0,lte=24"`
	Currency           string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	DiscountPercentage decimal.Decimal    `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal    `json:"tax_percentage"`
	PromotionDiscount  decimal.Decimal    `json:"promotion_discount"`
	PackageDiscount    decimal.Decimal    `json:"package_discount"`
	Notes              *string            `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Items              []ServiceItemInput `json:"items,omitempty" validate:"omitempty,dive"`
	SendNow            bool               `json:"send_now"`
}

type ServiceItemInput struct {
	Description              string           `json:"description" validate:"required,max=500"`
	ServiceTypeID            *uuid.UUID       `json:"service_type_id,omitempty"`
	VehicleID                *uuid.UUID       `json:"vehicle_id,omitempty"`
	UnitPrice                decimal.Decimal  `json:"unit_price"`
	Quantity                 decimal.Decimal  `json:"quantity"`
	ServiceDays              int              `json:"service_days" validate:"gte=0,lte=365"`
	HoursPerDay              int              `json:"hours_per_day" validate:"gte=0,lte=24"`
	TotalPrice               *decimal.Decimal `json:"total_price,omitempty"`
	TimeAdjustmentPercentage decimal.Decimal  `json:"time_adjustment_percentage"`
	PickupDate               string           `json:"pickup_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PickupTime               string           `json:"pickup_time,omitempty" validate:"omitempty,datetime=15:04"`
	SortOrder                int              `json:"sort_order" validate:"gte=0"`
}

// UpdateRequest patches a draft or sent quotation. Nil fields are left unchanged.
type UpdateRequest struct {
	Title              *string             `json:"title,omitempty" validate:"omitempty,max=200"`
	CustomerName       *string             `json:"customer_name,omitempty" validate:"omitempty,max=200"`
	CustomerEmail      *string             `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerPhone      *string             `json:"customer_phone,omitempty" validate:"omitempty,max=50"`
	ServiceTypeID      *uuid.UUID          `json:"service_type_id,omitempty"`
	VehicleID          *uuid.UUID          `json:"vehicle_id,omitempty"`
	VehicleCategoryID  *uuid.UUID          `json:"vehicle_category_id,omitempty"`
	PickupDate         *string             `json:"pickup_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PickupTime         *string             `json:"pickup_time,omitempty" validate:"omitempty,datetime=15:04"`
	DurationHours      *int                `json:"duration_hours,omitempty" validate:"omitempty,gte=0,lte=24"`
	ServiceDays        *int                `json:"service_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	HoursPerDay        *int                `json:"hours_per_day,omitempty" validate:"omitempty,gte=0,lte=24"`
	Currency           *string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	DiscountPercentage *decimal.Decimal    `json:"discount_percentage,omitempty"`
	TaxPercentage      *decimal.Decimal    `json:"tax_percentage,omitempty"`
	PromotionDiscount  *decimal.Decimal    `json:"promotion_discount,omitempty"`
	PackageDiscount    *decimal.Decimal    `json:"package_discount,omitempty"`
	Notes              *string             `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Items              *[]ServiceItemInput `json:"items,omitempty" validate:"omitempty,dive"`
}

type ListRequest struct {
	Status        *Status    `json:"status,omitempty"`
	CustomerEmail *string    `json:"customer_email,omitempty" validate:"omitempty,email"`
	DateFrom      *time.Time `json:"date_from,omitempty"`
	DateTo        *time.Time `json:"date_to,omitempty"`
	Limit         int        `json:"limit" validate:"gte=0,lte=200"`
	Offset        int        `json:"offset" validate:"gte=0"`
}

type ApproveRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type MarkPaidRequest struct {
	// Amount defaults to the quotation total.
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Method    string           `json:"method" validate:"required,oneof=bank_transfer card cash payment_link other"`
	PaidAt    *time.Time       `json:"paid_at,omitempty"`
	Reference *string          `json:"reference,omitempty" validate:"omitempty,max=200"`
}

// AccessLink is a customer magic link.
type AccessLink struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessView is what a customer sees through a magic link.
type AccessView struct {
	Quotation *Quotation        `json:"quotation"`
	Timeline  workflow.Timeline `json:"timeline"`
}
