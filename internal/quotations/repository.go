package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/platform/db"
	"github.com/charterdesk/charterdesk/internal/pricing"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Quotation, error)
	List(ctx context.Context, req ListRequest) ([]Quotation, int, error)
	ListReminderCandidates(ctx context.Context, now, until time.Time) ([]Quotation, error)
	NextQuoteNumber(ctx context.Context, at time.Time) (string, error)
	Insert(ctx context.Context, q Quotation) error
	UpdateDetails(ctx context.Context, q Quotation) error
	ReplaceItems(ctx context.Context, quotationID uuid.UUID, items []ServiceItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ApplyMilestones(ctx context.Context, id uuid.UUID, m MilestoneUpdate) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	InsertBooking(ctx context.Context, b Booking) error
	RecordActivity(ctx context.Context, a Activity) error
	ListActivities(ctx context.Context, quotationID uuid.UUID) ([]Activity, error)
}

// MilestoneUpdate moves a quotation from one status and records milestones.
// Timestamps already set in the row are kept.
type MilestoneUpdate struct {
	From               Status
	To                 *Status
	ExpiresAt          *time.Time
	LastSentAt         *time.Time
	ReminderSentAt     *time.Time
	ApprovedAt         *time.Time
	ApprovalNotes      *string
	RejectedAt         *time.Time
	RejectedReason     *string
	InvoiceGeneratedAt *time.Time
	PaymentLinkSentAt  *time.Time
	PaymentLinkURL     *string
	PaymentCompletedAt *time.Time
	PaymentAmount      *decimal.Decimal
	PaymentMethod      *string
	BookingCreatedAt   *time.Time
	BookingID          *uuid.UUID
	UpdatedAt          time.Time
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, inTx := r.db.(pgx.Tx); inTx {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const quotationColumns = `
	q.id, q.quote_number, q.title, q.status, q.customer_name, q.customer_email, q.customer_phone,
	q.service_type_id::text, q.vehicle_id::text, q.vehicle_category_id::text,
	q.pickup_date, to_char(q.pickup_time, 'HH24:MI'), q.duration_hours, q.service_days, q.hours_per_day,
	q.amount::text, q.total_amount::text, q.currency, q.discount_percentage::text, q.tax_percentage::text,
	q.promotion_discount::text, q.package_discount::text, q.time_based_adjustment::text,
	q.notes, q.created_by, q.created_at, q.updated_at, q.expires_at,
	q.last_sent_at, q.reminder_sent_at, q.approved_at, q.approval_notes, q.rejected_at, q.rejected_reason,
	q.invoice_generated_at, q.payment_link_sent_at, q.payment_link_url, q.payment_completed_at,
	q.payment_amount::text, q.payment_method, q.booking_created_at, q.booking_id::text`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var (
		q                                                 Quotation
		status                                            string
		serviceTypeID, vehicleID, categoryID, bookingID   *string
		pickupTime                                        *string
		amount, total, discount, tax, promotion, pkg, adj string
		paymentAmount                                     *string
	)
	err := row.Scan(
		&q.ID, &q.QuoteNumber, &q.Title, &status, &q.CustomerName, &q.CustomerEmail, &q.CustomerPhone,
		&serviceTypeID, &vehicleID, &categoryID,
		&q.PickupDate, &pickupTime, &q.DurationHours, &q.ServiceDays, &q.HoursPerDay,
		&amount, &total, &q.Currency, &discount, &tax,
		&promotion, &pkg, &adj,
		&q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt, &q.ExpiresAt,
		&q.LastSentAt, &q.ReminderSentAt, &q.ApprovedAt, &q.ApprovalNotes, &q.RejectedAt, &q.RejectedReason,
		&q.InvoiceGeneratedAt, &q.PaymentLinkSentAt, &q.PaymentLinkURL, &q.PaymentCompletedAt,
		&paymentAmount, &q.PaymentMethod, &q.BookingCreatedAt, &bookingID,
	)
	if err != nil {
		return nil, err
	}
	q.Status = Status(status)
	q.ServiceTypeID = parseUUID(serviceTypeID)
	q.VehicleID = parseUUID(vehicleID)
	q.VehicleCategoryID = parseUUID(categoryID)
	q.BookingID = parseUUID(bookingID)
	if q.PickupTime, err = parseClock(pickupTime); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&q.Amount, amount}, {&q.TotalAmount, total}, {&q.DiscountPercentage, discount},
		{&q.TaxPercentage, tax}, {&q.PromotionDiscount, promotion}, {&q.PackageDiscount, pkg},
		{&q.TimeBasedAdjustment, adj},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("quotation %s: %w", q.ID, err)
		}
	}
	if q.PaymentAmount, err = parseDecimal(paymentAmount); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	q, err := scanQuotation(r.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations q WHERE q.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if q.Items, err = r.listItems(ctx, id); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *repository) listItems(ctx context.Context, quotationID uuid.UUID) ([]ServiceItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, description, service_type_id::text, vehicle_id::text,
		       unit_price::text, quantity::text, service_days, hours_per_day, total_price::text,
		       time_adjustment_percentage::text, pickup_date, to_char(pickup_time, 'HH24:MI'), sort_order, source
		FROM quotation_items
		WHERE quotation_id = $1
		ORDER BY sort_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ServiceItem
	for rows.Next() {
		var (
			it                           ServiceItem
			serviceTypeID, vehicleID     *string
			unitPrice, quantity, timeAdj string
			totalPrice, pickupTime       *string
		)
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.Description, &serviceTypeID, &vehicleID,
			&unitPrice, &quantity, &it.ServiceDays, &it.HoursPerDay, &totalPrice,
			&timeAdj, &it.PickupDate, &pickupTime, &it.SortOrder, &it.Source); err != nil {
			return nil, err
		}
		it.ServiceTypeID = parseUUID(serviceTypeID)
		it.VehicleID = parseUUID(vehicleID)
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		if it.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, err
		}
		if it.TimeAdjustmentPercentage, err = decimal.NewFromString(timeAdj); err != nil {
			return nil, err
		}
		if it.TotalPrice, err = parseDecimal(totalPrice); err != nil {
			return nil, err
		}
		if it.PickupTime, err = parseClock(pickupTime); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Quotation, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("q.status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.CustomerEmail != nil {
		conditions = append(conditions, fmt.Sprintf("lower(q.customer_email) = lower($%d)", argPos))
		args = append(args, *req.CustomerEmail)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("q.created_at >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("q.created_at <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM quotations q %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM quotations q %s ORDER BY q.created_at DESC, q.id DESC LIMIT $%d OFFSET $%d`,
		quotationColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *repository) ListReminderCandidates(ctx context.Context, now, until time.Time) ([]Quotation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+quotationColumns+`
		FROM quotations q
		WHERE q.status = 'sent'
		  AND q.reminder_sent_at IS NULL
		  AND q.approved_at IS NULL
		  AND q.rejected_at IS NULL
		  AND q.expires_at > $1
		  AND q.expires_at <= $2
		ORDER BY q.expires_at`, now, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (r *repository) NextQuoteNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('quotation_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("QN-%s-%05d", at.Format("20060102"), seq), nil
}

func (r *repository) Insert(ctx context.Context, q Quotation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO quotations (
			id, quote_number, title, status, customer_name, customer_email, customer_phone,
			service_type_id, vehicle_id, vehicle_category_id, pickup_date, pickup_time,
			duration_hours, service_days, hours_per_day, amount, total_amount, currency,
			discount_percentage, tax_percentage, promotion_discount, package_discount,
			time_based_adjustment, notes, created_by, created_at, updated_at, expires_at, last_sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::uuid, $9::uuid, $10::uuid, $11, $12::time,
			$13, $14, $15, $16::numeric, $17::numeric, $18,
			$19::numeric, $20::numeric, $21::numeric, $22::numeric,
			$23::numeric, $24, $25, $26, $27, $28, $29
		)`,
		q.ID, q.QuoteNumber, q.Title, string(q.Status), q.CustomerName, q.CustomerEmail, q.CustomerPhone,
		uuidArg(q.ServiceTypeID), uuidArg(q.VehicleID), uuidArg(q.VehicleCategoryID), q.PickupDate, clockArg(q.PickupTime),
		q.DurationHours, q.ServiceDays, q.HoursPerDay, q.Amount.String(), q.TotalAmount.String(), q.Currency,
		q.DiscountPercentage.String(), q.TaxPercentage.String(), q.PromotionDiscount.String(), q.PackageDiscount.String(),
		q.TimeBasedAdjustment.String(), q.Notes, q.CreatedBy, q.CreatedAt, q.UpdatedAt, q.ExpiresAt, q.LastSentAt,
	)
	if err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	return nil
}

func (r *repository) UpdateDetails(ctx context.Context, q Quotation) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET
			title = $2, customer_name = $3, customer_email = $4, customer_phone = $5,
			service_type_id = $6::uuid, vehicle_id = $7::uuid, vehicle_category_id = $8::uuid,
			pickup_date = $9, pickup_time = $10::time, duration_hours = $11, service_days = $12,
			hours_per_day = $13, amount = $14::numeric, total_amount = $15::numeric, currency = $16,
			discount_percentage = $17::numeric, tax_percentage = $18::numeric,
			promotion_discount = $19::numeric, package_discount = $20::numeric,
			time_based_adjustment = $21::numeric, notes = $22, expires_at = $23, updated_at = $24
		WHERE id = $1 AND status IN ('draft', 'sent')`,
		q.ID, q.Title, q.CustomerName, q.CustomerEmail, q.CustomerPhone,
		uuidArg(q.ServiceTypeID), uuidArg(q.VehicleID), uuidArg(q.VehicleCategoryID),
		q.PickupDate, clockArg(q.PickupTime), q.DurationHours, q.ServiceDays,
		q.HoursPerDay, q.Amount.String(), q.TotalAmount.String(), q.Currency,
		q.DiscountPercentage.String(), q.TaxPercentage.String(),
		q.PromotionDiscount.String(), q.PackageDiscount.String(),
		q.TimeBasedAdjustment.String(), q.Notes, q.ExpiresAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quotation %s can no longer be edited", ErrInvalidStatus, q.ID)
	}
	return nil
}

func itemSource(s ItemSource) string {
	if s == "" {
		return string(ItemSourceManual)
	}
	return string(s)
}

func (r *repository) ReplaceItems(ctx context.Context, quotationID uuid.UUID, items []ServiceItem) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id = $1`, quotationID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	for _, it := range items {
		var total *string
		if it.TotalPrice != nil {
			s := it.TotalPrice.String()
			total = &s
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO quotation_items (
				id, quotation_id, description, service_type_id, vehicle_id, unit_price, quantity,
				service_days, hours_per_day, total_price, time_adjustment_percentage,
				pickup_date, pickup_time, sort_order, source
			) VALUES ($1, $2, $3, $4::uuid, $5::uuid, $6::numeric, $7::numeric, $8, $9, $10::numeric, $11::numeric, $12, $13::time, $14, $15)`,
			it.ID, quotationID, it.Description, uuidArg(it.ServiceTypeID), uuidArg(it.VehicleID),
			it.UnitPrice.String(), it.Quantity.String(), it.ServiceDays, it.HoursPerDay, total,
			it.TimeAdjustmentPercentage.String(), it.PickupDate, clockArg(it.PickupTime), it.SortOrder, itemSource(it.Source),
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotations WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ApplyMilestones(ctx context.Context, id uuid.UUID, m MilestoneUpdate) error {
	var to *string
	if m.To != nil {
		s := string(*m.To)
		to = &s
	}
	var amount *string
	if m.PaymentAmount != nil {
		s := m.PaymentAmount.String()
		amount = &s
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET
			status = COALESCE($3, status),
			expires_at = COALESCE($4, expires_at),
			last_sent_at = COALESCE(last_sent_at, $5),
			reminder_sent_at = COALESCE(reminder_sent_at, $6),
			approved_at = COALESCE(approved_at, $7),
			approval_notes = COALESCE(approval_notes, $8),
			rejected_at = COALESCE(rejected_at, $9),
			rejected_reason = COALESCE(rejected_reason, $10),
			invoice_generated_at = COALESCE(invoice_generated_at, $11),
			payment_link_sent_at = COALESCE(payment_link_sent_at, $12),
			payment_link_url = COALESCE($13, payment_link_url),
			payment_completed_at = COALESCE(payment_completed_at, $14),
			payment_amount = COALESCE(payment_amount, $15::numeric),
			payment_method = COALESCE(payment_method, $16),
			booking_created_at = COALESCE(booking_created_at, $17),
			booking_id = COALESCE(booking_id, $18::uuid),
			updated_at = $19
		WHERE id = $1 AND status = $2`,
		id, string(m.From), to, m.ExpiresAt,
		m.LastSentAt, m.ReminderSentAt, m.ApprovedAt, m.ApprovalNotes, m.RejectedAt, m.RejectedReason,
		m.InvoiceGeneratedAt, m.PaymentLinkSentAt, m.PaymentLinkURL, m.PaymentCompletedAt,
		amount, m.PaymentMethod, m.BookingCreatedAt, uuidArg(m.BookingID), m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("apply milestones: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quotation %s is no longer %s", ErrInvalidStatus, id, m.From)
	}
	return nil
}

func (r *repository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET status = 'expired', updated_at = $1
		WHERE status = 'sent' AND expires_at <= $1 AND approved_at IS NULL AND rejected_at IS NULL`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) InsertBooking(ctx context.Context, b Booking) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bookings (id, quotation_id, service_date, pickup_time, vehicle_id, status, created_at)
		VALUES ($1, $2, $3, $4::time, $5::uuid, $6, $7)`,
		b.ID, b.QuotationID, b.ServiceDate, clockArg(b.PickupTime), uuidArg(b.VehicleID), b.Status, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *repository) RecordActivity(ctx context.Context, a Activity) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO quotation_activities (quotation_id, actor, action, details, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)`,
		a.QuotationID, a.Actor, a.Action, string(details), a.CreatedAt,
	)
	return err
}

func (r *repository) ListActivities(ctx context.Context, quotationID uuid.UUID) ([]Activity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT quotation_id, actor, action, COALESCE(details::text, '{}'), created_at
		FROM quotation_activities
		WHERE quotation_id = $1
		ORDER BY created_at, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a       Activity
			details string
		)
		if err := rows.Scan(&a.QuotationID, &a.Actor, &a.Action, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func uuidArg(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func clockArg(c *pricing.ClockTime) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

func parseUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func parseClock(s *string) (*pricing.ClockTime, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	c, err := pricing.ParseClock(*s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
