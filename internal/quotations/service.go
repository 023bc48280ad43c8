package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/magiclink"
	"github.com/charterdesk/charterdesk/internal/payments"
	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/workflow"
)

type Pricer interface {
	Price(ctx context.Context, req pricing.PriceRequest) (pricing.Quote, error)
}

type NotificationKind string

const (
	NotifyQuotation   NotificationKind = "quotation"
	NotifyReminder    NotificationKind = "reminder"
	NotifyPaymentLink NotificationKind = "payment_link"
)

// Notification asks the worker to email the customer.
type Notification struct {
	QuotationID uuid.UUID        `json:"quotation_id"`
	Kind        NotificationKind `json:"kind"`
	AccessURL   string           `json:"access_url,omitempty"`
}

type Notifier interface {
	EnqueueQuotationEmail(ctx context.Context, n Notification) error
}

type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, req payments.LinkRequest) (payments.Link, error)
}

type DocumentRenderer interface {
	RenderQuotation(ctx context.Context, q *Quotation) ([]byte, error)
}

type InvoiceRenderer interface {
	RenderInvoice(ctx context.Context, q *Quotation) ([]byte, error)
}

type LinkIssuer interface {
	Issue(quotationID uuid.UUID, email string) (string, time.Time, error)
	Verify(token string) (magiclink.Claims, error)
}

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Repo      Repository
	Pricer    Pricer
	Notifier  Notifier
	Payments  PaymentLinker
	Documents DocumentRenderer
	Invoices  InvoiceRenderer
	Links     LinkIssuer
	Logger    *slog.Logger
	Now       func() time.Time

	Validity        time.Duration
	ReminderWindow  time.Duration
	PublicBaseURL   string
	DefaultCurrency string
	Location        *time.Location
}

type Service struct {
	repo      Repository
	pricer    Pricer
	notifier  Notifier
	payments  PaymentLinker
	documents DocumentRenderer
	invoices  InvoiceRenderer
	links     LinkIssuer
	logger    *slog.Logger
	now       func() time.Time

	validity        time.Duration
	reminderWindow  time.Duration
	publicBaseURL   string
	defaultCurrency string
	location        *time.Location
}

func NewService(p ServiceParams) *Service {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Validity <= 0 {
		p.Validity = workflow.DefaultValidity
	}
	if p.ReminderWindow <= 0 {
		p.ReminderWindow = workflow.DefaultReminderWindow
	}
	if p.DefaultCurrency == "" {
		p.DefaultCurrency = "JPY"
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return &Service{
		repo:            p.Repo,
		pricer:          p.Pricer,
		notifier:        p.Notifier,
		payments:        p.Payments,
		documents:       p.Documents,
		invoices:        p.Invoices,
		links:           p.Links,
		logger:          p.Logger,
		now:             p.Now,
		validity:        p.Validity,
		reminderWindow:  p.ReminderWindow,
		publicBaseURL:   strings.TrimRight(p.PublicBaseURL, "/"),
		defaultCurrency: strings.ToUpper(p.DefaultCurrency),
		location:        p.Location,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest, actor string) (*Quotation, error) {
	now := s.now()
	q := Quotation{
		ID:                 uuid.New(),
		Title:              strings.TrimSpace(req.Title),
		Status:             StatusDraft,
		CustomerName:       strings.TrimSpace(req.CustomerName),
		CustomerEmail:      strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerPhone:      req.CustomerPhone,
		ServiceTypeID:      req.ServiceTypeID,
		VehicleID:          req.VehicleID,
		VehicleCategoryID:  req.VehicleCategoryID,
		DurationHours:      req.DurationHours,
		ServiceDays:        req.ServiceDays,
		HoursPerDay:        req.HoursPerDay,
		Currency:           s.currency(req.Currency),
		DiscountPercentage: req.DiscountPercentage,
		TaxPercentage:      req.TaxPercentage,
		PromotionDiscount:  req.PromotionDiscount,
		PackageDiscount:    req.PackageDiscount,
		Notes:              req.Notes,
		CreatedBy:          actor,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(s.validity),
	}

	var err error
	if q.PickupDate, err = parseDate(req.PickupDate); err != nil {
		return nil, err
	}
	if q.PickupTime, err = parseClockInput(req.PickupTime); err != nil {
		return nil, err
	}
	if q.Items, err = buildItems(q.ID, req.Items); err != nil {
		return nil, err
	}
	if err := s.price(ctx, &q); err != nil {
		return nil, err
	}

	if q.QuoteNumber, err = s.repo.NextQuoteNumber(ctx, now); err != nil {
		return nil, fmt.Errorf("generate quote number: %w", err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Insert(ctx, q); err != nil {
			return err
		}
		if err := repo.ReplaceItems(ctx, q.ID, q.Items); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, s.activity(q.ID, actor, "created", map[string]any{
			"quote_number": q.QuoteNumber,
			"total_amount": q.TotalAmount.String(),
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}
	s.logger.Info("quotation created",
		slog.String("quotation_id", q.ID.String()),
		slog.String("quote_number", q.QuoteNumber),
		slog.String("total_amount", q.TotalAmount.String()),
	)

	if req.SendNow {
		return s.Send(ctx, q.ID, actor)
	}
	return s.repo.Get(ctx, q.ID)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest, actor string) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(existing.Status, "update", StatusDraft, StatusSent); err != nil {
		return nil, err
	}

	q := *existing
	serviceChanged, err := applyUpdate(&q, req)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Items != nil:
		if q.Items, err = buildItems(q.ID, *req.Items); err != nil {
			return nil, err
		}
	case serviceChanged && catalogueDerived(existing.Items):
		q.Items = nil
		q.TimeBasedAdjustment = decimal.Zero
	}
	if err := s.price(ctx, &q); err != nil {
		return nil, err
	}
	now := s.now()
	q.UpdatedAt = now
	q.ExpiresAt = now.Add(s.validity)

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateDetails(ctx, q); err != nil {
			return err
		}
		if err := repo.ReplaceItems(ctx, q.ID, q.Items); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, s.activity(id, actor, "updated", map[string]any{
			"total_amount": q.TotalAmount.String(),
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("update quotation: %w", err)
	}
	s.logger.Info("quotation updated", slog.String("quotation_id", id.String()), slog.String("actor", actor))
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Quotation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]Quotation, int, error) {
	if req.Status != nil && !req.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, *req.Status)
	}
	return s.repo.List(ctx, req)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := requireStatus(q.Status, "delete", StatusDraft); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete quotation: %w", err)
	}
	s.logger.Info("quotation deleted", slog.String("quotation_id", id.String()), slog.String("actor", actor))
	return nil
}

func (s *Service) Activities(ctx context.Context, id uuid.UUID) ([]Activity, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, id)
}

// Timeline derives the workflow steps of a quotation for the viewer.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID, viewer workflow.Viewer) (workflow.Timeline, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return workflow.Timeline{}, err
	}
	return workflow.Derive(q.Milestones(), s.workflowOptions(viewer)), nil
}

func (s *Service) Send(ctx context.Context, id uuid.UUID, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(q.Status, StatusSent); err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(s.validity)
	to := StatusSent
	err = s.transition(ctx, q, actor, "sent", MilestoneUpdate{
		To:         &to,
		ExpiresAt:  &expires,
		LastSentAt: &now,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, q, NotifyQuotation); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) SendReminder(ctx context.Context, id uuid.UUID, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(q.Status, "remind", StatusSent); err != nil {
		return nil, err
	}
	if q.ReminderSentAt != nil {
		return nil, fmt.Errorf("%w: reminder already sent", ErrInvalidStatus)
	}

	now := s.now()
	if err := s.transition(ctx, q, actor, "reminder_sent", MilestoneUpdate{ReminderSentAt: &now}, nil); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, q, NotifyReminder); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, req ApproveRequest, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(q.Status, StatusApproved); err != nil {
		return nil, err
	}

	now := s.now()
	to := StatusApproved
	err = s.transition(ctx, q, actor, "approved", MilestoneUpdate{
		To:            &to,
		ApprovedAt:    &now,
		ApprovalNotes: req.Notes,
	}, nil)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason, actor string) (*Quotation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(q.Status, StatusRejected); err != nil {
		return nil, err
	}

	now := s.now()
	to := StatusRejected
	err = s.transition(ctx, q, actor, "rejected", MilestoneUpdate{
		To:             &to,
		RejectedAt:     &now,
		RejectedReason: &reason,
	}, map[string]any{"reason": reason})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// GenerateInvoice renders the invoice PDF and records the milestone.
func (s *Service) GenerateInvoice(ctx context.Context, id uuid.UUID, actor string) ([]byte, *Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := requireStatus(q.Status, "invoice", StatusApproved, StatusPaid, StatusConverted); err != nil {
		return nil, nil, err
	}
	if s.invoices == nil {
		return nil, nil, errors.New("invoice renderer not configured")
	}

	pdf, err := s.invoices.RenderInvoice(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("render invoice: %w", err)
	}
	now := s.now()
	if err := s.transition(ctx, q, actor, "invoice_generated", MilestoneUpdate{InvoiceGeneratedAt: &now}, nil); err != nil {
		return nil, nil, err
	}
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return pdf, updated, nil
}

// RenderPDF renders the customer facing quotation document.
func (s *Service) RenderPDF(ctx context.Context, id uuid.UUID) ([]byte, *Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.documents == nil {
		return nil, nil, errors.New("document renderer not configured")
	}
	pdf, err := s.documents.RenderQuotation(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: render quotation: %v", ErrDelivery, err)
	}
	return pdf, q, nil
}

func (s *Service) SendPaymentLink(ctx context.Context, id uuid.UUID, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(q.Status, "send a payment link for", StatusApproved); err != nil {
		return nil, err
	}
	if !q.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: quotation %s has nothing to collect", ErrValidation, q.QuoteNumber)
	}
	if s.payments == nil {
		return nil, fmt.Errorf("%w: payment provider not configured", ErrDelivery)
	}

	link, err := s.payments.CreatePaymentLink(ctx, payments.LinkRequest{
		Reference:     q.ID.String(),
		Description:   fmt.Sprintf("%s %s", q.QuoteNumber, q.Title),
		Amount:        q.TotalAmount,
		Currency:      q.Currency,
		CustomerEmail: q.CustomerEmail,
	})
	if err != nil {
		s.logger.Error("create payment link", slog.String("quotation_id", id.String()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: create payment link: %v", ErrDelivery, err)
	}

	now := s.now()
	err = s.transition(ctx, q, actor, "payment_link_sent", MilestoneUpdate{
		PaymentLinkSentAt: &now,
		PaymentLinkURL:    &link.URL,
	}, map[string]any{"payment_link_id": link.ID})
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, q, NotifyPaymentLink); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, req MarkPaidRequest, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(q.Status, StatusPaid); err != nil {
		return nil, err
	}

	amount := q.TotalAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: payment amount must not be negative", ErrValidation)
	}
	if exceedsScale(amount) {
		return nil, fmt.Errorf("%w: payment amount has more than %d decimal places", ErrValidation, storedScale)
	}
	paidAt := s.now()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	method := req.Method
	details := map[string]any{"amount": amount.String(), "method": method}
	if req.Reference != nil {
		details["reference"] = *req.Reference
	}

	to := StatusPaid
	err = s.transition(ctx, q, actor, "paid", MilestoneUpdate{
		To:                 &to,
		PaymentCompletedAt: &paidAt,
		PaymentAmount:      &amount,
		PaymentMethod:      &method,
	}, details)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// ConvertToBooking creates the booking and marks the quotation converted in one transaction.
func (s *Service) ConvertToBooking(ctx context.Context, id uuid.UUID, actor string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(q.Status, StatusConverted); err != nil {
		return nil, err
	}

	now := s.now()
	booking := Booking{
		ID:          uuid.New(),
		QuotationID: q.ID,
		ServiceDate: q.PickupDate,
		PickupTime:  q.PickupTime,
		VehicleID:   q.VehicleID,
		Status:      BookingStatusConfirmed,
		CreatedAt:   now,
	}
	to := StatusConverted
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.InsertBooking(ctx, booking); err != nil {
			return err
		}
		if err := repo.ApplyMilestones(ctx, q.ID, MilestoneUpdate{
			From:             q.Status,
			To:               &to,
			BookingCreatedAt: &now,
			BookingID:        &booking.ID,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, s.activity(q.ID, actor, "converted", map[string]any{"booking_id": booking.ID.String()}))
	})
	if err != nil {
		return nil, fmt.Errorf("convert quotation: %w", err)
	}
	s.logger.Info("quotation converted",
		slog.String("quotation_id", id.String()),
		slog.String("booking_id", booking.ID.String()),
	)
	return s.repo.Get(ctx, id)
}

// IssueAccessLink creates a magic link for the quotation's customer.
func (s *Service) IssueAccessLink(ctx context.Context, id uuid.UUID) (AccessLink, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return AccessLink{}, err
	}
	return s.accessLink(q)
}

func (s *Service) accessLink(q *Quotation) (AccessLink, error) {
	if s.links == nil {
		return AccessLink{}, errors.New("magic links not configured")
	}
	token, expires, err := s.links.Issue(q.ID, q.CustomerEmail)
	if err != nil {
		return AccessLink{}, err
	}
	return AccessLink{
		Token:     token,
		URL:       s.publicBaseURL + "/quote-access/" + token,
		ExpiresAt: expires,
	}, nil
}

// ViewByToken resolves a magic link to the quotation and its customer timeline.
func (s *Service) ViewByToken(ctx context.Context, token string) (*AccessView, error) {
	q, _, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &AccessView{
		Quotation: q,
		Timeline:  workflow.Derive(q.Milestones(), s.workflowOptions(workflow.ViewerCustomer)),
	}, nil
}

func (s *Service) ApproveByToken(ctx context.Context, token string, req ApproveRequest) (*Quotation, error) {
	q, actor, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Approve(ctx, q.ID, req, actor)
}

func (s *Service) RejectByToken(ctx context.Context, token, reason string) (*Quotation, error) {
	q, actor, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Reject(ctx, q.ID, reason, actor)
}

func (s *Service) resolveToken(ctx context.Context, token string) (*Quotation, string, error) {
	if s.links == nil {
		return nil, "", magiclink.ErrInvalidToken
	}
	claims, err := s.links.Verify(token)
	if err != nil {
		return nil, "", err
	}
	q, err := s.repo.Get(ctx, claims.QuotationID)
	if err != nil {
		return nil, "", err
	}
	if !strings.EqualFold(q.CustomerEmail, claims.Email) {
		return nil, "", ErrAccessDenied
	}
	return q, "customer:" + claims.Email, nil
}

// SendDueReminders reminds every sent quotation whose expiry falls inside the reminder window.
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.repo.ListReminderCandidates(ctx, now, now.Add(s.reminderWindow))
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}

	opts := s.workflowOptions(workflow.ViewerStaff)
	opts.Now = now
	sent := 0
	var errs []error
	for _, q := range candidates {
		if !workflow.ReminderDue(q.Milestones(), opts) {
			continue
		}
		if _, err := s.SendReminder(ctx, q.ID, "system:reminder-scan"); err != nil {
			s.logger.Warn("send reminder", slog.String("quotation_id", q.ID.String()), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// ExpireOverdue marks sent quotations past their expiry as expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire quotations: %w", err)
	}
	if n > 0 {
		s.logger.Info("quotations expired", slog.Int64("count", n))
	}
	return n, nil
}

// transition applies a milestone update from the quotation's current status and records the activity.
func (s *Service) transition(ctx context.Context, q *Quotation, actor, action string, m MilestoneUpdate, details map[string]any) error {
	m.From = q.Status
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.ApplyMilestones(ctx, q.ID, m); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, s.activity(q.ID, actor, action, details))
	})
	if err != nil {
		return fmt.Errorf("%s quotation: %w", action, err)
	}
	s.logger.Info("quotation "+strings.ReplaceAll(action, "_", " "),
		slog.String("quotation_id", q.ID.String()),
		slog.String("actor", actor),
	)
	return nil
}

// notify enqueues the customer email. The status change before it is not rolled back on failure.
func (s *Service) notify(ctx context.Context, q *Quotation, kind NotificationKind) error {
	if s.notifier == nil {
		s.logger.Warn("notifier not configured, email skipped", slog.String("quotation_id", q.ID.String()))
		return nil
	}
	link, err := s.accessLink(q)
	if err != nil {
		return fmt.Errorf("%w: issue access link: %v", ErrDelivery, err)
	}
	if err := s.notifier.EnqueueQuotationEmail(ctx, Notification{QuotationID: q.ID, Kind: kind, AccessURL: link.URL}); err != nil {
		s.logger.Error("enqueue quotation email",
			slog.String("quotation_id", q.ID.String()),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: enqueue %s email: %v", ErrDelivery, kind, err)
	}
	return nil
}

// price fills amounts from explicit items, or from the catalogue when there are none.
func (s *Service) price(ctx context.Context, q *Quotation) error {
	if err := checkScale(q); err != nil {
		return err
	}
	req := pricing.PriceRequest{Adjustments: q.Adjustments(), Currency: q.Currency}
	if len(q.Items) > 0 {
		for _, it := range q.Items {
			req.Items = append(req.Items, it.PricingItem())
		}
	} else {
		if q.ServiceTypeID == nil && q.VehicleID == nil {
			return fmt.Errorf("%w: items or a service type and vehicle are required", ErrValidation)
		}
		query := pricing.Query{DurationHours: q.DurationHours, ServiceDays: q.ServiceDays}
		if q.ServiceTypeID != nil {
			query.ServiceTypeID = *q.ServiceTypeID
		}
		if q.VehicleID != nil {
			query.VehicleID = *q.VehicleID
		}
		if q.VehicleCategoryID != nil {
			query.CategoryID = *q.VehicleCategoryID
		}
		req.Service = &query
		req.PickupAt = q.PickupAt(s.location)
	}

	quote, err := s.pricer.Price(ctx, req)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidAdjustment) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return err
	}

	if quote.BasePrice != nil {
		if quote.Currency != "" {
			q.Currency = quote.Currency
		}
		item := ServiceItem{
			ID:            uuid.New(),
			QuotationID:   q.ID,
			Description:   serviceDescription(q),
			ServiceTypeID: q.ServiceTypeID,
			VehicleID:     q.VehicleID,
			UnitPrice:     quote.BasePrice.Amount,
			Quantity:      decimal.NewFromInt(1),
			PickupDate:    q.PickupDate,
			PickupTime:    q.PickupTime,
			SortOrder:     1,
			Source:        ItemSourceCatalogue,
		}
		q.TimeBasedAdjustment = decimal.Zero
		if quote.AppliedRule != nil {
			item.TimeAdjustmentPercentage = quote.AppliedRule.AdjustmentPercentage
			q.TimeBasedAdjustment = quote.AppliedRule.AdjustmentPercentage
		}
		q.Items = []ServiceItem{item}
	}

	b := quote.Breakdown.Round(q.Currency)
	q.Amount = b.Base
	q.TotalAmount = b.Total
	return nil
}

func (s *Service) workflowOptions(viewer workflow.Viewer) workflow.Options {
	return workflow.Options{
		Now:            s.now(),
		Validity:       s.validity,
		ReminderWindow: s.reminderWindow,
		Viewer:         viewer,
	}
}

func (s *Service) activity(id uuid.UUID, actor, action string, details map[string]any) Activity {
	return Activity{QuotationID: id, Actor: actor, Action: action, Details: details, CreatedAt: s.now()}
}

func (s *Service) currency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return s.defaultCurrency
	}
	return code
}

func serviceDescription(q *Quotation) string {
	switch {
	case q.ServiceDays > 1 && q.DurationHours > 0:
		return fmt.Sprintf("Charter service, %d days x %dh", q.ServiceDays, q.DurationHours)
	case q.DurationHours > 0:
		return fmt.Sprintf("Charter service, %dh", q.DurationHours)
	default:
		return "Charter service"
	}
}

func applyUpdate(q *Quotation, req UpdateRequest) (serviceChanged bool, err error) {
	if req.Title != nil {
		q.Title = strings.TrimSpace(*req.Title)
	}
	if req.CustomerName != nil {
		q.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerEmail != nil {
		q.CustomerEmail = strings.ToLower(strings.TrimSpace(*req.CustomerEmail))
	}
	if req.CustomerPhone != nil {
		q.CustomerPhone = req.CustomerPhone
	}
	if req.Notes != nil {
		q.Notes = req.Notes
	}
	if req.Currency != nil {
		q.Currency = strings.ToUpper(*req.Currency)
	}
	if req.DiscountPercentage != nil {
		q.DiscountPercentage = *req.DiscountPercentage
	}
	if req.TaxPercentage != nil {
		q.TaxPercentage = *req.TaxPercentage
	}
	if req.PromotionDiscount != nil {
		q.PromotionDiscount = *req.PromotionDiscount
	}
	if req.PackageDiscount != nil {
		q.PackageDiscount = *req.PackageDiscount
	}

	if req.ServiceTypeID != nil {
		q.ServiceTypeID, serviceChanged = req.ServiceTypeID, true
	}
	if req.VehicleID != nil {
		q.VehicleID, serviceChanged = req.VehicleID, true
	}
	if req.VehicleCategoryID != nil {
		q.VehicleCategoryID, serviceChanged = req.VehicleCategoryID, true
	}
	if req.DurationHours != nil {
		q.DurationHours, serviceChanged = *req.DurationHours, true
	}
	if req.ServiceDays != nil {
		q.ServiceDays, serviceChanged = *req.ServiceDays, true
	}
	if req.HoursPerDay != nil {
		q.HoursPerDay = *req.HoursPerDay
	}
	if req.PickupDate != nil {
		if q.PickupDate, err = parseDate(*req.PickupDate); err != nil {
			return false, err
		}
		serviceChanged = true
	}
	if req.PickupTime != nil {
		if q.PickupTime, err = parseClockInput(*req.PickupTime); err != nil {
			return false, err
		}
		serviceChanged = true
	}
	return serviceChanged, nil
}

func buildItems(quotationID uuid.UUID, in []ServiceItemInput) ([]ServiceItem, error) {
	items := make([]ServiceItem, 0, len(in))
	for i, it := range in {
		if it.UnitPrice.IsNegative() || it.Quantity.IsNegative() || (it.TotalPrice != nil && it.TotalPrice.IsNegative()) {
			return nil, fmt.Errorf("%w: item %d has a negative amount", ErrValidation, i+1)
		}
		date, err := parseDate(it.PickupDate)
		if err != nil {
			return nil, err
		}
		clock, err := parseClockInput(it.PickupTime)
		if err != nil {
			return nil, err
		}
		order := it.SortOrder
		if order == 0 {
			order = i + 1
		}
		items = append(items, ServiceItem{
			ID:                       uuid.New(),
			QuotationID:              quotationID,
			Description:              strings.TrimSpace(it.Description),
			ServiceTypeID:            it.ServiceTypeID,
			VehicleID:                it.VehicleID,
			UnitPrice:                it.UnitPrice,
			Quantity:                 it.Quantity,
			ServiceDays:              it.ServiceDays,
			HoursPerDay:              it.HoursPerDay,
			TotalPrice:               it.TotalPrice,
			TimeAdjustmentPercentage: it.TimeAdjustmentPercentage,
			PickupDate:               date,
			PickupTime:               clock,
			SortOrder:                order,
			Source:                   ItemSourceManual,
		})
	}
	return items, nil
}

// storedScale is the number of decimal places kept by the numeric columns.
const storedScale = 4

func exceedsScale(d decimal.Decimal) bool {
	return !d.Equal(d.Truncate(storedScale))
}

// checkScale rejects amounts the database would silently round.
func checkScale(q *Quotation) error {
	type field struct {
		name  string
		value decimal.Decimal
	}
	fields := []field{
		{"discount_percentage", q.DiscountPercentage},
		{"tax_percentage", q.TaxPercentage},
		{"promotion_discount", q.PromotionDiscount},
		{"package_discount", q.PackageDiscount},
	}
	for i, it := range q.Items {
		prefix := fmt.Sprintf("item %d ", i+1)
		fields = append(fields,
			field{prefix + "unit_price", it.UnitPrice},
			field{prefix + "quantity", it.Quantity},
			field{prefix + "time_adjustment_percentage", it.TimeAdjustmentPercentage},
		)
		if it.TotalPrice != nil {
			fields = append(fields, field{prefix + "total_price", *it.TotalPrice})
		}
	}
	for _, f := range fields {
		if exceedsScale(f.value) {
			return fmt.Errorf("%w: %s has more than %d decimal places", ErrValidation, f.name, storedScale)
		}
	}
	return nil
}

// catalogueDerived reports whether the lines were generated from the catalogue
// and may be replaced when the requested service changes.
func catalogueDerived(items []ServiceItem) bool {
	switch len(items) {
	case 0:
		return true
	case 1:
		return items[0].Source == ItemSourceCatalogue
	default:
		return false
	}
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("%w: pickup date %q", ErrValidation, s)
	}
	return &d, nil
}

func parseClockInput(s string) (*pricing.ClockTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	c, err := pricing.ParseClock(s)
	if err != nil {
		return nil, fmt.Errorf("%w: pickup time %q", ErrValidation, s)
	}
	return &c, nil
}
