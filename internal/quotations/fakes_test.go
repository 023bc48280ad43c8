package quotations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charterdesk/charterdesk/internal/payments"
	"github.com/charterdesk/charterdesk/internal/pricing"
)

// memRepo keeps quotations in memory with the same status guard as the SQL repository.
type memRepo struct {
	mu         sync.Mutex
	quotations map[uuid.UUID]*Quotation
	bookings   []Booking
	activities []Activity
	seq        int
	// beforeUpdate runs under the lock ahead of UpdateDetails, standing in for a concurrent writer.
	beforeUpdate func(q *Quotation)
}

func newMemRepo() *memRepo {
	return &memRepo{quotations: make(map[uuid.UUID]*Quotation)}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func clone(q *Quotation) *Quotation {
	cp := *q
	cp.Items = append([]ServiceItem(nil), q.Items...)
	return &cp
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(q), nil
}

func (m *memRepo) List(_ context.Context, req ListRequest) ([]Quotation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quotation
	for _, q := range m.quotations {
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		out = append(out, *clone(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuoteNumber < out[j].QuoteNumber })
	return out, len(out), nil
}

func (m *memRepo) ListReminderCandidates(_ context.Context, now, until time.Time) ([]Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quotation
	for _, q := range m.quotations {
		if q.Status == StatusSent && q.ReminderSentAt == nil && q.ExpiresAt.After(now) && !q.ExpiresAt.After(until) {
			out = append(out, *clone(q))
		}
	}
	return out, nil
}

func (m *memRepo) NextQuoteNumber(_ context.Context, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("QN-%s-%05d", at.Format("20060102"), m.seq), nil
}

func (m *memRepo) Insert(_ context.Context, q Quotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotations[q.ID] = clone(&q)
	return nil
}

func (m *memRepo) UpdateDetails(_ context.Context, q Quotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.quotations[q.ID]
	if !ok {
		return ErrNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(cur)
	}
	if cur.Status != StatusDraft && cur.Status != StatusSent {
		return fmt.Errorf("%w: quotation %s can no longer be edited", ErrInvalidStatus, q.ID)
	}
	next := clone(&q)
	next.Status = cur.Status
	next.Items = cur.Items
	m.quotations[q.ID] = next
	return nil
}

func (m *memRepo) ReplaceItems(_ context.Context, id uuid.UUID, items []ServiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok {
		return ErrNotFound
	}
	q.Items = append([]ServiceItem(nil), items...)
	return nil
}

func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok || q.Status != StatusDraft {
		return ErrNotFound
	}
	delete(m.quotations, id)
	return nil
}

func keep[T any](cur, next *T) *T {
	if cur != nil {
		return cur
	}
	return next
}

func (m *memRepo) ApplyMilestones(_ context.Context, id uuid.UUID, u MilestoneUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok || q.Status != u.From {
		return fmt.Errorf("%w: quotation %s is no longer %s", ErrInvalidStatus, id, u.From)
	}
	if u.To != nil {
		q.Status = *u.To
	}
	if u.ExpiresAt != nil {
		q.ExpiresAt = *u.ExpiresAt
	}
	if u.PaymentLinkURL != nil {
		q.PaymentLinkURL = u.PaymentLinkURL
	}
	q.LastSentAt = keep(q.LastSentAt, u.LastSentAt)
	q.ReminderSentAt = keep(q.ReminderSentAt, u.ReminderSentAt)
	q.ApprovedAt = keep(q.ApprovedAt, u.ApprovedAt)
	q.ApprovalNotes = keep(q.ApprovalNotes, u.ApprovalNotes)
	q.RejectedAt = keep(q.RejectedAt, u.RejectedAt)
	q.RejectedReason = keep(q.RejectedReason, u.RejectedReason)
	q.InvoiceGeneratedAt = keep(q.InvoiceGeneratedAt, u.InvoiceGeneratedAt)
	q.PaymentLinkSentAt = keep(q.PaymentLinkSentAt, u.PaymentLinkSentAt)
	q.PaymentCompletedAt = keep(q.PaymentCompletedAt, u.PaymentCompletedAt)
	q.PaymentAmount = keep(q.PaymentAmount, u.PaymentAmount)
	q.PaymentMethod = keep(q.PaymentMethod, u.PaymentMethod)
	q.BookingCreatedAt = keep(q.BookingCreatedAt, u.BookingCreatedAt)
	q.BookingID = keep(q.BookingID, u.BookingID)
	q.UpdatedAt = u.UpdatedAt
	return nil
}

func (m *memRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, q := range m.quotations {
		if q.Status == StatusSent && !q.ExpiresAt.After(now) {
			q.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memRepo) InsertBooking(_ context.Context, b Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings = append(m.bookings, b)
	return nil
}

func (m *memRepo) RecordActivity(_ context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

func (m *memRepo) ListActivities(_ context.Context, id uuid.UUID) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for _, a := range m.activities {
		if a.QuotationID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) actions(id uuid.UUID) []string {
	acts, _ := m.ListActivities(context.Background(), id)
	out := make([]string, 0, len(acts))
	for _, a := range acts {
		out = append(out, a.Action)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) EnqueueQuotationEmail(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

type stubLinker struct {
	requests []payments.LinkRequest
	err      error
}

func (l *stubLinker) CreatePaymentLink(_ context.Context, req payments.LinkRequest) (payments.Link, error) {
	if l.err != nil {
		return payments.Link{}, l.err
	}
	l.requests = append(l.requests, req)
	return payments.Link{ID: "cs_test", URL: "https://pay.test/cs_test"}, nil
}

type stubRenderer struct {
	calls int
	err   error
}

func (r *stubRenderer) RenderQuotation(_ context.Context, q *Quotation) ([]byte, error) {
	r.calls++
	return []byte("%PDF-quotation " + q.QuoteNumber), r.err
}

func (r *stubRenderer) RenderInvoice(_ context.Context, q *Quotation) ([]byte, error) {
	r.calls++
	return []byte("%PDF-invoice " + q.QuoteNumber), r.err
}

type staticSource struct {
	catalog pricing.Catalog
}

func (s staticSource) LoadCatalog(context.Context) (pricing.Catalog, error) {
	return s.catalog, nil
}

var errBoom = errors.New("boom")
