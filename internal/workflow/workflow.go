// Package workflow derives the quotation step list from status and milestone timestamps.
package workflow

import (
	"fmt"
	"time"
)

// Status is the persisted quotation status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusPaid      Status = "paid"
	StatusConverted Status = "converted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusApproved, StatusRejected, StatusExpired, StatusPaid, StatusConverted:
		return true
	}
	return false
}

// StepID names a workflow step.
type StepID string

const (
	StepDraft       StepID = "draft"
	StepSent        StepID = "sent"
	StepReminder    StepID = "reminder"
	StepApproval    StepID = "approval"
	StepPaymentLink StepID = "payment_link"
	StepPaid        StepID = "paid"
	StepConverted   StepID = "converted"
)

// State is the derived state of a step.
type State string

const (
	StateCompleted State = "completed"
	StateCurrent   State = "current"
	StatePending   State = "pending"
	StateSkipped   State = "skipped"
)

// Viewer selects which actions are offered.
type Viewer string

const (
	ViewerStaff    Viewer = "staff"
	ViewerCustomer Viewer = "customer"
)

// ActionKind identifies the operation a client invokes for the current step.
type ActionKind string

const (
	ActionSendQuotation   ActionKind = "send_quotation"
	ActionSendReminder    ActionKind = "send_reminder"
	ActionRespond         ActionKind = "respond"
	ActionSendPaymentLink ActionKind = "send_payment_link"
	ActionMarkPaid        ActionKind = "mark_paid"
	ActionCreateBooking   ActionKind = "create_booking"
)

// Action is attached to the current step when the viewer can move it forward.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
}

// Step is one entry of the timeline.
type Step struct {
	ID      StepID     `json:"id"`
	Label   string     `json:"label"`
	State   State      `json:"state"`
	At      *time.Time `json:"at,omitempty"`
	Action  *Action    `json:"action,omitempty"`
	Warning string     `json:"warning,omitempty"`
}

// Timeline is the derived view of a quotation.
type Timeline struct {
	Steps     []Step    `json:"steps"`
	Current   *StepID   `json:"current,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// Step returns the step with the given id.
func (t Timeline) Step(id StepID) (Step, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Milestones is the subset of a quotation the deriver reads.
type Milestones struct {
	Status             Status
	CreatedAt          time.Time
	ExpiresAt          time.Time
	LastSentAt         *time.Time
	ReminderSentAt     *time.Time
	ApprovedAt         *time.Time
	RejectedAt         *time.Time
	InvoiceGeneratedAt *time.Time
	PaymentLinkSentAt  *time.Time
	PaymentCompletedAt *time.Time
	BookingCreatedAt   *time.Time
}

const (
	DefaultValidity       = 72 * time.Hour
	DefaultReminderWindow = 24 * time.Hour
)

// Options parameterise derivation. Zero values take the defaults.
type Options struct {
	Now            time.Time
	Validity       time.Duration
	ReminderWindow time.Duration
	Viewer         Viewer
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Validity <= 0 {
		o.Validity = DefaultValidity
	}
	if o.ReminderWindow <= 0 {
		o.ReminderWindow = DefaultReminderWindow
	}
	if o.Viewer == "" {
		o.Viewer = ViewerStaff
	}
	return o
}

// Expiry returns the stored expiry, or creation plus validity when none is stored.
func (m Milestones) Expiry(validity time.Duration) time.Time {
	if !m.ExpiresAt.IsZero() {
		return m.ExpiresAt
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return m.CreatedAt.Add(validity)
}

func (m Milestones) approved() bool {
	return m.ApprovedAt != nil || m.Status == StatusApproved || m.Status == StatusPaid || m.Status == StatusConverted
}

func (m Milestones) rejected() bool {
	return m.RejectedAt != nil || m.Status == StatusRejected
}

func (m Milestones) settled() bool {
	return m.Status == StatusPaid || m.Status == StatusConverted
}

// env carries values computed once per derivation.
type env struct {
	opts    Options
	expiry  time.Time
	expired bool
}

func newEnv(m Milestones, opts Options) env {
	e := env{opts: opts, expiry: m.Expiry(opts.Validity)}
	switch m.Status {
	case StatusExpired:
		e.expired = true
	case StatusSent:
		e.expired = !m.approved() && !m.rejected() && !opts.Now.Before(e.expiry)
	}
	return e
}

func reminderDue(m Milestones, e env) bool {
	if m.Status != StatusSent || m.approved() || m.rejected() || m.ReminderSentAt != nil {
		return false
	}
	left := e.expiry.Sub(e.opts.Now)
	return left > 0 && left <= e.opts.ReminderWindow
}

// ReminderDue reports whether a reminder should be sent now.
func ReminderDue(m Milestones, opts Options) bool {
	opts = opts.withDefaults()
	return reminderDue(m, newEnv(m, opts))
}

type stepDef struct {
	id      StepID
	label   func(Milestones) string
	present func(Milestones, env) bool
	done    func(Milestones) (bool, *time.Time)
	staff   *Action
	// staffOnly steps are hidden from customers until they complete.
	staffOnly bool
}

func fixed(s string) func(Milestones) string {
	return func(Milestones) string { return s }
}

var steps = []stepDef{
	{
		id:    StepDraft,
		label: fixed("Quotation drafted"),
		done: func(m Milestones) (bool, *time.Time) {
			if m.CreatedAt.IsZero() {
				return true, nil
			}
			at := m.CreatedAt
			return true, &at
		},
	},
	{
		id:    StepSent,
		label: fixed("Sent to customer"),
		done: func(m Milestones) (bool, *time.Time) {
			return m.Status != StatusDraft || m.LastSentAt != nil, m.LastSentAt
		},
		staff: &Action{Kind: ActionSendQuotation, Label: "Send quotation"},
	},
	{
		id:    StepReminder,
		label: fixed("Reminder"),
		present: func(m Milestones, e env) bool {
			return m.ReminderSentAt != nil || reminderDue(m, e)
		},
		done: func(m Milestones) (bool, *time.Time) {
			return m.ReminderSentAt != nil, m.ReminderSentAt
		},
		staff:     &Action{Kind: ActionSendReminder, Label: "Send reminder"},
		staffOnly: true,
	},
	{
		id: StepApproval,
		label: func(m Milestones) string {
			if m.rejected() {
				return "Rejected by customer"
			}
			if m.approved() {
				return "Approved by customer"
			}
			return "Customer approval"
		},
		done: func(m Milestones) (bool, *time.Time) {
			if m.rejected() {
				return true, m.RejectedAt
			}
			return m.approved(), m.ApprovedAt
		},
	},
	{
		id:    StepPaymentLink,
		label: fixed("Payment link sent"),
		done: func(m Milestones) (bool, *time.Time) {
			return m.PaymentLinkSentAt != nil || m.settled(), m.PaymentLinkSentAt
		},
		staff: &Action{Kind: ActionSendPaymentLink, Label: "Send payment link"},
	},
	{
		id:    StepPaid,
		label: fixed("Payment received"),
		done: func(m Milestones) (bool, *time.Time) {
			return m.PaymentCompletedAt != nil || m.settled(), m.PaymentCompletedAt
		},
		staff: &Action{Kind: ActionMarkPaid, Label: "Mark as paid"},
	},
	{
		id:    StepConverted,
		label: fixed("Booking created"),
		done: func(m Milestones) (bool, *time.Time) {
			return m.BookingCreatedAt != nil || m.Status == StatusConverted, m.BookingCreatedAt
		},
		staff: &Action{Kind: ActionCreateBooking, Label: "Create booking"},
	},
}

var respond = Action{Kind: ActionRespond, Label: "Approve or reject"}

func (d stepDef) action(v Viewer) *Action {
	if v == ViewerCustomer {
		if d.id != StepApproval {
			return nil
		}
		a := respond
		return &a
	}
	if d.staff == nil {
		return nil
	}
	a := *d.staff
	return &a
}

// Derive builds the timeline. It never fails and does not mutate its input.
func Derive(m Milestones, opts Options) Timeline {
	opts = opts.withDefaults()
	e := newEnv(m, opts)
	tl := Timeline{
		Steps:     make([]Step, 0, len(steps)),
		ExpiresAt: e.expiry,
		Expired:   e.expired,
	}

	awaiting := m.Status == StatusSent && !m.approved() && !m.rejected() && !e.expired
	warning := ""
	if awaiting && (m.ReminderSentAt != nil || reminderDue(m, e)) {
		warning = expiryWarning(e.expiry.Sub(opts.Now))
	}

	halted := false
	for _, def := range steps {
		if def.present != nil && !def.present(m, e) {
			continue
		}
		done, at := def.done(m)
		if def.staffOnly && !done && opts.Viewer == ViewerCustomer {
			continue
		}
		step := Step{ID: def.id, Label: def.label(m), State: StatePending}
		switch {
		case def.id == StepReminder:
			step.Warning = warning
		case def.id == StepApproval && opts.Viewer == ViewerCustomer && !done:
			step.Warning = warning
		}
		if done {
			step.State = StateCompleted
			step.At = copyTime(at)
			if def.id == StepApproval && m.rejected() {
				halted = true
			}
			tl.Steps = append(tl.Steps, step)
			continue
		}

		switch {
		case halted:
			step.State = StateSkipped
			step.Warning = ""
		case e.expired:
			step.State = StateSkipped
			step.Warning = ""
			halted = true
		case tl.Current == nil:
			step.State = StateCurrent
			step.Action = def.action(opts.Viewer)
			id := def.id
			tl.Current = &id
		}
		tl.Steps = append(tl.Steps, step)
	}
	return tl
}

func expiryWarning(left time.Duration) string {
	days := int(left / (24 * time.Hour))
	switch {
	case days <= 0:
		return "Expires today"
	case days == 1:
		return "Expires in 1 day"
	default:
		return fmt.Sprintf("Expires in %d days", days)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
