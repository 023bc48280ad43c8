package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func states(tl Timeline) map[StepID]State {
	out := make(map[StepID]State, len(tl.Steps))
	for _, s := range tl.Steps {
		out[s.ID] = s.State
	}
	return out
}

func TestDeriveDraft(t *testing.T) {
	tl := Derive(Milestones{Status: StatusDraft, CreatedAt: created}, Options{Now: created.Add(time.Hour)})

	require.NotNil(t, tl.Current)
	assert.Equal(t, StepSent, *tl.Current)
	assert.Equal(t, created.Add(DefaultValidity), tl.ExpiresAt)
	assert.False(t, tl.Expired)

	sent, ok := tl.Step(StepSent)
	require.True(t, ok)
	require.NotNil(t, sent.Action)
	assert.Equal(t, ActionSendQuotation, sent.Action.Kind)

	_, hasReminder := tl.Step(StepReminder)
	assert.False(t, hasReminder)
	assert.Equal(t, []StepID{StepDraft, StepSent, StepApproval, StepPaymentLink, StepPaid, StepConverted}, ids(tl))
}

func TestDeriveReminderCurrentNearExpiry(t *testing.T) {
	m := Milestones{
		Status:     StatusSent,
		CreatedAt:  created,
		LastSentAt: tp(created.Add(time.Hour)),
	}
	now := created.Add(DefaultValidity - 10*time.Hour)

	tl := Derive(m, Options{Now: now})

	reminder, ok := tl.Step(StepReminder)
	require.True(t, ok)
	assert.Equal(t, StateCurrent, reminder.State)
	require.NotNil(t, reminder.Action)
	assert.Equal(t, ActionSendReminder, reminder.Action.Kind)
	assert.Equal(t, "Expires today", reminder.Warning)
	require.NotNil(t, tl.Current)
	assert.Equal(t, StepReminder, *tl.Current)
	assert.Equal(t, StatePending, states(tl)[StepApproval])
	assert.True(t, ReminderDue(m, Options{Now: now}))
}

func TestDeriveReminderWarningCountsDays(t *testing.T) {
	m := Milestones{Status: StatusSent, CreatedAt: created}
	now := created.Add(DefaultValidity - 47*time.Hour)

	tl := Derive(m, Options{Now: now, ReminderWindow: 48 * time.Hour})
	reminder, ok := tl.Step(StepReminder)
	require.True(t, ok)
	assert.Equal(t, "Expires in 1 day", reminder.Warning)
}

func TestDeriveNoReminderOutsideWindow(t *testing.T) {
	m := Milestones{Status: StatusSent, CreatedAt: created, LastSentAt: tp(created)}
	now := created.Add(time.Hour)

	tl := Derive(m, Options{Now: now})
	_, ok := tl.Step(StepReminder)
	assert.False(t, ok)
	require.NotNil(t, tl.Current)
	assert.Equal(t, StepApproval, *tl.Current)
	assert.False(t, ReminderDue(m, Options{Now: now}))
}

func TestDeriveSentReminderStaysCompleted(t *testing.T) {
	m := Milestones{
		Status:         StatusApproved,
		CreatedAt:      created,
		LastSentAt:     tp(created),
		ReminderSentAt: tp(created.Add(50 * time.Hour)),
		ApprovedAt:     tp(created.Add(60 * time.Hour)),
	}

	tl := Derive(m, Options{Now: created.Add(100 * time.Hour)})
	s := states(tl)
	assert.Equal(t, StateCompleted, s[StepReminder])
	assert.Equal(t, StateCompleted, s[StepApproval])
	assert.Equal(t, StateCurrent, s[StepPaymentLink])
	assert.False(t, tl.Expired, "approved quotations do not expire")
}

func TestDerivePaidMakesConvertedCurrent(t *testing.T) {
	tl := Derive(Milestones{Status: StatusPaid, CreatedAt: created}, Options{Now: created.Add(time.Hour)})

	s := states(tl)
	assert.Equal(t, StateCompleted, s[StepApproval])
	assert.Equal(t, StateCompleted, s[StepPaymentLink])
	assert.Equal(t, StateCompleted, s[StepPaid])
	assert.Equal(t, StateCurrent, s[StepConverted])

	converted, _ := tl.Step(StepConverted)
	require.NotNil(t, converted.Action)
	assert.Equal(t, ActionCreateBooking, converted.Action.Kind)
}

func TestDeriveConvertedHasNoCurrent(t *testing.T) {
	booked := created.Add(5 * time.Hour)
	tl := Derive(Milestones{Status: StatusConverted, CreatedAt: created, BookingCreatedAt: &booked}, Options{Now: booked})

	assert.Nil(t, tl.Current)
	for _, s := range tl.Steps {
		assert.Equal(t, StateCompleted, s.State, s.ID)
	}
	converted, _ := tl.Step(StepConverted)
	require.NotNil(t, converted.At)
	assert.Equal(t, booked, *converted.At)
}

func TestDeriveRejectedSkipsDownstream(t *testing.T) {
	rejected := created.Add(10 * time.Hour)
	tl := Derive(Milestones{
		Status:     StatusRejected,
		CreatedAt:  created,
		LastSentAt: tp(created),
		RejectedAt: &rejected,
	}, Options{Now: rejected})

	s := states(tl)
	assert.Equal(t, StateCompleted, s[StepApproval])
	assert.Equal(t, StateSkipped, s[StepPaymentLink])
	assert.Equal(t, StateSkipped, s[StepPaid])
	assert.Equal(t, StateSkipped, s[StepConverted])
	assert.Nil(t, tl.Current)

	approval, _ := tl.Step(StepApproval)
	assert.Equal(t, "Rejected by customer", approval.Label)
	for _, step := range tl.Steps {
		assert.Nil(t, step.Action, step.ID)
	}
}

func TestDeriveExpiredSkipsRemaining(t *testing.T) {
	m := Milestones{Status: StatusSent, CreatedAt: created, LastSentAt: tp(created)}
	tl := Derive(m, Options{Now: created.Add(DefaultValidity + time.Minute)})

	assert.True(t, tl.Expired)
	assert.Nil(t, tl.Current)
	assert.Equal(t, StateSkipped, states(tl)[StepApproval])
	_, hasReminder := tl.Step(StepReminder)
	assert.False(t, hasReminder)

	tl = Derive(Milestones{Status: StatusExpired, CreatedAt: created}, Options{Now: created})
	assert.True(t, tl.Expired)
	assert.Equal(t, StateSkipped, states(tl)[StepApproval])
}

func TestDeriveCustomerViewer(t *testing.T) {
	m := Milestones{Status: StatusSent, CreatedAt: created, LastSentAt: tp(created)}

	tl := Derive(m, Options{Now: created.Add(time.Hour), Viewer: ViewerCustomer})
	approval, _ := tl.Step(StepApproval)
	require.NotNil(t, approval.Action)
	assert.Equal(t, ActionRespond, approval.Action.Kind)

	tl = Derive(Milestones{Status: StatusApproved, CreatedAt: created}, Options{Now: created, Viewer: ViewerCustomer})
	link, _ := tl.Step(StepPaymentLink)
	assert.Equal(t, StateCurrent, link.State)
	assert.Nil(t, link.Action)

	// Inside the reminder window the customer can still respond.
	nearExpiry := Options{Now: created.Add(60 * time.Hour), Viewer: ViewerCustomer}
	tl = Derive(m, nearExpiry)
	_, hasReminder := tl.Step(StepReminder)
	assert.False(t, hasReminder)
	require.NotNil(t, tl.Current)
	assert.Equal(t, StepApproval, *tl.Current)
	approval, _ = tl.Step(StepApproval)
	require.NotNil(t, approval.Action)
	assert.Equal(t, ActionRespond, approval.Action.Kind)
	assert.Equal(t, "Expires today", approval.Warning)

	reminded := m
	reminded.ReminderSentAt = tp(created.Add(50 * time.Hour))
	tl = Derive(reminded, nearExpiry)
	reminder, ok := tl.Step(StepReminder)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, reminder.State)
	require.NotNil(t, tl.Current)
	assert.Equal(t, StepApproval, *tl.Current)
}

func TestDeriveSentReminderKeepsWarning(t *testing.T) {
	m := Milestones{
		Status:         StatusSent,
		CreatedAt:      created,
		LastSentAt:     tp(created),
		ReminderSentAt: tp(created.Add(50 * time.Hour)),
	}

	tl := Derive(m, Options{Now: created.Add(50 * time.Hour)})
	reminder, ok := tl.Step(StepReminder)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, reminder.State)
	assert.Equal(t, "Expires today", reminder.Warning)

	m.Status = StatusApproved
	m.ApprovedAt = tp(created.Add(51 * time.Hour))
	tl = Derive(m, Options{Now: created.Add(52 * time.Hour)})
	reminder, _ = tl.Step(StepReminder)
	assert.Empty(t, reminder.Warning)
}

func TestDeriveStoredExpiryWins(t *testing.T) {
	expires := created.Add(7 * 24 * time.Hour)
	tl := Derive(Milestones{Status: StatusSent, CreatedAt: created, ExpiresAt: expires}, Options{Now: created.Add(100 * time.Hour)})

	assert.Equal(t, expires, tl.ExpiresAt)
	assert.False(t, tl.Expired)
}

func TestDeriveIsIdempotent(t *testing.T) {
	m := Milestones{
		Status:         StatusSent,
		CreatedAt:      created,
		LastSentAt:     tp(created),
		ReminderSentAt: nil,
	}
	opts := Options{Now: created.Add(60 * time.Hour)}

	first := Derive(m, opts)
	second := Derive(m, opts)
	assert.Equal(t, first, second)

	first.Steps[0].At = tp(time.Time{})
	third := Derive(m, opts)
	assert.Equal(t, second, third)
}

func TestExactlyOneCurrentAcrossStatuses(t *testing.T) {
	now := created.Add(time.Hour)
	for _, status := range []Status{StatusDraft, StatusSent, StatusApproved, StatusPaid} {
		tl := Derive(Milestones{Status: status, CreatedAt: created}, Options{Now: now})
		count := 0
		for _, s := range tl.Steps {
			if s.State == StateCurrent {
				count++
			}
		}
		assert.Equal(t, 1, count, status)
	}
}

func ids(tl Timeline) []StepID {
	out := make([]StepID, 0, len(tl.Steps))
	for _, s := range tl.Steps {
		out = append(out, s.ID)
	}
	return out
}
