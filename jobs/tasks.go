package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/charterdesk/charterdesk/internal/quotations"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationEmail delivers one customer email for a quotation.
	TaskQuotationEmail = "quotation:email"
	// TaskReminderScan sends due reminders and expires overdue quotations.
	TaskReminderScan = "quotation:reminder_scan"
)

// NewQuotationEmailTask constructs an Asynq task for a quotation notification.
func NewQuotationEmailTask(n quotations.Notification) (*asynq.Task, error) {
	switch n.Kind {
	case quotations.NotifyQuotation, quotations.NotifyReminder, quotations.NotifyPaymentLink:
	default:
		return nil, fmt.Errorf("jobs: unknown notification kind %q", n.Kind)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationEmail, data), nil
}

// NewReminderScanTask constructs the periodic reminder scan task.
func NewReminderScanTask() *asynq.Task {
	return asynq.NewTask(TaskReminderScan, nil)
}
