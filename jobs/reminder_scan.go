package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/charterdesk/charterdesk/internal/jobs"
)

// ReminderService is the part of the quotation service the scan drives.
type ReminderService interface {
	SendDueReminders(ctx context.Context) (int, error)
	ExpireOverdue(ctx context.Context) (int64, error)
}

// ReminderScanJob sends reminders for quotations nearing expiry and then
// moves lapsed quotations to expired.
type ReminderScanJob struct {
	Service ReminderService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewReminderScanJob(svc ReminderService, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderScanJob {
	return &ReminderScanJob{Service: svc, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReminderScan tasks.
func (j *ReminderScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reminder scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskReminderScan)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sent, remindErr := j.Service.SendDueReminders(ctx)
	j.Metrics.AddReminders(sent)
	if remindErr != nil {
		logger.Warn("reminder scan incomplete", slog.Int("sent", sent), slog.Any("error", remindErr))
	}

	expired, expireErr := j.Service.ExpireOverdue(ctx)
	if expireErr != nil {
		logger.Error("expire overdue quotations", slog.Any("error", expireErr))
	}

	logger.Info("reminder scan finished", slog.Int("reminders", sent), slog.Int64("expired", expired))
	return errors.Join(remindErr, expireErr)
}
