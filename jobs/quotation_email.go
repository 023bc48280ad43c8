package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/charterdesk/charterdesk/internal/jobs"
	"github.com/charterdesk/charterdesk/internal/notify"
	"github.com/charterdesk/charterdesk/internal/quotations"
)

// QuotationSource loads quotations and their rendered documents.
type QuotationSource interface {
	Get(ctx context.Context, id uuid.UUID) (*quotations.Quotation, error)
	RenderPDF(ctx context.Context, id uuid.UUID) ([]byte, *quotations.Quotation, error)
}

// MessageComposer builds the email body for a notification.
type MessageComposer interface {
	Compose(kind quotations.NotificationKind, q *quotations.Quotation, accessURL string) (notify.Message, error)
}

// MessageSender delivers a composed email.
type MessageSender interface {
	Send(ctx context.Context, msg notify.Message) error
}

// QuotationEmailJob renders and sends customer emails queued by the quotation service.
type QuotationEmailJob struct {
	Quotations QuotationSource
	Composer   MessageComposer
	Mailer     MessageSender
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewQuotationEmailJob initialises the email handler.
func NewQuotationEmailJob(src QuotationSource, composer MessageComposer, mailer MessageSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuotationEmailJob {
	return &QuotationEmailJob{Quotations: src, Composer: composer, Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskQuotationEmail tasks.
func (j *QuotationEmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Quotations == nil || j.Composer == nil || j.Mailer == nil {
		return errors.New("quotation email: handler not configured")
	}
	var payload quotations.Notification
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskQuotationEmail)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.String("quotation_id", payload.QuotationID.String()),
		slog.String("kind", string(payload.Kind)),
	)

	msg, err := j.build(ctx, payload)
	if err != nil {
		if errors.Is(err, quotations.ErrNotFound) {
			logger.Warn("quotation gone, email dropped")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("build quotation email", slog.Any("error", err))
		return err
	}

	err = j.Mailer.Send(ctx, msg)
	j.Metrics.ObserveEmail(string(payload.Kind), err)
	if err != nil {
		logger.Error("send quotation email", slog.Any("error", err))
		return err
	}
	logger.Info("quotation email delivered", slog.String("to", msg.To))
	return nil
}

func (j *QuotationEmailJob) build(ctx context.Context, n quotations.Notification) (notify.Message, error) {
	var (
		q   *quotations.Quotation
		pdf []byte
		err error
	)
	if n.Kind == quotations.NotifyQuotation {
		pdf, q, err = j.Quotations.RenderPDF(ctx, n.QuotationID)
	} else {
		q, err = j.Quotations.Get(ctx, n.QuotationID)
	}
	if err != nil {
		return notify.Message{}, err
	}

	msg, err := j.Composer.Compose(n.Kind, q, n.AccessURL)
	if err != nil {
		return notify.Message{}, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if len(pdf) > 0 {
		msg.Attachments = append(msg.Attachments, notify.Attachment{
			Filename:    q.QuoteNumber + ".pdf",
			ContentType: "application/pdf",
			Data:        pdf,
		})
	}
	return msg, nil
}

func (j *QuotationEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
