package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/pkg/config"
	"github.com/edutech-rw/asset-api/pkg/jobs"
	"github.com/edutech-rw/asset-api/pkg/mailer"
)

// EmailPayload is the unit of work carried by the notification queue.
type EmailPayload struct {
	To      string
	Subject string
	Body    string
}

// NotificationService dispatches templated emails on workflow transitions.
// Delivery is fire-and-forget: enqueue failures and transport errors are
// logged and never surfaced to the triggering operation.
type NotificationService struct {
	queue  *jobs.Queue
	sender mailer.Sender
	logger *zap.Logger
}

// NewNotificationService builds the service and its backing queue. A nil
// sender turns delivery into a logged no-op, which keeps development setups
// working without an SMTP relay.
func NewNotificationService(sender mailer.Sender, logger *zap.Logger, cfg config.NotificationsConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

func (s *NotificationService) deliver(_ context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(EmailPayload)
	if !ok {
		s.logger.Sugar().Errorw("unexpected notification payload", "job_id", job.ID)
		return nil
	}
	if s.sender == nil {
		s.logger.Sugar().Infow("mail sender not configured, skipping delivery",
			"to", payload.To, "subject", payload.Subject)
		return nil
	}
	return s.sender.Send(payload.To, payload.Subject, payload.Body)
}

func (s *NotificationService) enqueue(kind string, payload EmailPayload) {
	if payload.To == "" {
		s.logger.Sugar().Debugw("notification skipped, no recipient", "kind", kind)
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    kind,
		Payload: payload,
	})
	if err != nil {
		s.logger.Sugar().Warnw("failed to enqueue notification", "kind", kind, "error", err)
	}
}

// ApplicationSubmitted notifies the school that its application was received.
func (s *NotificationService) ApplicationSubmitted(_ context.Context, app *models.Application, school *models.School) {
	if school == nil {
		return
	}
	kind := "new application"
	if app.Type == models.ApplicationTypeMaintenance {
		kind = "maintenance request"
	}
	s.enqueue("application_submitted", EmailPayload{
		To:      school.ContactEmail,
		Subject: fmt.Sprintf("Application #%d received", app.ID),
		Body: fmt.Sprintf("<p>Dear %s,</p><p>Your %s <strong>%s</strong> has been received and is pending review.</p>",
			school.Name, kind, app.Title),
	})
}

// ApplicationStatusChanged notifies the school about a workflow transition.
func (s *NotificationService) ApplicationStatusChanged(_ context.Context, app *models.Application, school *models.School, previous models.ApplicationStatus) {
	if school == nil {
		return
	}
	s.enqueue("application_status_changed", EmailPayload{
		To:      school.ContactEmail,
		Subject: fmt.Sprintf("Application #%d is now %s", app.ID, app.Status),
		Body: fmt.Sprintf("<p>Dear %s,</p><p>Your application <strong>%s</strong> moved from %s to <strong>%s</strong>.</p>",
			school.Name, app.Title, previous, app.Status),
	})
}

// DeviceAlert emails an automation finding about one device to its school.
func (s *NotificationService) DeviceAlert(_ context.Context, device *models.Device, school *models.School, subject, message string) {
	if school == nil {
		return
	}
	s.enqueue("device_alert", EmailPayload{
		To:      school.ContactEmail,
		Subject: subject,
		Body: fmt.Sprintf("<p>Dear %s,</p><p>%s</p><p>Device: %s (%s)</p>",
			school.Name, message, device.NameTag, device.SerialNumber),
	})
}
