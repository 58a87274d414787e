package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/pkg/jobs"
	"github.com/noah-isme/trainer-marketplace-api/pkg/realtime"
)

// Realtime event types.
const (
	EventTrainerAssigned = "trainer_assigned"
	EventClassScheduled  = "class_scheduled"
	EventScheduleUpdated = "schedule_updated"
	EventCourseCompleted = "course_completed"
	EventDemoRequested   = "demo_requested"
	EventDemoScheduled   = "demo_scheduled"
	EventDemoRejected    = "demo_rejected"
	EventDemoUpdated     = "demo_session_updated"
)

type notificationQueue interface {
	Enqueue(job jobs.Job) error
}

type notification struct {
	UserID  string
	Payload interface{}
}

// NotificationService pushes realtime events to connected users through a background queue.
type NotificationService struct {
	registry realtime.ConnectionRegistry
	queue    notificationQueue
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewNotificationService constructs the service. Call Attach with a queue built from Handle before use.
func NewNotificationService(registry realtime.ConnectionRegistry, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{registry: registry, metrics: metrics, logger: logger}
}

// Attach wires the queue that will deliver notifications.
func (s *NotificationService) Attach(queue notificationQueue) {
	s.queue = queue
}

// Notify schedules delivery of payload to every listed user. Failures are logged, never returned.
func (s *NotificationService) Notify(eventType string, payload interface{}, userIDs ...string) {
	if s == nil {
		return
	}
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		job := jobs.Job{
			ID:      uuid.NewString(),
			Type:    eventType,
			Payload: notification{UserID: userID, Payload: payload},
		}
		if s.queue == nil {
			if err := s.Handle(context.Background(), job); err != nil {
				s.logger.Debug("notification not delivered", zap.String("user_id", userID), zap.String("type", eventType), zap.Error(err))
			}
			continue
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue notification", zap.String("user_id", userID), zap.String("type", eventType), zap.Error(err))
		}
	}
}

// Handle is the queue handler delivering one notification.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(notification)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected notification payload %T", job.Payload))
	}
	if s.registry == nil {
		return jobs.Permanent(realtime.ErrNoConnection)
	}
	_, err := s.registry.Send(n.UserID, n.Payload)
	s.metrics.RecordNotification(job.Type, err == nil)
	if errors.Is(err, realtime.ErrNoConnection) {
		return jobs.Permanent(err)
	}
	return err
}
