package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/export"
)

type scheduleStore interface {
	FindByID(ctx context.Context, id string) (*models.ClassSchedule, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassScheduleDetail, error)
	ListByStudent(ctx context.Context, studentID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error)
	ListByTrainer(ctx context.Context, trainerID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error)
	Update(ctx context.Context, schedule *models.ClassSchedule, expected models.ScheduleStatus) error
	Delete(ctx context.Context, id string) error
}

type completionRunner interface {
	Evaluate(ctx context.Context, enrollmentID string) (*dto.CompletionResult, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

var scheduleExportHeaders = []string{"Date", "Time", "Course", "Class", "Order", "Trainer", "Student", "Status", "Meet Link"}

// ScheduleService manages booked sessions after allocation.
type ScheduleService struct {
	schedules  scheduleStore
	completion completionRunner
	cache      *CacheService
	notifier   *NotificationService
	exporters  map[dto.ScheduleExportFormat]datasetRenderer
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(
	schedules scheduleStore,
	completion completionRunner,
	cache *CacheService,
	notifier *NotificationService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		schedules:  schedules,
		completion: completion,
		cache:      cache,
		notifier:   notifier,
		exporters: map[dto.ScheduleExportFormat]datasetRenderer{
			dto.ScheduleExportCSV: export.NewCSVExporter(),
			dto.ScheduleExportPDF: export.NewPDFExporter(),
		},
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns a schedule visible to the actor.
func (s *ScheduleService) Get(ctx context.Context, actor models.Actor, id string) (*models.ClassScheduleDetail, error) {
	detail, err := s.schedules.FindDetailByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "schedule not found", "failed to load schedule")
	}
	if !actor.IsAdmin() && actor.UserID != detail.TrainerID && actor.UserID != detail.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this schedule")
	}
	return detail, nil
}

// ListByStudent lists a student's sessions. Trainers only see the sessions they teach.
func (s *ScheduleService) ListByStudent(ctx context.Context, actor models.Actor, studentID string, query dto.ScheduleListQuery) ([]models.ClassScheduleDetail, error) {
	filter, err := s.filterFrom(query)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsAdmin(), actor.UserID == studentID:
	case actor.Role == models.RoleTrainer:
		filter.TrainerID = actor.UserID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's schedule")
	}

	items, err := s.schedules.ListByStudent(ctx, studentID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return items, nil
}

// ListByTrainer lists the sessions a trainer teaches.
func (s *ScheduleService) ListByTrainer(ctx context.Context, actor models.Actor, trainerID string, query dto.ScheduleListQuery) ([]models.ClassScheduleDetail, error) {
	filter, err := s.filterFrom(query)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another trainer's schedule")
	}

	items, err := s.schedules.ListByTrainer(ctx, trainerID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return items, nil
}

// Update patches a session and drives its status machine.
func (s *ScheduleService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateScheduleRequest) (*dto.ScheduleUpdateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown schedule status %q", *req.Status))
	}

	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "schedule not found", "failed to load schedule")
	}
	if actor.UserID != schedule.TrainerID && actor.UserID != schedule.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the trainer or the student of this schedule can update it")
	}

	current := schedule.Status
	moved := false
	if req.ScheduledDate != nil && *req.ScheduledDate != schedule.ScheduledDate {
		schedule.ScheduledDate = *req.ScheduledDate
		moved = true
	}
	if req.ScheduledTime != nil && *req.ScheduledTime != schedule.ScheduledTime {
		schedule.ScheduledTime = *req.ScheduledTime
		moved = true
	}

	// An explicit status equal to the current one keeps it, even when the slot moves.
	keep := req.Status != nil && *req.Status == current
	next := current
	switch {
	case req.Status != nil && !keep:
		next = *req.Status
	case moved && !keep:
		next = models.ScheduleStatusRescheduled
	}
	if next != current && !current.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move schedule from %s to %s", current, next))
	}
	if moved && next == current && current.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move a %s schedule", current))
	}

	schedule.Status = next
	if req.Notes != nil {
		schedule.Notes = req.Notes
	}
	if next == models.ScheduleStatusCompleted && current != models.ScheduleStatusCompleted {
		completedAt := s.now().UTC()
		schedule.CompletedAt = &completedAt
	}

	if err := s.schedules.Update(ctx, schedule, current); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "schedule was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}

	response := &dto.ScheduleUpdateResponse{}
	if next == models.ScheduleStatusCompleted && current != models.ScheduleStatusCompleted {
		result, err := s.completion.Evaluate(ctx, schedule.EnrollmentID)
		if err != nil {
			s.logger.Warn("completion evaluation failed", zap.String("schedule_id", schedule.ID), zap.Error(err))
		} else {
			response.Completion = result
		}
	}

	s.cache.Invalidate(ctx, StudentProgressKey(schedule.StudentID))
	if next != current || moved {
		s.notifier.Notify(EventScheduleUpdated, map[string]interface{}{
			"type":          EventScheduleUpdated,
			"scheduleId":    schedule.ID,
			"status":        schedule.Status,
			"scheduledDate": schedule.ScheduledDate,
			"scheduledTime": schedule.ScheduledTime,
			"updatedBy":     actor.UserID,
		}, counterpart(schedule, actor.UserID))
	}
	if response.Completion != nil && response.Completion.Finalized {
		s.notifier.Notify(EventCourseCompleted, map[string]interface{}{
			"type":      EventCourseCompleted,
			"courseId":  schedule.CourseID,
			"studentId": schedule.StudentID,
			"trainerId": schedule.TrainerID,
		}, schedule.StudentID, schedule.TrainerID)
	}

	s.logger.Info("schedule updated",
		zap.String("schedule_id", schedule.ID),
		zap.String("actor_id", actor.UserID),
		zap.String("from", string(current)),
		zap.String("to", string(next)))

	detail, err := s.schedules.FindDetailByID(ctx, schedule.ID)
	if err != nil {
		return nil, translateLookupError(err, "schedule not found", "failed to load schedule")
	}
	response.Schedule = detail
	return response, nil
}

// Delete removes a session. Only its trainer may do so.
func (s *ScheduleService) Delete(ctx context.Context, actor models.Actor, id string) error {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		return translateLookupError(err, "schedule not found", "failed to load schedule")
	}
	if actor.UserID != schedule.TrainerID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the trainer of this schedule can delete it")
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}

	s.cache.Invalidate(ctx, StudentProgressKey(schedule.StudentID))
	s.notifier.Notify(EventScheduleUpdated, map[string]interface{}{
		"type":       EventScheduleUpdated,
		"scheduleId": schedule.ID,
		"status":     "deleted",
	}, schedule.StudentID)
	s.logger.Info("schedule deleted", zap.String("schedule_id", id), zap.String("trainer_id", actor.UserID))
	return nil
}

// Export renders the actor's own schedule.
func (s *ScheduleService) Export(ctx context.Context, actor models.Actor, format dto.ScheduleExportFormat) (*dto.ExportFile, error) {
	if format == "" {
		format = dto.ScheduleExportCSV
	}
	renderer, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	var (
		items []models.ClassScheduleDetail
		err   error
	)
	switch actor.Role {
	case models.RoleTrainer:
		items, err = s.schedules.ListByTrainer(ctx, actor.UserID, models.ScheduleFilter{})
	case models.RoleStudent:
		items, err = s.schedules.ListByStudent(ctx, actor.UserID, models.ScheduleFilter{})
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only trainers and students have a schedule")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}

	dataset := export.Dataset{
		Title:    "Class Schedule",
		Subtitle: fmt.Sprintf("Generated %s", s.now().UTC().Format(time.RFC1123)),
		Headers:  scheduleExportHeaders,
		Rows:     make([]map[string]string, 0, len(items)),
	}
	for _, item := range items {
		link := ""
		if item.MeetLink != nil {
			link = *item.MeetLink
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":      item.ScheduledDate,
			"Time":      item.ScheduledTime,
			"Course":    item.CourseTitle,
			"Class":     item.ClassTitle,
			"Order":     strconv.Itoa(item.ClassOrder),
			"Trainer":   item.TrainerName,
			"Student":   item.StudentName,
			"Status":    string(item.Status),
			"Meet Link": link,
		})
	}

	content, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render schedule export")
	}
	return &dto.ExportFile{
		FileName:    fmt.Sprintf("schedule-%s.%s", s.now().UTC().Format("20060102"), format),
		ContentType: renderer.ContentType(),
		Content:     content,
	}, nil
}

func (s *ScheduleService) filterFrom(query dto.ScheduleListQuery) (models.ScheduleFilter, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.ScheduleFilter{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule filter")
	}
	return models.ScheduleFilter{CourseID: query.CourseID, Status: models.ScheduleStatus(query.Status)}, nil
}

func counterpart(schedule *models.ClassSchedule, actorID string) string {
	if actorID == schedule.TrainerID {
		return schedule.StudentID
	}
	return schedule.TrainerID
}
