package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/meeting"
)

const (
	allocationModeSingle = "single"
	allocationModeBulk   = "bulk"
)

type userReader interface {
	FindByIDAndRole(ctx context.Context, id string, role models.UserRole) (*models.User, error)
}

type activeEnrollmentReader interface {
	FindActiveByTriple(ctx context.Context, studentID, courseID, trainerID string) (*models.Enrollment, error)
}

type slotAllocator interface {
	AllocateSlot(ctx context.Context, params models.AllocationParams) (*models.AllocationResult, error)
	SetMeeting(ctx context.Context, id, link, eventID string) error
}

// AllocationConfig tunes the allocation engine.
type AllocationConfig struct {
	MaxBatchSize    int
	ConflictRetries int
	MeetingTimeout  time.Duration
}

// AllocationService books classes for enrolled students on behalf of their trainer.
type AllocationService struct {
	users       userReader
	courses     courseReader
	enrollments activeEnrollmentReader
	slots       slotAllocator
	meetings    meeting.Provisioner
	cache       *CacheService
	notifier    *NotificationService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	config      AllocationConfig
}

// NewAllocationService constructs the allocation engine.
func NewAllocationService(
	users userReader,
	courses courseReader,
	enrollments activeEnrollmentReader,
	slots slotAllocator,
	meetings meeting.Provisioner,
	cache *CacheService,
	notifier *NotificationService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AllocationConfig,
) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meetings == nil {
		meetings = meeting.Noop{}
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.MeetingTimeout <= 0 {
		cfg.MeetingTimeout = 10 * time.Second
	}
	return &AllocationService{
		users:       users,
		courses:     courses,
		enrollments: enrollments,
		slots:       slots,
		meetings:    meetings,
		cache:       cache,
		notifier:    notifier,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		config:      cfg,
	}
}

// AllocateClass books the next free class of a course for one student.
func (s *AllocationService) AllocateClass(ctx context.Context, trainerID string, req dto.AllocateClassRequest) (*dto.AllocationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}
	trainer, err := s.loadTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	return s.allocate(ctx, trainer, req, allocationModeSingle)
}

// BulkAllocate processes every item in order. Item failures are collected, never returned;
// only a malformed batch or an unknown trainer fails the whole call.
func (s *AllocationService) BulkAllocate(ctx context.Context, trainerID string, req dto.BulkAllocateRequest) (*dto.BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "allocations must be a non-empty list")
	}
	if len(req.Allocations) > s.config.MaxBatchSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("a batch may contain at most %d allocations", s.config.MaxBatchSize))
	}
	trainer, err := s.loadTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	result := &dto.BatchResult{
		Successful: make([]dto.BulkAllocationSuccess, 0, len(req.Allocations)),
		Failed:     make([]dto.BulkAllocationFailure, 0),
	}
	for i, item := range req.Allocations {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, failureFor(i, item, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request cancelled")))
			continue
		}
		if err := s.validator.Struct(item); err != nil {
			result.Failed = append(result.Failed, failureFor(i, item, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, validationReason(err))))
			continue
		}
		res, err := s.allocate(ctx, trainer, item, allocationModeBulk)
		if err != nil {
			result.Failed = append(result.Failed, failureFor(i, item, appErrors.FromError(err)))
			continue
		}
		result.Successful = append(result.Successful, dto.BulkAllocationSuccess{
			Index:      i,
			ScheduleID: res.Schedule.ID,
			StudentID:  res.Schedule.StudentID,
			CourseID:   res.Schedule.CourseID,
			ClassID:    res.Class.ID,
			ClassOrder: res.Schedule.ClassOrder,
			MeetLink:   res.MeetLink,
		})
	}
	result.SuccessCount = len(result.Successful)
	result.FailureCount = len(result.Failed)

	s.logger.Info("bulk allocation processed",
		zap.String("trainer_id", trainer.ID),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailureCount))
	return result, nil
}

func (s *AllocationService) allocate(ctx context.Context, trainer *models.User, req dto.AllocateClassRequest, mode string) (*dto.AllocationResponse, error) {
	start := time.Now()

	student, err := s.users.FindByIDAndRole(ctx, req.StudentID, models.RoleStudent)
	if err != nil {
		s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
		return nil, translateLookupError(err, "student not found", "failed to load student")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
		return nil, translateLookupError(err, "course not found", "failed to load course")
	}
	enrollment, err := s.enrollments.FindActiveByTriple(ctx, student.ID, course.ID, trainer.ID)
	if err != nil {
		s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled with this trainer")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	params := models.AllocationParams{
		EnrollmentID:  enrollment.ID,
		TrainerID:     trainer.ID,
		StudentID:     student.ID,
		CourseID:      course.ID,
		CourseTitle:   course.Title,
		TotalClasses:  course.TotalClasses,
		ScheduledDate: req.ScheduledDate,
		ScheduledTime: req.ScheduledTime,
		Notes:         req.Notes,
		Meta: models.ClassMeta{
			Title:       req.Title,
			Description: req.Description,
			Duration:    req.Duration,
		},
	}

	var allocated *models.AllocationResult
	for attempt := 0; ; attempt++ {
		allocated, err = s.slots.AllocateSlot(ctx, params)
		if err == nil {
			break
		}
		var limitErr *repository.AllocationLimitError
		switch {
		case errors.Is(err, repository.ErrEnrollmentInactive):
			s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled with this trainer")
		case errors.As(err, &limitErr):
			s.metrics.RecordAllocation(AllocationOutcomeLimitExceeded, mode, time.Since(start))
			return nil, appErrors.AllocationLimit(limitErr.Scheduled, limitErr.Total)
		case repository.IsUniqueViolation(err) && attempt < s.config.ConflictRetries:
			s.metrics.RecordAllocation(AllocationOutcomeConflictRetry, mode, time.Since(start))
			s.logger.Debug("allocation ordinal taken concurrently, retrying",
				zap.String("student_id", student.ID), zap.String("course_id", course.ID), zap.Int("attempt", attempt+1))
			continue
		case repository.IsUniqueViolation(err):
			s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "class slot was taken by a concurrent allocation, retry")
		default:
			s.metrics.RecordAllocation(AllocationOutcomeFailed, mode, time.Since(start))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate class")
		}
	}
	s.metrics.RecordAllocation(AllocationOutcomeAllocated, mode, time.Since(start))

	schedule := allocated.Schedule
	if link, eventID, ok := s.provisionMeeting(ctx, trainer, student, allocated.Class, req); ok {
		if err := s.slots.SetMeeting(ctx, schedule.ID, link, eventID); err != nil {
			s.logger.Warn("failed to store meeting link", zap.String("schedule_id", schedule.ID), zap.Error(err))
		} else {
			schedule.MeetLink = &link
			schedule.GoogleEventID = &eventID
		}
	}

	s.cache.Invalidate(ctx, StudentProgressKey(student.ID))
	s.notifier.Notify(EventClassScheduled, map[string]interface{}{
		"type":          EventClassScheduled,
		"scheduleId":    schedule.ID,
		"courseId":      course.ID,
		"courseTitle":   course.Title,
		"classOrder":    schedule.ClassOrder,
		"scheduledDate": schedule.ScheduledDate,
		"scheduledTime": schedule.ScheduledTime,
		"meetLink":      schedule.MeetLink,
	}, student.ID)

	s.logger.Info("class allocated",
		zap.String("schedule_id", schedule.ID),
		zap.String("trainer_id", trainer.ID),
		zap.String("student_id", student.ID),
		zap.String("course_id", course.ID),
		zap.Int("class_order", schedule.ClassOrder),
		zap.String("class_outcome", string(allocated.ClassOutcome)))

	return &dto.AllocationResponse{
		Schedule:       schedule,
		Class:          allocated.Class,
		ClassOutcome:   allocated.ClassOutcome,
		MeetLink:       schedule.MeetLink,
		ScheduledCount: allocated.ScheduledCount,
		TotalClasses:   course.TotalClasses,
	}, nil
}

// provisionMeeting never fails the allocation; a false return means no link.
func (s *AllocationService) provisionMeeting(ctx context.Context, trainer, student *models.User, class models.Class, req dto.AllocateClassRequest) (string, string, bool) {
	mctx, cancel := context.WithTimeout(ctx, s.config.MeetingTimeout)
	defer cancel()

	var duration time.Duration
	if class.Duration != nil && *class.Duration > 0 {
		duration = time.Duration(*class.Duration) * time.Minute
	}
	m, err := s.meetings.CreateMeeting(mctx, meeting.Request{
		Trainer:    meeting.Participant{Name: trainer.FullName, Email: trainer.Email},
		Student:    meeting.Participant{Name: student.FullName, Email: student.Email},
		ClassTitle: class.Title,
		Date:       req.ScheduledDate,
		Time:       req.ScheduledTime,
		Duration:   duration,
	})
	switch {
	case errors.Is(err, meeting.ErrDisabled):
		s.metrics.RecordMeeting(MeetingResultDisabled)
		return "", "", false
	case err != nil:
		s.metrics.RecordMeeting(MeetingResultFailed)
		s.logger.Warn("meeting provisioning failed", zap.String("class_id", class.ID), zap.Error(err))
		return "", "", false
	case m == nil || m.Link == "":
		s.metrics.RecordMeeting(MeetingResultFailed)
		return "", "", false
	}
	s.metrics.RecordMeeting(MeetingResultCreated)
	return m.Link, m.EventID, true
}

func (s *AllocationService) loadTrainer(ctx context.Context, trainerID string) (*models.User, error) {
	trainer, err := s.users.FindByIDAndRole(ctx, trainerID, models.RoleTrainer)
	if err != nil {
		return nil, translateLookupError(err, "trainer not found", "failed to load trainer")
	}
	return trainer, nil
}

func failureFor(index int, item dto.AllocateClassRequest, err *appErrors.Error) dto.BulkAllocationFailure {
	return dto.BulkAllocationFailure{
		Index:     index,
		StudentID: item.StudentID,
		CourseID:  item.CourseID,
		Code:      err.Code,
		Reason:    err.Message,
	}
}

func translateLookupError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

// validationReason lists the offending fields of a validator error.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid allocation payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
