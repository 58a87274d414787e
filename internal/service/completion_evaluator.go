package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type scheduleCounter interface {
	CountsForEnrollment(ctx context.Context, enrollmentID string) (models.ScheduleCounts, error)
}

type enrollmentCompleter interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	CompleteActive(ctx context.Context, id string, completedAt time.Time) (bool, error)
}

// CompletionEvaluator recomputes the counters of one enrollment and finalises it once every
// entitled class is booked and completed.
type CompletionEvaluator struct {
	courses     courseReader
	schedules   scheduleCounter
	enrollments enrollmentCompleter
	logger      *zap.Logger
	now         func() time.Time
}

// NewCompletionEvaluator constructs the evaluator.
func NewCompletionEvaluator(courses courseReader, schedules scheduleCounter, enrollments enrollmentCompleter, logger *zap.Logger) *CompletionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionEvaluator{courses: courses, schedules: schedules, enrollments: enrollments, logger: logger, now: time.Now}
}

// Evaluate runs after a schedule booked under enrollmentID moved to completed. Only rows of
// that enrollment are counted, so classes left by an earlier cancelled enrollment of the same
// student and course never skew the result. Re-running it on unchanged state changes nothing.
func (e *CompletionEvaluator) Evaluate(ctx context.Context, enrollmentID string) (*dto.CompletionResult, error) {
	enrollment, err := e.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	course, err := e.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	counts, err := e.schedules.CountsForEnrollment(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count schedules")
	}

	remaining := course.TotalClasses - counts.Scheduled
	if remaining < 0 {
		remaining = 0
	}
	result := &dto.CompletionResult{
		ScheduledCount: counts.Scheduled,
		CompletedCount: counts.Completed,
		Remaining:      remaining,
		TotalClasses:   course.TotalClasses,
	}

	if !enrollment.Status.IsActive() || remaining > 0 || counts.Completed < course.TotalClasses {
		return result, nil
	}

	finalized, err := e.enrollments.CompleteActive(ctx, enrollment.ID, e.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}
	result.Finalized = finalized
	if finalized {
		e.logger.Info("enrollment completed",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("student_id", enrollment.StudentID),
			zap.String("course_id", enrollment.CourseID),
			zap.Int("completed", counts.Completed))
	}
	return result, nil
}
