package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type fakeCourses struct {
	courses map[string]*models.Course
	options map[string]*models.CoursePriceOption
	classes map[string][]models.Class
}

func (f *fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourses) FindPriceOption(ctx context.Context, id string) (*models.CoursePriceOption, error) {
	if o, ok := f.options[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourses) ListClasses(ctx context.Context, courseID string) ([]models.Class, error) {
	return f.classes[courseID], nil
}

type fakeCounter struct {
	counts models.ScheduleCounts
}

func (f *fakeCounter) CountsForEnrollment(ctx context.Context, enrollmentID string) (models.ScheduleCounts, error) {
	return f.counts, nil
}

type fakeCompleter struct {
	enrollment models.Enrollment
	calls      int
	at         time.Time
}

func newFakeCompleter(status models.EnrollmentStatus) *fakeCompleter {
	trainer := "trainer-1"
	return &fakeCompleter{enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", TrainerID: &trainer, Status: status}}
}

func (f *fakeCompleter) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if id != f.enrollment.ID {
		return nil, sql.ErrNoRows
	}
	e := f.enrollment
	return &e, nil
}

func (f *fakeCompleter) CompleteActive(ctx context.Context, id string, at time.Time) (bool, error) {
	f.calls++
	if !f.enrollment.Status.IsActive() {
		return false, nil
	}
	f.enrollment.Status = models.EnrollmentStatusCompleted
	f.at = at
	return true, nil
}

func twoClassCourse() *fakeCourses {
	return &fakeCourses{courses: map[string]*models.Course{"course-1": {ID: "course-1", Title: "Go Basics", TotalClasses: 2}}}
}

func TestCompletionEvaluatorFinalizesWhenAllClassesCompleted(t *testing.T) {
	completer := newFakeCompleter(models.EnrollmentStatusInProgress)
	evaluator := NewCompletionEvaluator(twoClassCourse(), &fakeCounter{counts: models.ScheduleCounts{Scheduled: 2, Completed: 2}}, completer, nil)

	result, err := evaluator.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, result.Finalized)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, models.EnrollmentStatusCompleted, completer.enrollment.Status)
	assert.False(t, completer.at.IsZero())

	again, err := evaluator.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.False(t, again.Finalized)
	assert.Equal(t, result.ScheduledCount, again.ScheduledCount)
	assert.Equal(t, result.CompletedCount, again.CompletedCount)
	assert.Equal(t, 1, completer.calls)
}

func TestCompletionEvaluatorLeavesEnrollmentOneShort(t *testing.T) {
	completer := newFakeCompleter(models.EnrollmentStatusInProgress)
	evaluator := NewCompletionEvaluator(twoClassCourse(), &fakeCounter{counts: models.ScheduleCounts{Scheduled: 2, Completed: 1}}, completer, nil)

	result, err := evaluator.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.False(t, result.Finalized)
	assert.Equal(t, 0, completer.calls)
	assert.Equal(t, models.EnrollmentStatusInProgress, completer.enrollment.Status)
}

func TestCompletionEvaluatorRequiresAllSlotsBooked(t *testing.T) {
	completer := newFakeCompleter(models.EnrollmentStatusInProgress)
	evaluator := NewCompletionEvaluator(twoClassCourse(), &fakeCounter{counts: models.ScheduleCounts{Scheduled: 1, Completed: 1}}, completer, nil)

	result, err := evaluator.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Remaining)
	assert.Equal(t, 0, completer.calls)
}

func TestCompletionEvaluatorNeverResurrectsCancelled(t *testing.T) {
	completer := newFakeCompleter(models.EnrollmentStatusCancelled)
	evaluator := NewCompletionEvaluator(twoClassCourse(), &fakeCounter{counts: models.ScheduleCounts{Scheduled: 2, Completed: 2}}, completer, nil)

	result, err := evaluator.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.False(t, result.Finalized)
	assert.Zero(t, completer.calls)
	assert.Equal(t, models.EnrollmentStatusCancelled, completer.enrollment.Status)
}

func TestCompletionEvaluatorUnknownEnrollmentOrCourse(t *testing.T) {
	evaluator := NewCompletionEvaluator(twoClassCourse(), &fakeCounter{}, newFakeCompleter(models.EnrollmentStatusInProgress), nil)
	_, err := evaluator.Evaluate(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	evaluator = NewCompletionEvaluator(&fakeCourses{}, &fakeCounter{}, newFakeCompleter(models.EnrollmentStatusInProgress), nil)
	_, err = evaluator.Evaluate(context.Background(), "enr-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
