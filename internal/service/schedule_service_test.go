package service

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type fakeScheduleStore struct {
	rows       map[string]*models.ClassSchedule
	stale      bool
	deleted    []string
	lastFilter models.ScheduleFilter
}

func newFakeScheduleStore(rows ...models.ClassSchedule) *fakeScheduleStore {
	store := &fakeScheduleStore{rows: make(map[string]*models.ClassSchedule)}
	for i := range rows {
		row := rows[i]
		store.rows[row.ID] = &row
	}
	return store
}

func (f *fakeScheduleStore) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *row
	return &clone, nil
}

func (f *fakeScheduleStore) FindDetailByID(ctx context.Context, id string) (*models.ClassScheduleDetail, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.ClassScheduleDetail{ClassSchedule: *row, TrainerName: "Tara", StudentName: "Sam", CourseTitle: "Go Basics", ClassTitle: "Class 1 - Go Basics"}, nil
}

func (f *fakeScheduleStore) ListByStudent(ctx context.Context, studentID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error) {
	f.lastFilter = filter
	var out []models.ClassScheduleDetail
	for _, row := range f.rows {
		if row.StudentID == studentID && (filter.TrainerID == "" || row.TrainerID == filter.TrainerID) {
			out = append(out, models.ClassScheduleDetail{ClassSchedule: *row, TrainerName: "Tara", StudentName: "Sam", CourseTitle: "Go Basics"})
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListByTrainer(ctx context.Context, trainerID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error) {
	f.lastFilter = filter
	var out []models.ClassScheduleDetail
	for _, row := range f.rows {
		if row.TrainerID == trainerID {
			out = append(out, models.ClassScheduleDetail{ClassSchedule: *row, TrainerName: "Tara", StudentName: "Sam", CourseTitle: "Go Basics"})
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) Update(ctx context.Context, schedule *models.ClassSchedule, expected models.ScheduleStatus) error {
	if f.stale || f.rows[schedule.ID].Status != expected {
		return repository.ErrStaleStatus
	}
	clone := *schedule
	f.rows[schedule.ID] = &clone
	return nil
}

func (f *fakeScheduleStore) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.rows, id)
	return nil
}

type fakeCompletion struct {
	result      *dto.CompletionResult
	calls       int
	enrollments []string
}

func (f *fakeCompletion) Evaluate(ctx context.Context, enrollmentID string) (*dto.CompletionResult, error) {
	f.calls++
	f.enrollments = append(f.enrollments, enrollmentID)
	return f.result, nil
}

func bookedSchedule(status models.ScheduleStatus) models.ClassSchedule {
	return models.ClassSchedule{
		ID: "sched-1", EnrollmentID: "enr-1", TrainerID: trainerID, StudentID: studentID, ClassID: "class-1", CourseID: courseID,
		ClassOrder: 1, ScheduledDate: "2026-11-02", ScheduledTime: "10:00", Status: status,
	}
}

type scheduleFixture struct {
	svc        *ScheduleService
	store      *fakeScheduleStore
	completion *fakeCompletion
	registry   *fakeRegistry
	cache      *memoryCache
}

func newScheduleFixture(rows ...models.ClassSchedule) *scheduleFixture {
	store := newFakeScheduleStore(rows...)
	completion := &fakeCompletion{result: &dto.CompletionResult{ScheduledCount: 1, CompletedCount: 1, TotalClasses: 1, Finalized: true}}
	registry := newFakeRegistry()
	cache := newMemoryCache()
	svc := NewScheduleService(store, completion, NewCacheService(cache, nil, 0, nil, true), NewNotificationService(registry, nil, nil), nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 11, 2, 11, 0, 0, 0, time.UTC) }
	return &scheduleFixture{svc: svc, store: store, completion: completion, registry: registry, cache: cache}
}

var (
	trainerActor = models.Actor{UserID: trainerID, Role: models.RoleTrainer}
	studentActor = models.Actor{UserID: studentID, Role: models.RoleStudent}
)

func statusPtr(s models.ScheduleStatus) *models.ScheduleStatus { return &s }
func strPtr(s string) *string                                  { return &s }

func TestScheduleUpdateCompletesAndEvaluates(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	res, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Status: statusPtr(models.ScheduleStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCompleted, res.Schedule.Status)
	require.NotNil(t, res.Schedule.CompletedAt)
	assert.Equal(t, 1, fx.completion.calls)
	assert.Equal(t, []string{"enr-1"}, fx.completion.enrollments)
	require.NotNil(t, res.Completion)
	assert.True(t, res.Completion.Finalized)

	assert.Len(t, fx.registry.sent[studentID], 2)
	assert.Len(t, fx.registry.sent[trainerID], 1)
}

func TestScheduleUpdateMoveMarksRescheduled(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	res, err := fx.svc.Update(context.Background(), studentActor, "sched-1", dto.UpdateScheduleRequest{ScheduledDate: strPtr("2026-11-05")})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusRescheduled, res.Schedule.Status)
	assert.Equal(t, "2026-11-05", res.Schedule.ScheduledDate)
	assert.Nil(t, res.Completion)
	assert.Zero(t, fx.completion.calls)
	assert.Len(t, fx.registry.sent[trainerID], 1)
	assert.Empty(t, fx.registry.sent[studentID])
}

func TestScheduleUpdateNotesOnlyKeepsStatus(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	res, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Notes: strPtr("bring laptop"), ScheduledDate: strPtr("2026-11-02")})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, res.Schedule.Status)
	require.NotNil(t, res.Schedule.Notes)
	assert.Equal(t, "bring laptop", *res.Schedule.Notes)
	assert.Empty(t, fx.registry.sent)
}

func TestScheduleUpdateRejectsTerminalTransitions(t *testing.T) {
	for _, status := range []models.ScheduleStatus{models.ScheduleStatusCompleted, models.ScheduleStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			fx := newScheduleFixture(bookedSchedule(status))

			_, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Status: statusPtr(models.ScheduleStatusScheduled)})
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

			_, err = fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{ScheduledTime: strPtr("12:00")})
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
		})
	}
}

func TestScheduleUpdateExplicitSameStatusKeepsItWhileMoving(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	res, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{
		Status: statusPtr(models.ScheduleStatusScheduled), ScheduledDate: strPtr("2026-11-06"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, res.Schedule.Status)
	assert.Equal(t, "2026-11-06", res.Schedule.ScheduledDate)
	assert.Len(t, fx.registry.sent[studentID], 1)

	done := newScheduleFixture(bookedSchedule(models.ScheduleStatusCompleted))
	_, err = done.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{
		Status: statusPtr(models.ScheduleStatusCompleted), ScheduledDate: strPtr("2026-11-06"),
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestScheduleUpdateRejectsOutsiders(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	_, err := fx.svc.Update(context.Background(), models.Actor{UserID: "someone", Role: models.RoleStudent}, "sched-1",
		dto.UpdateScheduleRequest{Status: statusPtr(models.ScheduleStatusCancelled)})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestScheduleUpdateValidation(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	_, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Status: statusPtr("paused")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{ScheduledDate: strPtr("tomorrow")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Update(context.Background(), trainerActor, "missing", dto.UpdateScheduleRequest{Notes: strPtr("x")})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestScheduleUpdateConcurrentWriterConflicts(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))
	fx.store.stale = true

	_, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Status: statusPtr(models.ScheduleStatusCancelled)})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Zero(t, fx.completion.calls)
}

func TestScheduleUpdateInvalidatesProgress(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))
	fx.cache.data[StudentProgressKey(studentID)] = []byte(`[]`)

	_, err := fx.svc.Update(context.Background(), trainerActor, "sched-1", dto.UpdateScheduleRequest{Status: statusPtr(models.ScheduleStatusCancelled)})
	require.NoError(t, err)
	assert.NotContains(t, fx.cache.data, StudentProgressKey(studentID))
}

func TestScheduleDeleteTrainerOnly(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	err := fx.svc.Delete(context.Background(), studentActor, "sched-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Empty(t, fx.store.deleted)

	require.NoError(t, fx.svc.Delete(context.Background(), trainerActor, "sched-1"))
	assert.Equal(t, []string{"sched-1"}, fx.store.deleted)
	assert.Len(t, fx.registry.sent[studentID], 1)
}

func TestScheduleListAuthorization(t *testing.T) {
	other := bookedSchedule(models.ScheduleStatusScheduled)
	other.ID = "sched-2"
	other.TrainerID = "trainer-2"
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled), other)

	items, err := fx.svc.ListByStudent(context.Background(), trainerActor, studentID, dto.ScheduleListQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, trainerID, fx.store.lastFilter.TrainerID)

	items, err = fx.svc.ListByStudent(context.Background(), studentActor, studentID, dto.ScheduleListQuery{Status: "scheduled"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, models.ScheduleStatusScheduled, fx.store.lastFilter.Status)

	_, err = fx.svc.ListByStudent(context.Background(), models.Actor{UserID: "stranger", Role: models.RoleStudent}, studentID, dto.ScheduleListQuery{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = fx.svc.ListByTrainer(context.Background(), models.Actor{UserID: "trainer-2", Role: models.RoleTrainer}, trainerID, dto.ScheduleListQuery{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = fx.svc.ListByTrainer(context.Background(), trainerActor, trainerID, dto.ScheduleListQuery{Status: "paused"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleGetVisibility(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	detail, err := fx.svc.Get(context.Background(), studentActor, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, "Tara", detail.TrainerName)

	_, err = fx.svc.Get(context.Background(), models.Actor{UserID: "admin-1", Role: models.RoleAdmin}, "sched-1")
	require.NoError(t, err)

	_, err = fx.svc.Get(context.Background(), models.Actor{UserID: "stranger", Role: models.RoleTrainer}, "sched-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestScheduleExport(t *testing.T) {
	fx := newScheduleFixture(bookedSchedule(models.ScheduleStatusScheduled))

	file, err := fx.svc.Export(context.Background(), trainerActor, dto.ScheduleExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "schedule-20261102.csv", file.FileName)
	assert.Contains(t, string(file.Content), "Date,Time,Course,Class,Order,Trainer,Student,Status,Meet Link")
	assert.Contains(t, string(file.Content), "2026-11-02,10:00,Go Basics")

	pdf, err := fx.svc.Export(context.Background(), studentActor, dto.ScheduleExportPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Content, []byte("%PDF")))

	_, err = fx.svc.Export(context.Background(), trainerActor, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.Export(context.Background(), models.Actor{UserID: "admin-1", Role: models.RoleAdmin}, dto.ScheduleExportCSV)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
