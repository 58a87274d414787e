package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

func enrollmentStatusRow(status models.EnrollmentStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status"}).AddRow(string(status))
}

var classUpsertColumns = []string{"id", "course_id", "class_order", "title", "description", "duration", "is_dynamic", "created_at", "updated_at", "inserted"}

func allocationParams(total int) models.AllocationParams {
	return models.AllocationParams{
		EnrollmentID:  "enr-2",
		TrainerID:     "trainer-1",
		StudentID:     "stu-1",
		CourseID:      "course-1",
		CourseTitle:   "Go Basics",
		TotalClasses:  total,
		ScheduledDate: "2026-11-02",
		ScheduledTime: "10:00",
	}
}

func TestAllocateSlotCreatesFirstClass(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM enrollments WHERE id = $1 AND trainer_id = $2 FOR UPDATE")).
		WithArgs("enr-2", "trainer-1").
		WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusTrainerAssigned))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT class_order FROM class_schedules WHERE enrollment_id = $1 AND status <> $2")).
		WithArgs("enr-2", models.ScheduleStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (course_id, class_order) DO UPDATE SET")).
		WithArgs(sqlmock.AnyArg(), "course-1", 1, "Class 1 - Go Basics", nil, nil, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows(classUpsertColumns).
			AddRow("class-1", "course-1", 1, "Class 1 - Go Basics", nil, nil, true, now, now, true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_schedules")).
		WithArgs(sqlmock.AnyArg(), "enr-2", "trainer-1", "stu-1", "class-1", "course-1", 1, "2026-11-02", "10:00",
			models.ScheduleStatusScheduled, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("enr-2", models.EnrollmentStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.AllocateSlot(context.Background(), allocationParams(2))
	require.NoError(t, err)
	assert.Equal(t, models.ClassSlotCreated, result.ClassOutcome)
	assert.Equal(t, 1, result.Schedule.ClassOrder)
	assert.Equal(t, "class-1", result.Schedule.ClassID)
	assert.Equal(t, models.ScheduleStatusScheduled, result.Schedule.Status)
	assert.Equal(t, 1, result.ScheduledCount)
	assert.Equal(t, "enr-2", result.Schedule.EnrollmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateSlotReusesFreedOrdinal(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	params := allocationParams(3)
	params.Meta.Title = "Concurrency"
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusInProgress))
	mock.ExpectQuery("SELECT class_order FROM class_schedules").
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}).AddRow(1).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO classes")).
		WithArgs(sqlmock.AnyArg(), "course-1", 2, "Concurrency", nil, nil, sqlmock.AnyArg(), "Concurrency").
		WillReturnRows(sqlmock.NewRows(classUpsertColumns).
			AddRow("class-2", "course-1", 2, "Concurrency", nil, nil, true, now, now, false))
	mock.ExpectExec("INSERT INTO class_schedules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.AllocateSlot(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, models.ClassSlotReused, result.ClassOutcome)
	assert.Equal(t, 2, result.Schedule.ClassOrder)
	assert.Equal(t, 3, result.ScheduledCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateSlotKeepsStoredClassFieldsWhenOmitted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	description := "Goroutines and channels"
	duration := 90
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusInProgress))
	mock.ExpectQuery("SELECT class_order FROM class_schedules").
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("title = COALESCE($8, classes.title),\ndescription = COALESCE(EXCLUDED.description, classes.description)")).
		WithArgs(sqlmock.AnyArg(), "course-1", 2, "Class 2 - Go Basics", nil, nil, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows(classUpsertColumns).
			AddRow("class-2", "course-1", 2, "Concurrency", description, duration, false, now, now, false))
	mock.ExpectExec("INSERT INTO class_schedules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.AllocateSlot(context.Background(), allocationParams(3))
	require.NoError(t, err)
	assert.Equal(t, models.ClassSlotReused, result.ClassOutcome)
	assert.Equal(t, "Concurrency", result.Class.Title)
	require.NotNil(t, result.Class.Description)
	assert.Equal(t, description, *result.Class.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateSlotRejectsWhenCapReached(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusInProgress))
	mock.ExpectQuery("SELECT class_order FROM class_schedules").
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}).AddRow(1).AddRow(2))
	mock.ExpectRollback()

	_, err := repo.AllocateSlot(context.Background(), allocationParams(2))
	var limitErr *AllocationLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.Scheduled)
	assert.Equal(t, 2, limitErr.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateSlotSurfacesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusInProgress))
	mock.ExpectQuery("SELECT class_order FROM class_schedules").
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}))
	mock.ExpectQuery("INSERT INTO classes").
		WillReturnRows(sqlmock.NewRows(classUpsertColumns).
			AddRow("class-1", "course-1", 1, "Class 1 - Go Basics", nil, nil, true, now, now, false))
	mock.ExpectExec("INSERT INTO class_schedules").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "class_schedules_live_enrollment_ordinal_key"})
	mock.ExpectRollback()

	_, err := repo.AllocateSlot(context.Background(), allocationParams(2))
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateSlotRejectsInactiveEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("enr-2", "trainer-1").
		WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusCancelled))
	mock.ExpectRollback()

	_, err := repo.AllocateSlot(context.Background(), allocationParams(2))
	assert.ErrorIs(t, err, ErrEnrollmentInactive)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("enr-2", "trainer-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.AllocateSlot(context.Background(), allocationParams(2))
	assert.ErrorIs(t, err, ErrEnrollmentInactive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A cancelled enrollment of the same student and course leaves completed rows behind; only
// rows booked under the new enrollment count toward its cap.
func TestAllocateSlotIgnoresRowsOfEarlierEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(enrollmentStatusRow(models.EnrollmentStatusTrainerAssigned))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enrollment_id = $1 AND status <> $2")).
		WithArgs("enr-2", models.ScheduleStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"class_order"}))
	mock.ExpectQuery("INSERT INTO classes").
		WithArgs(sqlmock.AnyArg(), "course-1", 1, "Class 1 - Go Basics", nil, nil, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows(classUpsertColumns).
			AddRow("class-1", "course-1", 1, "Class 1 - Go Basics", nil, nil, true, now, now, false))
	mock.ExpectExec("INSERT INTO class_schedules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE enrollments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.AllocateSlot(context.Background(), allocationParams(2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Schedule.ClassOrder)
	assert.Equal(t, models.ClassSlotReused, result.ClassOutcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowestFreeOrdinal(t *testing.T) {
	assert.Equal(t, 1, lowestFreeOrdinal(nil, 3))
	assert.Equal(t, 3, lowestFreeOrdinal([]int{1, 2}, 3))
	assert.Equal(t, 1, lowestFreeOrdinal([]int{2, 3}, 3))
	assert.Equal(t, 2, lowestFreeOrdinal([]int{1, 3}, 3))
}

func TestClassScheduleUpdateDetectsStaleStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	schedule := &models.ClassSchedule{
		ID:            "sched-1",
		ScheduledDate: "2026-11-02",
		ScheduledTime: "10:00",
		Status:        models.ScheduleStatusCompleted,
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_schedules SET scheduled_date = $2::date")).
		WithArgs("sched-1", "2026-11-02", "10:00", models.ScheduleStatusCompleted, nil, nil, sqlmock.AnyArg(),
			models.ScheduleStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), schedule, models.ScheduleStatusScheduled)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassScheduleCountsForEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE enrollment_id = $1")).
		WithArgs("enr-2").
		WillReturnRows(sqlmock.NewRows([]string{"scheduled", "completed"}).AddRow(2, 1))

	counts, err := repo.CountsForEnrollment(context.Background(), "enr-2")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleCounts{Scheduled: 2, Completed: 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassScheduleListByTrainerAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "trainer_id", "student_id", "class_id", "course_id", "class_order", "scheduled_date",
		"scheduled_time", "status", "notes", "meet_link", "google_event_id", "completed_at", "created_at", "updated_at",
		"trainer_name", "student_name", "course_title", "class_title"}).
		AddRow("sched-1", "trainer-1", "stu-1", "class-1", "course-1", 1, "2026-11-02", "10:00", "scheduled", nil,
			"https://meet.google.com/abc", "evt-1", nil, now, now, "Tara", "Sam", "Go Basics", "Class 1 - Go Basics")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE cs.trainer_id = $1 AND cs.course_id = $2 AND cs.status = $3")).
		WithArgs("trainer-1", "course-1", models.ScheduleStatusScheduled).
		WillReturnRows(rows)

	items, err := repo.ListByTrainer(context.Background(), "trainer-1", models.ScheduleFilter{CourseID: "course-1", Status: models.ScheduleStatusScheduled})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Sam", items[0].StudentName)
	require.NotNil(t, items[0].MeetLink)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassScheduleListByStudentScopesToTrainer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE cs.student_id = $1 AND cs.trainer_id = $2 ORDER BY")).
		WithArgs("stu-1", "trainer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := repo.ListByStudent(context.Background(), "stu-1", models.ScheduleFilter{TrainerID: "trainer-1"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}
