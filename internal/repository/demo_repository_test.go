package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

var demoRequestRowColumns = []string{"id", "student_id", "student_name", "course_id", "request_message", "preferred_date_time",
	"status", "assigned_trainer_id", "approved_by", "approved_at", "rejection_reason", "scheduled_date_time", "demo_notes",
	"created_at", "updated_at"}

func demoRequestRow(status models.DemoRequestStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(demoRequestRowColumns).
		AddRow("demo-1", "stu-1", "Sam", "course-1", "weekday evenings", now, string(status), nil, nil, nil, nil, nil, nil, now, now)
}

func demoApproval() models.DemoApproval {
	at := time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC)
	return models.DemoApproval{
		RequestID: "demo-1", TrainerID: "trainer-1", ApprovedBy: "admin-1", ApprovedAt: at.Add(-48 * time.Hour),
		ScheduledAt: at, DayOfWeek: "monday", Clock: "10:00", Duration: 60,
	}
}

func TestDemoCreateRequest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO demo_requests")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "Sam", "course-1", nil, nil, models.DemoRequestStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := &models.DemoRequest{StudentID: "stu-1", StudentName: "Sam", CourseID: "course-1"}
	require.NoError(t, repo.CreateRequest(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.DemoRequestStatusPending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoApproveBooksSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)
	approval := demoApproval()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM demo_requests WHERE id = $1 FOR UPDATE")).
		WithArgs("demo-1").
		WillReturnRows(demoRequestRow(models.DemoRequestStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students_per_slot FROM trainer_availability")).
		WithArgs("trainer-1", "monday", "10:00").
		WillReturnRows(sqlmock.NewRows([]string{"max_students_per_slot"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM demo_sessions")).
		WithArgs("trainer-1", approval.ScheduledAt.Add(-30*time.Minute), approval.ScheduledAt.Add(30*time.Minute), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demo_requests SET status = $2, assigned_trainer_id = $3")).
		WithArgs("demo-1", models.DemoRequestStatusApproved, "trainer-1", "admin-1", approval.ApprovedAt, approval.ScheduledAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO demo_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.Approve(context.Background(), approval, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", session.StudentID)
	assert.Equal(t, "course-1", session.CourseID)
	assert.Equal(t, models.DemoSessionStatusScheduled, session.Status)
	assert.Equal(t, 60, session.Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoApproveRejectsFullSlot(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM demo_requests WHERE id").WillReturnRows(demoRequestRow(models.DemoRequestStatusPending))
	mock.ExpectQuery("SELECT max_students_per_slot").WillReturnRows(sqlmock.NewRows([]string{"max_students_per_slot"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), demoApproval(), 30*time.Minute)
	assert.ErrorIs(t, err, ErrTrainerUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoApproveOutsideAvailability(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM demo_requests WHERE id").WillReturnRows(demoRequestRow(models.DemoRequestStatusPending))
	mock.ExpectQuery("SELECT max_students_per_slot").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), demoApproval(), 30*time.Minute)
	assert.ErrorIs(t, err, ErrTrainerUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoApproveRequiresPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM demo_requests WHERE id").WillReturnRows(demoRequestRow(models.DemoRequestStatusRejected))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), demoApproval(), 30*time.Minute)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoRejectIsGuarded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demo_requests SET status = $2, rejection_reason = $3")).
		WithArgs("demo-1", models.DemoRequestStatusRejected, "no trainer", "admin-1", at, models.DemoRequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Reject(context.Background(), "demo-1", "no trainer", "admin-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoListRequestsForTrainer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE dr.status = ANY($1) AND dr.assigned_trainer_id = $2 ORDER BY dr.scheduled_date_time ASC")).
		WithArgs(sqlmock.AnyArg(), "trainer-1").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, demoRequestRowColumns...), "course_title", "trainer_name")))

	requests, err := repo.ListRequests(context.Background(), models.DemoRequestFilter{
		AssignedTrainerID: "trainer-1",
		Statuses:          []models.DemoRequestStatus{models.DemoRequestStatusApproved, models.DemoRequestStatusCompleted},
	})
	require.NoError(t, err)
	assert.Empty(t, requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoUpdateSessionCompletesRequest(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	notes := "strong fundamentals"
	rating := decimal.RequireFromString("4.5")
	session := &models.DemoSession{ID: "session-1", DemoRequestID: "demo-1", Status: models.DemoSessionStatusCompleted, SessionNotes: &notes, Rating: &rating}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demo_sessions SET status = $2")).
		WithArgs("session-1", models.DemoSessionStatusCompleted, &notes, &rating, sqlmock.AnyArg(), models.DemoSessionStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE demo_requests SET status = $2, demo_notes = COALESCE($3, demo_notes)")).
		WithArgs("demo-1", models.DemoRequestStatusCompleted, &notes, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateSession(context.Background(), session, models.DemoSessionStatusScheduled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemoUpdateSessionStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDemoRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE demo_sessions SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateSession(context.Background(), &models.DemoSession{ID: "session-1", Status: models.DemoSessionStatusCancelled}, models.DemoSessionStatusScheduled)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
