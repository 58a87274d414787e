package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// ErrTrainerUnavailable is returned when an approval targets a trainer with no open capacity at that time.
var ErrTrainerUnavailable = errors.New("trainer is not available at the requested time")

const demoRequestColumns = `id, student_id, student_name, course_id, request_message, preferred_date_time, status,
assigned_trainer_id, approved_by, approved_at, rejection_reason, scheduled_date_time, demo_notes, created_at, updated_at`

const demoRequestDetailSelect = `SELECT dr.id, dr.student_id, dr.student_name, dr.course_id, dr.request_message,
dr.preferred_date_time, dr.status, dr.assigned_trainer_id, dr.approved_by, dr.approved_at, dr.rejection_reason,
dr.scheduled_date_time, dr.demo_notes, dr.created_at, dr.updated_at,
c.title AS course_title, t.full_name AS trainer_name
FROM demo_requests dr
JOIN courses c ON c.id = dr.course_id
LEFT JOIN users t ON t.id = dr.assigned_trainer_id`

const demoSessionColumns = `id, demo_request_id, trainer_id, student_id, course_id, scheduled_date_time, duration, status,
session_notes, rating, meet_link, google_event_id, created_at, updated_at`

const demoSessionDetailSelect = `SELECT ds.id, ds.demo_request_id, ds.trainer_id, ds.student_id, ds.course_id,
ds.scheduled_date_time, ds.duration, ds.status, ds.session_notes, ds.rating, ds.meet_link, ds.google_event_id,
ds.created_at, ds.updated_at,
c.title AS course_title, t.full_name AS trainer_name, s.full_name AS student_name
FROM demo_sessions ds
JOIN courses c ON c.id = ds.course_id
JOIN users t ON t.id = ds.trainer_id
JOIN users s ON s.id = ds.student_id`

// DemoRepository persists trial-class requests and the sessions booked from them.
type DemoRepository struct {
	db *sqlx.DB
}

// NewDemoRepository constructs the repository.
func NewDemoRepository(db *sqlx.DB) *DemoRepository {
	return &DemoRepository{db: db}
}

// CreateRequest inserts a pending request. A second pending request for the same student and
// course violates demo_requests_pending_key.
func (r *DemoRepository) CreateRequest(ctx context.Context, req *models.DemoRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.Status = models.DemoRequestStatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	const query = `INSERT INTO demo_requests (id, student_id, student_name, course_id, request_message, preferred_date_time, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query, req.ID, req.StudentID, req.StudentName, req.CourseID, req.RequestMessage,
		req.PreferredDateTime, req.Status, req.CreatedAt, req.UpdatedAt); err != nil {
		return fmt.Errorf("insert demo request: %w", err)
	}
	return nil
}

// FindRequestByID returns a request by id.
func (r *DemoRepository) FindRequestByID(ctx context.Context, id string) (*models.DemoRequest, error) {
	var req models.DemoRequest
	if err := r.db.GetContext(ctx, &req, `SELECT `+demoRequestColumns+` FROM demo_requests WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindRequestDetailByID returns a request with course and trainer names.
func (r *DemoRepository) FindRequestDetailByID(ctx context.Context, id string) (*models.DemoRequestDetail, error) {
	var detail models.DemoRequestDetail
	if err := r.db.GetContext(ctx, &detail, demoRequestDetailSelect+` WHERE dr.id = $1`, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListRequests returns requests matching the filter. Requests assigned to a trainer are ordered by
// their slot, everything else newest first.
func (r *DemoRepository) ListRequests(ctx context.Context, filter models.DemoRequestFilter) ([]models.DemoRequestDetail, error) {
	var conditions []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("dr.status = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		args = append(args, pq.Array(values))
		conditions = append(conditions, fmt.Sprintf("dr.status = ANY($%d)", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("dr.student_id = $%d", len(args)))
	}
	orderBy := "dr.created_at DESC"
	if filter.AssignedTrainerID != "" {
		args = append(args, filter.AssignedTrainerID)
		conditions = append(conditions, fmt.Sprintf("dr.assigned_trainer_id = $%d", len(args)))
		orderBy = "dr.scheduled_date_time ASC"
	}

	query := demoRequestDetailSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + orderBy
	var requests []models.DemoRequestDetail
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list demo requests: %w", err)
	}
	return requests, nil
}

// Approve marks a pending request approved and books its session in one transaction. The trainer's
// matching availability row is locked so concurrent approvals cannot overbook the slot.
func (r *DemoRepository) Approve(ctx context.Context, approval models.DemoApproval, window time.Duration) (session *models.DemoSession, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin demo approval: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var req models.DemoRequest
	if err = tx.GetContext(ctx, &req, `SELECT `+demoRequestColumns+` FROM demo_requests WHERE id = $1 FOR UPDATE`, approval.RequestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock demo request: %w", err)
	}
	if req.Status != models.DemoRequestStatusPending {
		err = ErrStaleStatus
		return nil, err
	}

	capacity, err := lockOpenSlot(ctx, tx, approval.TrainerID, approval.DayOfWeek, approval.Clock)
	if err != nil {
		return nil, err
	}
	const bookedQuery = `SELECT COUNT(*) FROM demo_sessions
WHERE trainer_id = $1 AND scheduled_date_time BETWEEN $2 AND $3 AND status = ANY($4)`
	var booked int
	if err = tx.GetContext(ctx, &booked, bookedQuery, approval.TrainerID,
		approval.ScheduledAt.Add(-window), approval.ScheduledAt.Add(window), pq.Array(bookedDemoStatuses())); err != nil {
		return nil, fmt.Errorf("count booked demo sessions: %w", err)
	}
	if booked >= capacity {
		err = ErrTrainerUnavailable
		return nil, err
	}

	const approveQuery = `UPDATE demo_requests SET status = $2, assigned_trainer_id = $3, approved_by = $4, approved_at = $5,
scheduled_date_time = $6, updated_at = $5 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, approveQuery, req.ID, models.DemoRequestStatusApproved, approval.TrainerID,
		approval.ApprovedBy, approval.ApprovedAt, approval.ScheduledAt); err != nil {
		return nil, fmt.Errorf("approve demo request: %w", err)
	}

	session = &models.DemoSession{
		ID:                uuid.NewString(),
		DemoRequestID:     req.ID,
		TrainerID:         approval.TrainerID,
		StudentID:         req.StudentID,
		CourseID:          req.CourseID,
		ScheduledDateTime: approval.ScheduledAt,
		Duration:          approval.Duration,
		Status:            models.DemoSessionStatusScheduled,
		CreatedAt:         approval.ApprovedAt,
		UpdatedAt:         approval.ApprovedAt,
	}
	const sessionQuery = `INSERT INTO demo_sessions (id, demo_request_id, trainer_id, student_id, course_id, scheduled_date_time, duration, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err = tx.ExecContext(ctx, sessionQuery, session.ID, session.DemoRequestID, session.TrainerID, session.StudentID,
		session.CourseID, session.ScheduledDateTime, session.Duration, session.Status, session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert demo session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit demo approval: %w", err)
	}
	return session, nil
}

func lockOpenSlot(ctx context.Context, tx *sqlx.Tx, trainerID, day, clock string) (int, error) {
	const query = `SELECT max_students_per_slot FROM trainer_availability
WHERE trainer_id = $1 AND day_of_week = $2 AND start_time <= $3 AND end_time >= $3 AND is_available
ORDER BY max_students_per_slot DESC LIMIT 1 FOR UPDATE`
	var capacity int
	if err := tx.GetContext(ctx, &capacity, query, trainerID, day, clock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTrainerUnavailable
		}
		return 0, fmt.Errorf("lock trainer availability: %w", err)
	}
	return capacity, nil
}

// Reject closes a pending request. It reports false when the request was no longer pending.
func (r *DemoRepository) Reject(ctx context.Context, id, reason, rejectedBy string, at time.Time) (bool, error) {
	const query = `UPDATE demo_requests SET status = $2, rejection_reason = $3, approved_by = $4, approved_at = $5, updated_at = $5
WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.DemoRequestStatusRejected, reason, rejectedBy, at, models.DemoRequestStatusPending)
	if err != nil {
		return false, fmt.Errorf("reject demo request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject demo request rows: %w", err)
	}
	return affected > 0, nil
}

// FindSessionByID returns a session by id.
func (r *DemoRepository) FindSessionByID(ctx context.Context, id string) (*models.DemoSession, error) {
	var session models.DemoSession
	if err := r.db.GetContext(ctx, &session, `SELECT `+demoSessionColumns+` FROM demo_sessions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindSessionDetailByID returns a session with participant and course names.
func (r *DemoRepository) FindSessionDetailByID(ctx context.Context, id string) (*models.DemoSessionDetail, error) {
	var detail models.DemoSessionDetail
	if err := r.db.GetContext(ctx, &detail, demoSessionDetailSelect+` WHERE ds.id = $1`, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListSessions returns sessions matching the filter in chronological order.
func (r *DemoRepository) ListSessions(ctx context.Context, filter models.DemoSessionFilter) ([]models.DemoSessionDetail, error) {
	var conditions []string
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("ds.status = $%d", len(args)))
	}
	if filter.TrainerID != "" {
		args = append(args, filter.TrainerID)
		conditions = append(conditions, fmt.Sprintf("ds.trainer_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("ds.student_id = $%d", len(args)))
	}
	query := demoSessionDetailSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ds.scheduled_date_time ASC"
	var sessions []models.DemoSessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list demo sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession writes status, notes and rating provided the status is still expected. Completing
// the session completes its request in the same transaction.
func (r *DemoRepository) UpdateSession(ctx context.Context, session *models.DemoSession, expected models.DemoSessionStatus) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin demo session update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE demo_sessions SET status = $2, session_notes = $3, rating = $4, updated_at = $5
WHERE id = $1 AND status = $6`
	res, err := tx.ExecContext(ctx, query, session.ID, session.Status, session.SessionNotes, session.Rating, session.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update demo session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update demo session rows: %w", err)
	}
	if affected == 0 {
		err = ErrStaleStatus
		return err
	}

	if session.Status == models.DemoSessionStatusCompleted && expected != models.DemoSessionStatusCompleted {
		const completeQuery = `UPDATE demo_requests SET status = $2, demo_notes = COALESCE($3, demo_notes), updated_at = $4 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, completeQuery, session.DemoRequestID, models.DemoRequestStatusCompleted,
			session.SessionNotes, session.UpdatedAt); err != nil {
			return fmt.Errorf("complete demo request: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit demo session update: %w", err)
	}
	return nil
}

// SetSessionMeeting records the conference link provisioned for a session.
func (r *DemoRepository) SetSessionMeeting(ctx context.Context, id, link, eventID string) error {
	const query = `UPDATE demo_sessions SET meet_link = $2, google_event_id = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, link, eventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set demo session meeting: %w", err)
	}
	return nil
}

func bookedDemoStatuses() []string {
	values := make([]string, len(models.BookedDemoStatuses))
	for i, status := range models.BookedDemoStatuses {
		values[i] = string(status)
	}
	return values
}
