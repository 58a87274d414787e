package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, trainer_id, status, selected_option_id, amount, payment_method,
payment_order_id, payment_id, assigned_at, completed_at, created_at, updated_at`

const enrollmentDetailSelect = `SELECT e.id, e.student_id, e.course_id, e.trainer_id, e.status, e.selected_option_id, e.amount,
e.payment_method, e.payment_order_id, e.payment_id, e.assigned_at, e.completed_at, e.created_at, e.updated_at,
s.full_name AS student_name, s.email AS student_email, c.title AS course_title, t.full_name AS trainer_name
FROM enrollments e
JOIN users s ON s.id = e.student_id
JOIN courses c ON c.id = e.course_id
LEFT JOIN users t ON t.id = e.trainer_id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TrainerID != "" {
		conditions = append(conditions, fmt.Sprintf("e.trainer_id = $%d", len(args)+1))
		args = append(args, filter.TrainerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "s.full_name",
		"course_title": "c.title",
		"status":       "e.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentDetailSelect, clause, orderBy, order, size, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM enrollments e%s`, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByTriple returns the active enrollment binding a student, course and trainer.
func (r *EnrollmentRepository) FindActiveByTriple(ctx context.Context, studentID, courseID, trainerID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND course_id = $2 AND trainer_id = $3 AND status = ANY($4)
ORDER BY created_at DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID, trainerID, pq.Array(activeStatuses())); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListActiveByTrainer returns the active enrollments a trainer teaches, oldest assignment first.
func (r *EnrollmentRepository) ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.trainer_id = $1 AND e.status = ANY($2) ORDER BY e.assigned_at, s.full_name`
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, trainerID, pq.Array(activeStatuses())); err != nil {
		return nil, fmt.Errorf("list trainer roster: %w", err)
	}
	return roster, nil
}

// ListAssignedByStudent returns a student's active enrollments that already have a trainer.
func (r *EnrollmentRepository) ListAssignedByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.student_id = $1 AND e.trainer_id IS NOT NULL AND e.status = ANY($2) ORDER BY c.title`
	var assigned []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &assigned, query, studentID, pq.Array(activeStatuses())); err != nil {
		return nil, fmt.Errorf("list student trainers: %w", err)
	}
	return assigned, nil
}

// ExistsForStudentCourse reports whether the student holds an enrollment in one of the statuses.
func (r *EnrollmentRepository) ExistsForStudentCourse(ctx context.Context, studentID, courseID string, statuses []models.EnrollmentStatus) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = ANY($3) LIMIT 1`
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID, pq.Array(values)); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment existence: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, trainer_id, status, selected_option_id, amount, payment_method,
payment_order_id, payment_id, assigned_at, completed_at, created_at, updated_at)
VALUES (:id, :student_id, :course_id, :trainer_id, :status, :selected_option_id, :amount, :payment_method,
:payment_order_id, :payment_id, :assigned_at, :completed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// AssignTrainer binds a trainer while the enrollment has not started classes.
// It returns false when the enrollment is no longer in an assignable status.
func (r *EnrollmentRepository) AssignTrainer(ctx context.Context, id, trainerID string, assignedAt time.Time) (bool, error) {
	const query = `UPDATE enrollments SET trainer_id = $2, status = $3, assigned_at = $4, updated_at = $4
WHERE id = $1 AND status IN ($5, $6)`
	res, err := r.db.ExecContext(ctx, query, id, trainerID, models.EnrollmentStatusTrainerAssigned, assignedAt,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusTrainerAssigned)
	if err != nil {
		return false, fmt.Errorf("assign trainer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign trainer rows: %w", err)
	}
	return affected > 0, nil
}

// Cancel marks an active enrollment cancelled and releases its live schedules.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time) (released int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cancel enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var enrollment models.Enrollment
	lockQuery := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &enrollment, lockQuery, id); err != nil {
		return 0, err
	}
	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusCancelled) {
		err = ErrStaleStatus
		return 0, err
	}

	const updateQuery = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, id, models.EnrollmentStatusCancelled, at); err != nil {
		return 0, fmt.Errorf("cancel enrollment: %w", err)
	}

	const releaseQuery = `UPDATE class_schedules SET status = $2, updated_at = $3
WHERE enrollment_id = $1 AND status IN ($4, $5)`
	res, execErr := tx.ExecContext(ctx, releaseQuery, id, models.ScheduleStatusCancelled, at,
		models.ScheduleStatusScheduled, models.ScheduleStatusRescheduled)
	if execErr != nil {
		err = fmt.Errorf("release enrollment schedules: %w", execErr)
		return 0, err
	}
	released, _ = res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel enrollment: %w", err)
	}
	return released, nil
}

// CompleteActive finalises an enrollment that still has a trainer and an active status.
// Cancelled and already completed enrollments are left untouched, so the call is idempotent.
func (r *EnrollmentRepository) CompleteActive(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = $2, completed_at = $3, updated_at = $3
WHERE id = $1 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusCompleted, completedAt,
		models.EnrollmentStatusTrainerAssigned, models.EnrollmentStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("complete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete enrollment rows: %w", err)
	}
	return affected > 0, nil
}

// ProgressByStudent lists a student's enrollments with live schedule counters for each course.
func (r *EnrollmentRepository) ProgressByStudent(ctx context.Context, studentID string) ([]models.StudentCourseProgress, error) {
	const query = `SELECT e.id AS enrollment_id, e.status AS enrollment_status, e.course_id, c.title AS course_title,
e.trainer_id, t.full_name AS trainer_name, c.total_classes,
COUNT(cs.id) FILTER (WHERE cs.status <> 'cancelled') AS scheduled_classes,
COUNT(cs.id) FILTER (WHERE cs.status = 'completed') AS completed_classes,
e.assigned_at, e.completed_at
FROM enrollments e
JOIN courses c ON c.id = e.course_id
LEFT JOIN users t ON t.id = e.trainer_id
LEFT JOIN class_schedules cs ON cs.enrollment_id = e.id
WHERE e.student_id = $1 AND e.status <> 'cancelled'
GROUP BY e.id, c.id, t.id
ORDER BY e.created_at DESC`
	var progress []models.StudentCourseProgress
	if err := r.db.SelectContext(ctx, &progress, query, studentID); err != nil {
		return nil, fmt.Errorf("list student course progress: %w", err)
	}
	for i := range progress {
		remaining := progress[i].TotalClasses - progress[i].ScheduledClasses
		if remaining < 0 {
			remaining = 0
		}
		progress[i].RemainingClasses = remaining
	}
	return progress, nil
}

func activeStatuses() []string {
	values := make([]string, len(models.ActiveEnrollmentStatuses))
	for i, status := range models.ActiveEnrollmentStatuses {
		values[i] = string(status)
	}
	return values
}
