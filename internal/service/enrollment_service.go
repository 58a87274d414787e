package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/payment"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsForStudentCourse(ctx context.Context, studentID, courseID string, statuses []models.EnrollmentStatus) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	AssignTrainer(ctx context.Context, id, trainerID string, assignedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, at time.Time) (int64, error)
	ProgressByStudent(ctx context.Context, studentID string) ([]models.StudentCourseProgress, error)
	ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.EnrollmentDetail, error)
	ListAssignedByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

type priceOptionReader interface {
	courseReader
	FindPriceOption(ctx context.Context, id string) (*models.CoursePriceOption, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EnrollmentService orchestrates the enrollment lifecycle from payment to completion.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     userReader
	courses   priceOptionReader
	audit     auditWriter
	verifier  payment.Verifier
	cache     *CacheService
	notifier  *NotificationService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(
	repo enrollmentRepository,
	users userReader,
	courses priceOptionReader,
	audit auditWriter,
	verifier payment.Verifier,
	cache *CacheService,
	notifier *NotificationService,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		users:     users,
		courses:   courses,
		audit:     audit,
		verifier:  verifier,
		cache:     cache,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, query dto.EnrollmentListQuery) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment filter")
	}
	filter := models.EnrollmentFilter{
		StudentID: query.StudentID,
		CourseID:  query.CourseID,
		TrainerID: query.TrainerID,
		Status:    models.EnrollmentStatus(query.Status),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns an enrollment visible to the actor.
func (s *EnrollmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "enrollment not found", "failed to load enrollment")
	}
	if actor.IsAdmin() || actor.UserID == detail.StudentID || (detail.TrainerID != nil && actor.UserID == *detail.TrainerID) {
		return detail, nil
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "not a party of this enrollment")
}

// CreateFromPayment records an enrollment once the gateway signature of the payment checks out.
func (s *EnrollmentService) CreateFromPayment(ctx context.Context, actor models.Actor, req dto.VerifyPaymentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !actor.IsAdmin() && actor.UserID != req.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot enroll another student")
	}
	if err := s.verifier.Verify(req.PaymentOrderID, req.PaymentID, req.Signature); err != nil {
		s.logger.Warn("payment signature rejected", zap.String("order_id", req.PaymentOrderID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidPaymentSignature.Code, appErrors.ErrInvalidPaymentSignature.Status, "payment signature verification failed")
	}

	if _, err := s.users.FindByIDAndRole(ctx, req.StudentID, models.RoleStudent); err != nil {
		return nil, translateLookupError(err, "student not found", "failed to load student")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, translateLookupError(err, "course not found", "failed to load course")
	}

	price := course.BasePrice
	if req.SelectedOptionID != nil {
		option, err := s.courses.FindPriceOption(ctx, *req.SelectedOptionID)
		if err != nil {
			return nil, translateLookupError(err, "price option not found", "failed to load price option")
		}
		if option.CourseID != course.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "price option does not belong to the course")
		}
		price = option.Price
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = price
	} else if !amount.Equal(price) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("amount %s does not match price %s", amount.StringFixed(2), price.StringFixed(2)))
	}

	active, err := s.repo.ExistsForStudentCourse(ctx, req.StudentID, req.CourseID, models.ActiveEnrollmentStatuses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollments")
	}
	if active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this course")
	}
	completed, err := s.repo.ExistsForStudentCourse(ctx, req.StudentID, req.CourseID, []models.EnrollmentStatus{models.EnrollmentStatusCompleted})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollments")
	}
	if completed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student has already completed this course")
	}

	orderID, paymentID := req.PaymentOrderID, req.PaymentID
	enrollment := &models.Enrollment{
		StudentID:        req.StudentID,
		CourseID:         req.CourseID,
		Status:           models.EnrollmentStatusEnrolled,
		SelectedOptionID: req.SelectedOptionID,
		Amount:           amount,
		PaymentMethod:    req.PaymentMethod,
		PaymentOrderID:   &orderID,
		PaymentID:        &paymentID,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student is already enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.recordAudit(ctx, actor, models.AuditActionEnroll, enrollment.ID, map[string]interface{}{
		"course_id":  enrollment.CourseID,
		"student_id": enrollment.StudentID,
		"amount":     enrollment.Amount.StringFixed(2),
		"order_id":   orderID,
	}, req.IP, req.UserAgent)
	s.cache.Invalidate(ctx, StudentProgressKey(enrollment.StudentID))
	s.logger.Info("enrollment created", zap.String("enrollment_id", enrollment.ID), zap.String("course_id", enrollment.CourseID))

	return s.detail(ctx, enrollment.ID)
}

// AssignTrainer binds a trainer to an enrollment that has not started classes.
func (s *EnrollmentService) AssignTrainer(ctx context.Context, actor models.Actor, id string, req dto.AssignTrainerRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "enrollment not found", "failed to load enrollment")
	}
	trainer, err := s.users.FindByIDAndRole(ctx, req.TrainerID, models.RoleTrainer)
	if err != nil {
		return nil, translateLookupError(err, "trainer not found", "failed to load trainer")
	}
	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusTrainerAssigned) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot assign a trainer to a %s enrollment", enrollment.Status))
	}

	assigned, err := s.repo.AssignTrainer(ctx, id, trainer.ID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign trainer")
	}
	if !assigned {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment changed status concurrently")
	}

	detail, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, models.AuditActionAssignTrainer, id, map[string]interface{}{
		"trainer_id":       trainer.ID,
		"previous_trainer": enrollment.TrainerID,
	}, "", "")
	s.cache.Invalidate(ctx, StudentProgressKey(enrollment.StudentID))
	s.notifier.Notify(EventTrainerAssigned, dto.TrainerAssignedEvent{
		Type:         EventTrainerAssigned,
		EnrollmentID: id,
		CourseID:     enrollment.CourseID,
		CourseTitle:  detail.CourseTitle,
		StudentID:    enrollment.StudentID,
		TrainerID:    trainer.ID,
		TrainerName:  trainer.FullName,
	}, enrollment.StudentID, trainer.ID)
	s.logger.Info("trainer assigned", zap.String("enrollment_id", id), zap.String("trainer_id", trainer.ID))
	return detail, nil
}

// Cancel ends an active enrollment and releases its live schedules.
func (s *EnrollmentService) Cancel(ctx context.Context, actor models.Actor, id string) (*dto.CancelEnrollmentResponse, error) {
	released, err := s.repo.Cancel(ctx, id, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrStaleStatus):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only active enrollments can be cancelled")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
		}
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err == nil {
		s.cache.Invalidate(ctx, StudentProgressKey(enrollment.StudentID))
	} else {
		s.logger.Warn("failed to reload cancelled enrollment", zap.String("enrollment_id", id), zap.Error(err))
	}
	s.recordAudit(ctx, actor, models.AuditActionCancel, id, map[string]interface{}{"released_schedules": released}, "", "")
	s.logger.Info("enrollment cancelled", zap.String("enrollment_id", id), zap.Int64("released_schedules", released))
	return &dto.CancelEnrollmentResponse{EnrollmentID: id, ReleasedSchedules: released}, nil
}

// StudentCourses lists a student's courses with allocation counters. Trainers only see the
// courses they teach to that student. The flag reports a cache hit.
func (s *EnrollmentService) StudentCourses(ctx context.Context, actor models.Actor, studentID string) ([]models.StudentCourseProgress, bool, error) {
	if !actor.IsAdmin() && actor.UserID != studentID && actor.Role != models.RoleTrainer {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's courses")
	}

	var progress []models.StudentCourseProgress
	key := StudentProgressKey(studentID)
	hit := s.cache.Get(ctx, key, &progress)
	if !hit {
		loaded, err := s.repo.ProgressByStudent(ctx, studentID)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student courses")
		}
		progress = loaded
		s.cache.Set(ctx, key, progress, 0)
	}
	if progress == nil {
		progress = []models.StudentCourseProgress{}
	}

	if actor.Role != models.RoleTrainer || actor.UserID == studentID {
		return progress, hit, nil
	}
	scoped := make([]models.StudentCourseProgress, 0, len(progress))
	for _, item := range progress {
		if item.TrainerID != nil && *item.TrainerID == actor.UserID {
			scoped = append(scoped, item)
		}
	}
	if len(scoped) == 0 {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "student is not assigned to this trainer")
	}
	return scoped, hit, nil
}

// TrainerStudents lists the active enrollments a trainer teaches. Trainers only see their own.
func (s *EnrollmentService) TrainerStudents(ctx context.Context, actor models.Actor, trainerID string) ([]models.EnrollmentDetail, error) {
	if !actor.IsAdmin() && actor.UserID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another trainer's students")
	}
	roster, err := s.repo.ListActiveByTrainer(ctx, trainerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainer students")
	}
	if roster == nil {
		roster = []models.EnrollmentDetail{}
	}
	return roster, nil
}

// StudentTrainers lists the trainers assigned to a student's active enrollments, one entry per course.
func (s *EnrollmentService) StudentTrainers(ctx context.Context, actor models.Actor, studentID string) ([]models.EnrollmentDetail, error) {
	if !actor.IsAdmin() && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's trainers")
	}
	assigned, err := s.repo.ListAssignedByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student trainers")
	}
	if assigned == nil {
		assigned = []models.EnrollmentDetail{}
	}
	return assigned, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "enrollment not found", "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) recordAudit(ctx context.Context, actor models.Actor, action, resourceID string, values map[string]interface{}, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(values)
	if err != nil {
		s.logger.Warn("failed to encode audit values", zap.Error(err))
		payload = nil
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
