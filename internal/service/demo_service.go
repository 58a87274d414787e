package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/meeting"
)

var (
	minDemoRating = decimal.NewFromInt(1)
	maxDemoRating = decimal.NewFromInt(5)
)

type demoRepository interface {
	CreateRequest(ctx context.Context, req *models.DemoRequest) error
	FindRequestByID(ctx context.Context, id string) (*models.DemoRequest, error)
	FindRequestDetailByID(ctx context.Context, id string) (*models.DemoRequestDetail, error)
	ListRequests(ctx context.Context, filter models.DemoRequestFilter) ([]models.DemoRequestDetail, error)
	Approve(ctx context.Context, approval models.DemoApproval, window time.Duration) (*models.DemoSession, error)
	Reject(ctx context.Context, id, reason, rejectedBy string, at time.Time) (bool, error)
	FindSessionByID(ctx context.Context, id string) (*models.DemoSession, error)
	FindSessionDetailByID(ctx context.Context, id string) (*models.DemoSessionDetail, error)
	ListSessions(ctx context.Context, filter models.DemoSessionFilter) ([]models.DemoSessionDetail, error)
	UpdateSession(ctx context.Context, session *models.DemoSession, expected models.DemoSessionStatus) error
	SetSessionMeeting(ctx context.Context, id, link, eventID string) error
}

type openSlotFinder interface {
	ListAvailable(ctx context.Context, q models.AvailabilityQuery) ([]models.AvailableTrainer, error)
}

// DemoConfig tunes demo booking.
type DemoConfig struct {
	SessionDuration time.Duration
	MeetingTimeout  time.Duration
}

// DemoService runs trial classes: students ask, admins approve with a trainer, a session is booked.
type DemoService struct {
	repo      demoRepository
	slots     openSlotFinder
	users     userReader
	courses   courseReader
	meetings  meeting.Provisioner
	notifier  *NotificationService
	metrics   *MetricsService
	clock     SlotClock
	validator *validator.Validate
	logger    *zap.Logger
	config    DemoConfig
	now       func() time.Time
}

// NewDemoService constructs DemoService.
func NewDemoService(
	repo demoRepository,
	slots openSlotFinder,
	users userReader,
	courses courseReader,
	meetings meeting.Provisioner,
	notifier *NotificationService,
	metrics *MetricsService,
	clock SlotClock,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg DemoConfig,
) *DemoService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meetings == nil {
		meetings = meeting.Noop{}
	}
	if metrics == nil {
		metrics = NewMetricsService()
	}
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = time.Hour
	}
	if cfg.MeetingTimeout <= 0 {
		cfg.MeetingTimeout = 10 * time.Second
	}
	return &DemoService{
		repo: repo, slots: slots, users: users, courses: courses, meetings: meetings, notifier: notifier,
		metrics: metrics, clock: clock, validator: validate, logger: logger, config: cfg, now: time.Now,
	}
}

// Request records a pending demo request. A student may hold one pending request per course.
func (s *DemoService) Request(ctx context.Context, actor models.Actor, req dto.CreateDemoRequest) (*models.DemoRequestDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demo request payload")
	}
	if !actor.IsAdmin() && actor.UserID != req.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot request a demo for another student")
	}

	student, err := s.users.FindByIDAndRole(ctx, req.StudentID, models.RoleStudent)
	if err != nil {
		return nil, translateLookupError(err, "student not found", "failed to load student")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		return nil, translateLookupError(err, "course not found", "failed to load course")
	}

	record := &models.DemoRequest{
		StudentID:   student.ID,
		StudentName: strings.TrimSpace(req.StudentName),
		CourseID:    req.CourseID,
	}
	if record.StudentName == "" {
		record.StudentName = student.FullName
	}
	if msg := strings.TrimSpace(req.RequestMessage); msg != "" {
		record.RequestMessage = &msg
	}
	if req.PreferredDateTime != "" {
		preferred, ok := s.clock.Parse(req.PreferredDateTime)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid preferredDateTime format")
		}
		preferred = preferred.UTC()
		record.PreferredDateTime = &preferred
	}

	if err := s.repo.CreateRequest(ctx, record); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already have a pending demo request for this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create demo request")
	}
	s.logger.Info("demo requested",
		zap.String("demo_request_id", record.ID),
		zap.String("student_id", record.StudentID),
		zap.String("course_id", record.CourseID))
	s.notifier.Notify(EventDemoRequested, map[string]interface{}{
		"type":          EventDemoRequested,
		"demoRequestId": record.ID,
		"courseId":      record.CourseID,
	}, record.StudentID)
	return s.requestDetail(ctx, record.ID)
}

// ListRequests returns every request, optionally by status.
func (s *DemoService) ListRequests(ctx context.Context, query dto.DemoRequestListQuery) ([]models.DemoRequestDetail, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demo request filter")
	}
	return s.listRequests(ctx, models.DemoRequestFilter{Status: models.DemoRequestStatus(query.Status)})
}

// StudentRequests lists a student's own requests, newest first.
func (s *DemoService) StudentRequests(ctx context.Context, actor models.Actor, studentID string) ([]models.DemoRequestDetail, error) {
	if !actor.IsAdmin() && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's demo requests")
	}
	return s.listRequests(ctx, models.DemoRequestFilter{StudentID: studentID})
}

// TrainerRequests lists approved and completed requests assigned to a trainer by slot.
func (s *DemoService) TrainerRequests(ctx context.Context, actor models.Actor, trainerID string) ([]models.DemoRequestDetail, error) {
	if !actor.IsAdmin() && actor.UserID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another trainer's demo requests")
	}
	return s.listRequests(ctx, models.DemoRequestFilter{
		AssignedTrainerID: trainerID,
		Statuses:          []models.DemoRequestStatus{models.DemoRequestStatusApproved, models.DemoRequestStatusCompleted},
	})
}

// Approve assigns a trainer and books the demo session. The trainer must advertise an open slot
// containing the scheduled time with capacity left; without an explicit trainer the course's own
// trainer is preferred, then whoever has the most capacity.
func (s *DemoService) Approve(ctx context.Context, actor models.Actor, id string, req dto.ApproveDemoRequest) (*dto.DemoApprovalResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demo approval payload")
	}
	scheduledAt, ok := s.clock.Parse(req.ScheduledDateTime)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid scheduledDateTime format")
	}

	request, err := s.repo.FindRequestByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "demo request not found", "failed to load demo request")
	}
	if request.Status != models.DemoRequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending requests can be approved")
	}

	trainerID := req.AssignedTrainerID
	if trainerID == "" {
		trainerID, err = s.bestTrainer(ctx, request.CourseID, scheduledAt)
		if err != nil {
			return nil, err
		}
	}
	trainer, err := s.users.FindByIDAndRole(ctx, trainerID, models.RoleTrainer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid trainer ID")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainer")
	}

	day, clock := s.clock.Slot(scheduledAt)
	session, err := s.repo.Approve(ctx, models.DemoApproval{
		RequestID:   request.ID,
		TrainerID:   trainer.ID,
		ApprovedBy:  actor.UserID,
		ApprovedAt:  s.now().UTC(),
		ScheduledAt: scheduledAt.UTC(),
		DayOfWeek:   day,
		Clock:       clock,
		Duration:    int(s.config.SessionDuration / time.Minute),
	}, s.clock.Window)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrNotFound, "demo request not found")
	case errors.Is(err, repository.ErrStaleStatus):
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending requests can be approved")
	case errors.Is(err, repository.ErrTrainerUnavailable):
		return nil, appErrors.Clone(appErrors.ErrValidation, "trainer is not available at the requested time")
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve demo request")
	}

	if link, eventID, ok := s.provisionMeeting(ctx, trainer, request, scheduledAt); ok {
		if err := s.repo.SetSessionMeeting(ctx, session.ID, link, eventID); err != nil {
			s.logger.Warn("failed to store demo meeting link", zap.String("demo_session_id", session.ID), zap.Error(err))
		} else {
			session.MeetLink = &link
			session.GoogleEventID = &eventID
		}
	}

	s.logger.Info("demo approved",
		zap.String("demo_request_id", request.ID),
		zap.String("demo_session_id", session.ID),
		zap.String("trainer_id", trainer.ID),
		zap.Time("scheduled_at", session.ScheduledDateTime))
	s.notifier.Notify(EventDemoScheduled, map[string]interface{}{
		"type":              EventDemoScheduled,
		"demoRequestId":     request.ID,
		"demoSessionId":     session.ID,
		"courseId":          request.CourseID,
		"scheduledDateTime": session.ScheduledDateTime,
		"meetLink":          session.MeetLink,
	}, request.StudentID, trainer.ID)

	detail, err := s.requestDetail(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return &dto.DemoApprovalResponse{Request: detail, Session: session}, nil
}

// Reject closes a pending request with a reason.
func (s *DemoService) Reject(ctx context.Context, actor models.Actor, id string, req dto.RejectDemoRequest) (*models.DemoRequestDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	request, err := s.repo.FindRequestByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "demo request not found", "failed to load demo request")
	}
	rejected, err := s.repo.Reject(ctx, id, strings.TrimSpace(req.RejectionReason), actor.UserID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject demo request")
	}
	if !rejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending requests can be rejected")
	}
	s.logger.Info("demo rejected", zap.String("demo_request_id", id), zap.String("actor_id", actor.UserID))
	s.notifier.Notify(EventDemoRejected, map[string]interface{}{
		"type":          EventDemoRejected,
		"demoRequestId": id,
		"reason":        req.RejectionReason,
	}, request.StudentID)
	return s.requestDetail(ctx, id)
}

// ListSessions returns sessions visible to the actor. Trainers and students only see their own.
func (s *DemoService) ListSessions(ctx context.Context, actor models.Actor, query dto.DemoSessionListQuery) ([]models.DemoSessionDetail, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demo session filter")
	}
	filter := models.DemoSessionFilter{
		Status:    models.DemoSessionStatus(query.Status),
		TrainerID: query.TrainerID,
		StudentID: query.StudentID,
	}
	switch actor.Role {
	case models.RoleTrainer:
		filter.TrainerID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	}
	sessions, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load demo sessions")
	}
	if sessions == nil {
		sessions = []models.DemoSessionDetail{}
	}
	return sessions, nil
}

// UpdateSession moves a session through its states and records notes and rating. Completing it
// completes the originating request.
func (s *DemoService) UpdateSession(ctx context.Context, actor models.Actor, id string, req dto.UpdateDemoSessionRequest) (*models.DemoSessionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid demo session payload")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown demo session status %q", *req.Status))
	}
	if req.Rating != nil && (req.Rating.LessThan(minDemoRating) || req.Rating.GreaterThan(maxDemoRating)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rating must be between 1 and 5")
	}

	session, err := s.repo.FindSessionByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "demo session not found", "failed to load demo session")
	}
	if !actor.IsAdmin() && actor.UserID != session.TrainerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned trainer can update this demo session")
	}

	current := session.Status
	if req.Status != nil && *req.Status != current {
		if !current.CanTransitionTo(*req.Status) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move demo session from %s to %s", current, *req.Status))
		}
		session.Status = *req.Status
	}
	if req.SessionNotes != nil {
		session.SessionNotes = req.SessionNotes
	}
	if req.Rating != nil {
		rating := req.Rating.Round(1)
		session.Rating = &rating
	}

	if err := s.repo.UpdateSession(ctx, session, current); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "demo session was modified concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update demo session")
	}

	if session.Status != current {
		s.notifier.Notify(EventDemoUpdated, map[string]interface{}{
			"type":          EventDemoUpdated,
			"demoSessionId": session.ID,
			"status":        session.Status,
		}, session.StudentID)
	}
	s.logger.Info("demo session updated",
		zap.String("demo_session_id", session.ID),
		zap.String("from", string(current)),
		zap.String("to", string(session.Status)))

	detail, err := s.repo.FindSessionDetailByID(ctx, session.ID)
	if err != nil {
		return nil, translateLookupError(err, "demo session not found", "failed to load demo session")
	}
	return detail, nil
}

func (s *DemoService) bestTrainer(ctx context.Context, courseID string, at time.Time) (string, error) {
	open, err := s.slots.ListAvailable(ctx, s.clock.Query(at))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load available trainers")
	}
	if len(open) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "no trainer is available at the requested time")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return "", translateLookupError(err, "course not found", "failed to load course")
	}
	if course.TrainerID != nil {
		for _, slot := range open {
			if slot.TrainerID == *course.TrainerID {
				return slot.TrainerID, nil
			}
		}
	}
	return open[0].TrainerID, nil
}

// provisionMeeting never fails the approval; a false return means no link.
func (s *DemoService) provisionMeeting(ctx context.Context, trainer *models.User, request *models.DemoRequest, at time.Time) (string, string, bool) {
	mctx, cancel := context.WithTimeout(ctx, s.config.MeetingTimeout)
	defer cancel()

	local := at.In(s.clock.location())
	student := meeting.Participant{Name: request.StudentName}
	if user, err := s.users.FindByIDAndRole(ctx, request.StudentID, models.RoleStudent); err == nil {
		student.Email = user.Email
	}
	m, err := s.meetings.CreateMeeting(mctx, meeting.Request{
		Trainer:    meeting.Participant{Name: trainer.FullName, Email: trainer.Email},
		Student:    student,
		ClassTitle: "Demo class",
		Date:       local.Format("2006-01-02"),
		Time:       local.Format("15:04"),
		Duration:   s.config.SessionDuration,
	})
	switch {
	case errors.Is(err, meeting.ErrDisabled):
		s.metrics.RecordMeeting(MeetingResultDisabled)
		return "", "", false
	case err != nil:
		s.metrics.RecordMeeting(MeetingResultFailed)
		s.logger.Warn("demo meeting provisioning failed", zap.String("demo_request_id", request.ID), zap.Error(err))
		return "", "", false
	case m == nil || m.Link == "":
		s.metrics.RecordMeeting(MeetingResultFailed)
		return "", "", false
	}
	s.metrics.RecordMeeting(MeetingResultCreated)
	return m.Link, m.EventID, true
}

func (s *DemoService) listRequests(ctx context.Context, filter models.DemoRequestFilter) ([]models.DemoRequestDetail, error) {
	requests, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load demo requests")
	}
	if requests == nil {
		requests = []models.DemoRequestDetail{}
	}
	return requests, nil
}

func (s *DemoService) requestDetail(ctx context.Context, id string) (*models.DemoRequestDetail, error) {
	detail, err := s.repo.FindRequestDetailByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "demo request not found", "failed to load demo request")
	}
	return detail, nil
}
