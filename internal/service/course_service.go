package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type courseCatalog interface {
	courseReader
	ListClasses(ctx context.Context, courseID string) ([]models.Class, error)
}

// CourseService exposes the read side of the course catalog.
type CourseService struct {
	repo   courseCatalog
	logger *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseCatalog, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, logger: logger}
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translateLookupError(err, "course not found", "failed to load course")
	}
	return course, nil
}

// ListClasses returns the materialised class slots of a course in order.
func (s *CourseService) ListClasses(ctx context.Context, courseID string) ([]models.Class, error) {
	if _, err := s.Get(ctx, courseID); err != nil {
		return nil, err
	}
	classes, err := s.repo.ListClasses(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	if classes == nil {
		classes = []models.Class{}
	}
	return classes, nil
}
