package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

func TestCourseServiceListClasses(t *testing.T) {
	courses := twoClassCourse()
	courses.classes = map[string][]models.Class{"course-1": {
		{ID: "class-1", CourseID: "course-1", Order: 1, Title: "Class 1 - Go Basics"},
		{ID: "class-2", CourseID: "course-1", Order: 2, Title: "Class 2 - Go Basics"},
	}}
	svc := NewCourseService(courses, nil)

	course, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 2, course.TotalClasses)

	classes, err := svc.ListClasses(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, 2, classes[1].Order)
}

func TestCourseServiceUnknownCourse(t *testing.T) {
	svc := NewCourseService(twoClassCourse(), nil)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ListClasses(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCourseServiceEmptyCatalog(t *testing.T) {
	svc := NewCourseService(twoClassCourse(), nil)

	classes, err := svc.ListClasses(context.Background(), "course-1")
	require.NoError(t, err)
	assert.NotNil(t, classes)
	assert.Empty(t, classes)
}
