package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type allocationServiceMock struct {
	trainerID string
	single    *dto.AllocationResponse
	bulk      *dto.BatchResult
	err       error
}

func (m *allocationServiceMock) AllocateClass(ctx context.Context, trainerID string, req dto.AllocateClassRequest) (*dto.AllocationResponse, error) {
	m.trainerID = trainerID
	return m.single, m.err
}

func (m *allocationServiceMock) BulkAllocate(ctx context.Context, trainerID string, req dto.BulkAllocateRequest) (*dto.BatchResult, error) {
	m.trainerID = trainerID
	return m.bulk, m.err
}

func allocationBody() dto.AllocateClassRequest {
	return dto.AllocateClassRequest{
		StudentID:     testStudentID,
		CourseID:      testCourseID,
		ScheduledDate: "2026-11-02",
		ScheduledTime: "10:00",
	}
}

func TestAllocationHandlerAllocateCreated(t *testing.T) {
	svc := &allocationServiceMock{single: &dto.AllocationResponse{ScheduledCount: 1, TotalClasses: 4}}
	h := NewAllocationHandler(svc)
	c, w := newJSONContext(t, http.MethodPost, "/trainer/allocate-class", allocationBody(), trainerClaims())

	h.Allocate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, testTrainerID, svc.trainerID)
	var res dto.AllocationResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &res))
	assert.Equal(t, 4, res.TotalClasses)
}

func TestAllocationHandlerAllocateMapsLimitError(t *testing.T) {
	h := NewAllocationHandler(&allocationServiceMock{err: appErrors.AllocationLimit(4, 4)})
	c, w := newJSONContext(t, http.MethodPost, "/trainer/allocate-class", allocationBody(), trainerClaims())

	h.Allocate(c)

	require.Equal(t, appErrors.ErrAllocationLimit.Status, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrAllocationLimit.Code, env.Error.Code)
}

func TestAllocationHandlerRejectsMalformedBody(t *testing.T) {
	h := NewAllocationHandler(&allocationServiceMock{})
	c, w := newJSONContext(t, http.MethodPost, "/trainer/allocate-class", "{", trainerClaims())

	h.Allocate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllocationHandlerRequiresClaims(t *testing.T) {
	h := NewAllocationHandler(&allocationServiceMock{})
	c, w := newJSONContext(t, http.MethodPost, "/trainer/allocate-class", allocationBody(), nil)

	h.Allocate(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAllocationHandlerBulkPartialSuccessIsOK(t *testing.T) {
	svc := &allocationServiceMock{bulk: &dto.BatchResult{
		Successful:   []dto.BulkAllocationSuccess{{Index: 0}},
		Failed:       []dto.BulkAllocationFailure{{Index: 1, Code: "FORBIDDEN"}},
		SuccessCount: 1,
		FailureCount: 1,
	}}
	h := NewAllocationHandler(svc)
	body := dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{allocationBody(), allocationBody()}}
	c, w := newJSONContext(t, http.MethodPost, "/trainer/bulk-allocate-classes", body, trainerClaims())

	h.BulkAllocate(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllocationHandlerBulkAllFailedIsBadRequestWithBody(t *testing.T) {
	svc := &allocationServiceMock{bulk: &dto.BatchResult{
		Successful:   []dto.BulkAllocationSuccess{},
		Failed:       []dto.BulkAllocationFailure{{Index: 0, Code: "ALLOCATION_LIMIT", Reason: "all classes scheduled"}},
		FailureCount: 1,
	}}
	h := NewAllocationHandler(svc)
	body := dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{allocationBody()}}
	c, w := newJSONContext(t, http.MethodPost, "/trainer/bulk-allocate-classes", body, trainerClaims())

	h.BulkAllocate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var res dto.BatchResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &res))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ALLOCATION_LIMIT", res.Failed[0].Code)
}

func TestAllocationHandlerBulkWholeBatchError(t *testing.T) {
	h := NewAllocationHandler(&allocationServiceMock{err: appErrors.Clone(appErrors.ErrValidation, "too many")})
	body := dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{allocationBody()}}
	c, w := newJSONContext(t, http.MethodPost, "/trainer/bulk-allocate-classes", body, trainerClaims())

	h.BulkAllocate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code)
}
