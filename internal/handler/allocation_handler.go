package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

type allocationService interface {
	AllocateClass(ctx context.Context, trainerID string, req dto.AllocateClassRequest) (*dto.AllocationResponse, error)
	BulkAllocate(ctx context.Context, trainerID string, req dto.BulkAllocateRequest) (*dto.BatchResult, error)
}

// AllocationHandler exposes the trainer booking endpoints.
type AllocationHandler struct {
	allocations allocationService
}

// NewAllocationHandler constructs AllocationHandler.
func NewAllocationHandler(allocations allocationService) *AllocationHandler {
	return &AllocationHandler{allocations: allocations}
}

// Allocate godoc
// @Summary Allocate the next class of a course to a student
// @Tags Allocation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.AllocateClassRequest true "Allocation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /trainer/allocate-class [post]
func (h *AllocationHandler) Allocate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.AllocateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid allocation payload"))
		return
	}

	res, err := h.allocations.AllocateClass(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// BulkAllocate godoc
// @Summary Allocate many classes in one request
// @Description Items are processed in order. 200 when at least one item succeeded, otherwise 400 with the same body.
// @Tags Allocation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BulkAllocateRequest true "Bulk allocation payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /trainer/bulk-allocate-classes [post]
func (h *AllocationHandler) BulkAllocate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.BulkAllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid bulk allocation payload"))
		return
	}

	res, err := h.allocations.BulkAllocate(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if res.SuccessCount == 0 {
		status = http.StatusBadRequest
	}
	response.JSON(c, status, res, nil)
}
