package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

type demoService interface {
	Request(ctx context.Context, actor models.Actor, req dto.CreateDemoRequest) (*models.DemoRequestDetail, error)
	ListRequests(ctx context.Context, query dto.DemoRequestListQuery) ([]models.DemoRequestDetail, error)
	StudentRequests(ctx context.Context, actor models.Actor, studentID string) ([]models.DemoRequestDetail, error)
	TrainerRequests(ctx context.Context, actor models.Actor, trainerID string) ([]models.DemoRequestDetail, error)
	Approve(ctx context.Context, actor models.Actor, id string, req dto.ApproveDemoRequest) (*dto.DemoApprovalResponse, error)
	Reject(ctx context.Context, actor models.Actor, id string, req dto.RejectDemoRequest) (*models.DemoRequestDetail, error)
	ListSessions(ctx context.Context, actor models.Actor, query dto.DemoSessionListQuery) ([]models.DemoSessionDetail, error)
	UpdateSession(ctx context.Context, actor models.Actor, id string, req dto.UpdateDemoSessionRequest) (*models.DemoSessionDetail, error)
}

// DemoHandler exposes demo requests and demo sessions.
type DemoHandler struct {
	demos demoService
}

// NewDemoHandler constructs DemoHandler.
func NewDemoHandler(demos demoService) *DemoHandler {
	return &DemoHandler{demos: demos}
}

// Request godoc
// @Summary Request a demo class
// @Tags Demos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateDemoRequest true "Demo request"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demo-requests [post]
func (h *DemoHandler) Request(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateDemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid demo request payload"))
		return
	}
	created, err := h.demos.Request(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, created, nil)
}

// ListRequests godoc
// @Summary List demo requests
// @Tags Demos
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved, rejected or completed"
// @Success 200 {object} response.Envelope
// @Router /demo-requests [get]
func (h *DemoHandler) ListRequests(c *gin.Context) {
	var query dto.DemoRequestListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	requests, err := h.demos.ListRequests(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// StudentRequests godoc
// @Summary List a student's demo requests
// @Tags Demos
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /demo-requests/student/{studentId} [get]
func (h *DemoHandler) StudentRequests(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	requests, err := h.demos.StudentRequests(c.Request.Context(), actor, c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// TrainerRequests godoc
// @Summary List demos assigned to a trainer
// @Tags Demos
// @Produce json
// @Security BearerAuth
// @Param trainerId path string true "Trainer ID"
// @Success 200 {object} response.Envelope
// @Router /demo-requests/trainer/{trainerId} [get]
func (h *DemoHandler) TrainerRequests(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	requests, err := h.demos.TrainerRequests(c.Request.Context(), actor, c.Param("trainerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Approve godoc
// @Summary Approve a demo request and book the session
// @Description Without assignedTrainerId the course trainer is preferred when open, otherwise the trainer with most room.
// @Tags Demos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demo request ID"
// @Param payload body dto.ApproveDemoRequest true "Approval"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demo-requests/{id}/approve [put]
func (h *DemoHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ApproveDemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid demo approval payload"))
		return
	}
	approved, err := h.demos.Approve(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approved, nil)
}

// Reject godoc
// @Summary Reject a demo request
// @Tags Demos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demo request ID"
// @Param payload body dto.RejectDemoRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demo-requests/{id}/reject [put]
func (h *DemoHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RejectDemoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid rejection payload"))
		return
	}
	rejected, err := h.demos.Reject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rejected, nil)
}

// ListSessions godoc
// @Summary List demo sessions
// @Description Trainers and students only see their own sessions.
// @Tags Demos
// @Produce json
// @Security BearerAuth
// @Param status query string false "scheduled, in_progress, completed or cancelled"
// @Param trainerId query string false "Filter by trainer"
// @Param studentId query string false "Filter by student"
// @Success 200 {object} response.Envelope
// @Router /demo-sessions [get]
func (h *DemoHandler) ListSessions(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.DemoSessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	sessions, err := h.demos.ListSessions(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// UpdateSession godoc
// @Summary Update a demo session
// @Description Completing the session completes its demo request.
// @Tags Demos
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demo session ID"
// @Param payload body dto.UpdateDemoSessionRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demo-sessions/{id} [put]
func (h *DemoHandler) UpdateSession(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateDemoSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid demo session payload"))
		return
	}
	session, err := h.demos.UpdateSession(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}
