package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

type scheduleService interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.ClassScheduleDetail, error)
	ListByStudent(ctx context.Context, actor models.Actor, studentID string, query dto.ScheduleListQuery) ([]models.ClassScheduleDetail, error)
	ListByTrainer(ctx context.Context, actor models.Actor, trainerID string, query dto.ScheduleListQuery) ([]models.ClassScheduleDetail, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateScheduleRequest) (*dto.ScheduleUpdateResponse, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Export(ctx context.Context, actor models.Actor, format dto.ScheduleExportFormat) (*dto.ExportFile, error)
}

// ScheduleHandler exposes booked session endpoints.
type ScheduleHandler struct {
	schedules scheduleService
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(schedules scheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

// ListByStudent godoc
// @Summary List a student's sessions
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /schedules/student/{id} [get]
func (h *ScheduleHandler) ListByStudent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ScheduleListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	items, err := h.schedules.ListByStudent(c.Request.Context(), actor, c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ListByTrainer godoc
// @Summary List a trainer's sessions
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trainer ID"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /schedules/trainer/{id} [get]
func (h *ScheduleHandler) ListByTrainer(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ScheduleListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	items, err := h.schedules.ListByTrainer(c.Request.Context(), actor, c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get a session
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	item, err := h.schedules.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Update godoc
// @Summary Update a session
// @Description Moving date or time without a status marks the session rescheduled. Sending the current status keeps it.
// @Tags Schedules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Schedule ID"
// @Param payload body dto.UpdateScheduleRequest true "Schedule patch"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedule/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid schedule payload"))
		return
	}
	res, err := h.schedules.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Delete a session
// @Tags Schedules
// @Security BearerAuth
// @Param id path string true "Schedule ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /schedule/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.schedules.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Download the caller's schedule
// @Tags Schedules
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /schedules/export [get]
func (h *ScheduleHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	file, err := h.schedules.Export(c.Request.Context(), actor, dto.ScheduleExportFormat(c.DefaultQuery("format", string(dto.ScheduleExportCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.FileName, file.ContentType, file.Content)
}
