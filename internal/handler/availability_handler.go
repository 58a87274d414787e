package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

type availabilityService interface {
	Set(ctx context.Context, actor models.Actor, trainerID string, req dto.SetAvailabilityRequest) ([]models.TrainerAvailability, error)
	Get(ctx context.Context, trainerID string) ([]models.TrainerAvailability, error)
	AvailableTrainers(ctx context.Context, rawDateTime string) ([]models.AvailableTrainer, error)
}

// AvailabilityHandler exposes trainer weekly availability.
type AvailabilityHandler struct {
	availability availabilityService
}

// NewAvailabilityHandler constructs AvailabilityHandler.
func NewAvailabilityHandler(availability availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// Get godoc
// @Summary Get a trainer's weekly availability
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trainer ID"
// @Success 200 {object} response.Envelope
// @Router /trainers/{id}/availability [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	slots, err := h.availability.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Set godoc
// @Summary Replace a trainer's weekly availability
// @Tags Availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trainer ID"
// @Param payload body dto.SetAvailabilityRequest true "Slots"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /trainers/{id}/availability [put]
func (h *AvailabilityHandler) Set(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SetAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid availability payload"))
		return
	}
	slots, err := h.availability.Set(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// AvailableTrainers godoc
// @Summary List trainers with an open slot
// @Description Without dateTime every advertised slot is listed. With it only trainers whose slot covers that instant and still has room.
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param dateTime query string false "Instant, RFC3339 or marketplace wall clock"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /available-trainers [get]
func (h *AvailabilityHandler) AvailableTrainers(c *gin.Context) {
	trainers, err := h.availability.AvailableTrainers(c.Request.Context(), c.Query("dateTime"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trainers, nil)
}
