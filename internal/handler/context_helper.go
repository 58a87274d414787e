package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-marketplace-api/internal/middleware"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

// actorFromContext resolves the caller or writes a 401 and returns false.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims, ok := middleware.Claims(c)
	if !ok || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return models.ActorFromClaims(claims), true
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
