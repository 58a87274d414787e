package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/middleware"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/response"
)

type connectionServer interface {
	Serve(userID string, conn *websocket.Conn)
}

// RealtimeHandler upgrades authenticated clients to a notification websocket.
type RealtimeHandler struct {
	tokens   middleware.TokenValidator
	registry connectionServer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler constructs RealtimeHandler. An empty origin list accepts any origin.
func NewRealtimeHandler(tokens middleware.TokenValidator, registry connectionServer, allowedOrigins []string, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" && o != "*" {
			origins[o] = struct{}{}
		}
	}
	return &RealtimeHandler{
		tokens:   tokens,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Connect godoc
// @Summary Open the realtime notification channel
// @Description Browsers cannot set headers on websocket upgrades, so the access token travels in the query.
// @Tags Realtime
// @Param token query string true "Access token"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if bearer, err := middleware.BearerToken(c.GetHeader("Authorization")); err == nil {
			token = bearer
		}
	}
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "token required"))
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.registry.Serve(claims.UserID, conn)
}
