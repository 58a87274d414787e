package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/middleware"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

const (
	testTrainerID = "11111111-1111-1111-1111-111111111111"
	testStudentID = "22222222-2222-2222-2222-222222222222"
	testCourseID  = "33333333-3333-3333-3333-333333333333"
)

func newJSONContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, target, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func trainerClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: testTrainerID, Role: models.RoleTrainer}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: testStudentID, Role: models.RoleStudent}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "99999999-9999-9999-9999-999999999999", Role: models.RoleAdmin}
}

type rawEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) rawEnvelope {
	t.Helper()
	var env rawEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}
