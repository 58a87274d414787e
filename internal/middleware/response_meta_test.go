package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestResponseMetaEmptyByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, ResponseMeta(c))
	WithResponseMeta()(c)
	assert.Nil(t, ResponseMeta(c))
}

func TestSetCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	SetCacheHit(c, false)
	assert.Equal(t, map[string]interface{}{"cache_hit": false}, ResponseMeta(c))

	SetCacheHit(c, true)
	assert.Equal(t, true, ResponseMeta(c)["cache_hit"])
}
