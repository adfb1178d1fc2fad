package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func perform(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAllowedOriginReflected(t *testing.T) {
	rec := perform(t, []string{"https://assets.reb.rw"}, http.MethodGet, "https://assets.reb.rw")
	assert.Equal(t, "https://assets.reb.rw", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginMatchIgnoresCaseAndTrailingSlash(t *testing.T) {
	rec := perform(t, []string{"https://Assets.REB.rw/"}, http.MethodGet, "https://assets.reb.rw")
	assert.Equal(t, "https://assets.reb.rw", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownOriginGetsNoAllowHeader(t *testing.T) {
	rec := perform(t, []string{"https://assets.reb.rw"}, http.MethodGet, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	rec := perform(t, nil, http.MethodOptions, "https://anything.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
