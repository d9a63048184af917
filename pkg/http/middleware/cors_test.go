package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func serveCORS(t *testing.T, allow []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: allow,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.GET("/api/prices", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.OPTIONS("/api/prices", func(c echo.Context) error { return c.NoContent(http.StatusTeapot) })

	req := httptest.NewRequest(method, "/api/prices", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	rec := serveCORS(t, []string{"http://localhost:3000"}, http.MethodGet, "http://localhost:3000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))
}

func TestCORSOmitsHeadersForOtherOrigins(t *testing.T) {
	rec := serveCORS(t, []string{"http://localhost:3000"}, http.MethodGet, "http://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestCORSWildcard(t *testing.T) {
	rec := serveCORS(t, []string{"*"}, http.MethodGet, "")
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = serveCORS(t, []string{"*"}, http.MethodGet, "http://a.example")
	assert.Equal(t, "http://a.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestCORSPreflight(t *testing.T) {
	rec := serveCORS(t, []string{"http://localhost:3000"}, http.MethodOptions, "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
