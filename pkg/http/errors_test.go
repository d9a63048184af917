package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapsCause(t *testing.T) {
	cause := errors.New("redis down")
	err := UnavailableError("snapshot store unavailable").WithError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "snapshot store unavailable: redis down", err.Error())
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	appErr := NotFoundErrorf("symbol %s is not tracked", "X").WithParam("symbol", "X").WithError(errors.New("hidden"))
	require.NoError(t, AppErrorResponse(c, appErr))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Status int `json:"status"`
		Data   []struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Params  map[string]interface{} `json:"params"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
	assert.Equal(t, "symbol X is not tracked", body.Data[0].Message)
	assert.Equal(t, "X", body.Data[0].Params["symbol"])
	assert.NotContains(t, rec.Body.String(), "hidden")
}

func TestAppErrorResponsePlainError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
