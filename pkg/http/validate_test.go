package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"10" validate:"gte=0,lte=100"`
}

func bindQuery(t *testing.T, target string, req interface{}) interface{} {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return ReadAndValidateRequest(c, req)
}

func TestReadAndValidateAppliesDefaults(t *testing.T) {
	req := &listRequest{}
	require.Nil(t, bindQuery(t, "/?symbol=BINANCE:ETHUSDT", req))
	assert.Equal(t, "BINANCE:ETHUSDT", req.Symbol)
	assert.Equal(t, 10, req.Limit)
}

func TestReadAndValidateReportsQueryNames(t *testing.T) {
	verr := bindQuery(t, "/?limit=500", &listRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)

	assert.Equal(t, "ERR_REQUIRED", errs[0].Code)
	assert.Equal(t, "symbol", errs[0].Field)
	assert.Equal(t, "symbol is required", errs[0].Message)

	assert.Equal(t, "ERR_LTE", errs[1].Code)
	assert.Equal(t, "limit", errs[1].Field)
	assert.Equal(t, "100", errs[1].Params["max"])
}

func TestReadAndValidateBindError(t *testing.T) {
	verr := bindQuery(t, "/?symbol=A&limit=abc", &listRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_UNKNOWN", errs[0].Code)

	b, err := json.Marshal(errs)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ERR_UNKNOWN")
}

type rangeRequest struct {
	Name  string `query:"name" validate:"min=3"`
	Order string `query:"order" validate:"oneof=asc desc"`
}

func TestReadAndValidateMessages(t *testing.T) {
	verr := bindQuery(t, "/?name=ab&order=up", &rangeRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)

	assert.Equal(t, "name must be at least 3 characters", errs[0].Message)
	assert.Equal(t, "3", errs[0].Params["min"])
	assert.Equal(t, "order must be one of: asc, desc", errs[1].Message)
	assert.Equal(t, []string{"asc", "desc"}, errs[1].Params["options"])
}
