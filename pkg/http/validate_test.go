package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderRequest struct {
	Side     string          `json:"side" validate:"required,oneof=buy sell"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Limit    int             `json:"limit" default:"50" validate:"lte=100"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()
	e.POST("/orders", func(c echo.Context) error {
		req := &orderRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return CreatedResponse(c, req)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL)
	ctx := context.Background()

	var got orderRequest
	require.NoError(t, client.Post(ctx, "/orders", map[string]string{"side": "buy", "quantity": "1.5"}, &got))
	assert.Equal(t, "1.5", got.Quantity.String())
	assert.Equal(t, 50, got.Limit, "defaults fill omitted fields")

	err := client.Post(ctx, "/orders", map[string]string{"side": "buy", "quantity": "0"}, nil)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, "ERR_GT", appErr.Code)
	assert.Equal(t, "quantity", appErr.Field)

	err = client.Post(ctx, "/orders", map[string]string{"side": "hold", "quantity": "1"}, nil)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ERR_ONEOF", appErr.Code)
	assert.Equal(t, "side", appErr.Field)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
}
