package api

import (
	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/service/ratelimit"
	"MarketCascade/internal/usecase"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalsHandler lists trading signals and executes them.
type SignalsHandler struct {
	q    *usecase.QueryService
	exec *usecase.ExecutionService
	rl   *ratelimit.Limiter
	l    *applogger.Logger
}

func NewSignalsHandler(q *usecase.QueryService, exec *usecase.ExecutionService, rl *ratelimit.Limiter, l *applogger.Logger) *SignalsHandler {
	return &SignalsHandler{q: q, exec: exec, rl: rl, l: l}
}

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/signals")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/execute", h.Execute, writeLimit(h.rl)...)
}

func (h *SignalsHandler) List(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.q.Signals(c.Request().Context(), models.SignalFilter{
		Status:  models.SignalStatus(req.Status),
		AssetID: req.AssetID,
		Limit:   req.Limit,
	})
	if err != nil {
		return respondError(c, h.l, "list signals", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SignalsHandler) Get(c echo.Context) error {
	s, err := h.q.Signal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.l, "get signal", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *SignalsHandler) Execute(c echo.Context) error {
	req := &models.ExecuteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	order, err := h.exec.Execute(c.Request().Context(), c.Param("id"), req.RiskProfile.Profile(), req.AccountEquity)
	if err != nil {
		return respondError(c, h.l, "execute signal", err)
	}
	return xhttp.SuccessResponse(c, order)
}
