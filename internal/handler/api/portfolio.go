package api

import (
	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/service/ratelimit"
	"MarketCascade/internal/usecase"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"

	"github.com/labstack/echo/v4"
)

type PortfolioHandler struct {
	q     *usecase.QueryService
	recon *usecase.ReconciliationService
	rl    *ratelimit.Limiter
	l     *applogger.Logger
}

func NewPortfolioHandler(q *usecase.QueryService, recon *usecase.ReconciliationService, rl *ratelimit.Limiter, l *applogger.Logger) *PortfolioHandler {
	return &PortfolioHandler{q: q, recon: recon, rl: rl, l: l}
}

func (h *PortfolioHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/trades", h.RecordTrade, writeLimit(h.rl)...)
	g.GET("/portfolio/:user/positions", h.Positions)
	g.GET("/portfolio/:user/positions/:asset", h.Position)
	g.POST("/portfolio/:user/positions/:asset/rebuild", h.Rebuild, writeLimit(h.rl)...)
}

// RecordTrade appends a trade and returns the reconciled position.
func (h *PortfolioHandler) RecordTrade(c echo.Context) error {
	req := &models.TradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pos, err := h.recon.RecordTrade(c.Request().Context(), req.Trade())
	if err != nil {
		return respondError(c, h.l, "record trade", err)
	}
	return xhttp.CreatedResponse(c, pos)
}

func (h *PortfolioHandler) Positions(c echo.Context) error {
	rows, err := h.q.Positions(c.Request().Context(), c.Param("user"))
	if err != nil {
		return respondError(c, h.l, "positions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *PortfolioHandler) Position(c echo.Context) error {
	pos, err := h.q.Position(c.Request().Context(), c.Param("user"), c.Param("asset"))
	if err != nil {
		return respondError(c, h.l, "position", err)
	}
	return xhttp.SuccessResponse(c, pos)
}

// Rebuild replays the pair's ledger, inline or through the job queue (202).
func (h *PortfolioHandler) Rebuild(c echo.Context) error {
	pos, err := h.recon.RequestRebuild(c.Request().Context(), c.Param("user"), c.Param("asset"))
	if err != nil {
		return respondError(c, h.l, "rebuild position", err)
	}
	if pos == nil {
		return xhttp.AcceptedResponse(c, map[string]bool{"queued": true})
	}
	return xhttp.SuccessResponse(c, pos)
}
