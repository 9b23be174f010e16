package api

import (
	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/service/ratelimit"
	"MarketCascade/internal/usecase"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// WatchlistHandler exposes tiers, the suggestion queue and reviewer decisions.
type WatchlistHandler struct {
	q      *usecase.QueryService
	review *usecase.ReviewService
	rl     *ratelimit.Limiter
	l      *applogger.Logger
}

func NewWatchlistHandler(q *usecase.QueryService, review *usecase.ReviewService, rl *ratelimit.Limiter, l *applogger.Logger) *WatchlistHandler {
	return &WatchlistHandler{q: q, review: review, rl: rl, l: l}
}

func (h *WatchlistHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/watchlists/:context")
	g.GET("/tiers", h.Tiers)
	g.GET("/assets", h.Assets)
	g.GET("/suggestions", h.Suggestions)
	g.GET("/suggestions/:id", h.Suggestion)
	g.POST("/suggestions/:id/decision", h.Decide, writeLimit(h.rl)...)
}

func (h *WatchlistHandler) Tiers(c echo.Context) error {
	wl, err := listContext(c)
	if err != nil {
		return respondError(c, h.l, "tiers", err)
	}
	rows, err := h.q.Tiers(c.Request().Context(), wl)
	if err != nil {
		return respondError(c, h.l, "tiers", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *WatchlistHandler) Assets(c echo.Context) error {
	wl, err := listContext(c)
	if err != nil {
		return respondError(c, h.l, "asset snapshots", err)
	}
	rows, err := h.q.LatestAssets(c.Request().Context(), wl)
	if err != nil {
		return respondError(c, h.l, "asset snapshots", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *WatchlistHandler) Suggestions(c echo.Context) error {
	wl, err := listContext(c)
	if err != nil {
		return respondError(c, h.l, "suggestions", err)
	}
	req := &models.SuggestionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.q.Suggestions(c.Request().Context(), wl, models.SuggestionStatus(req.Status))
	if err != nil {
		return respondError(c, h.l, "suggestions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *WatchlistHandler) Suggestion(c echo.Context) error {
	wl, err := listContext(c)
	if err != nil {
		return respondError(c, h.l, "suggestion", err)
	}
	rec, err := h.q.Suggestion(c.Request().Context(), wl, c.Param("id"))
	if err != nil {
		return respondError(c, h.l, "suggestion", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *WatchlistHandler) Decide(c echo.Context) error {
	wl, err := listContext(c)
	if err != nil {
		return respondError(c, h.l, "decide", err)
	}
	req := &models.DecisionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.review.Decide(c.Request().Context(), wl, c.Param("id"), models.Verdict(req.Verdict), req.DecidedBy)
	if err != nil {
		return respondError(c, h.l, "decide", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

// writeLimit returns the per-IP limiter middleware, or nothing when rl is nil.
func writeLimit(rl *ratelimit.Limiter) []echo.MiddlewareFunc {
	if rl == nil {
		return nil
	}
	return []echo.MiddlewareFunc{rl.Middleware()}
}
