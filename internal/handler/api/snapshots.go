package api

import (
	"time"

	"MarketCascade/internal/domain/models"
	"MarketCascade/internal/usecase"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/util"

	"github.com/labstack/echo/v4"
)

// SnapshotHandler serves the latest regime and sector snapshots.
type SnapshotHandler struct {
	q *usecase.QueryService
	l *applogger.Logger
}

func NewSnapshotHandler(q *usecase.QueryService, l *applogger.Logger) *SnapshotHandler {
	return &SnapshotHandler{q: q, l: l}
}

func (h *SnapshotHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/regime/latest", h.LatestRegime)
	g.GET("/regime/history", h.RegimeHistory)
	g.GET("/sectors/latest", h.LatestSectors)
}

func (h *SnapshotHandler) LatestRegime(c echo.Context) error {
	v, err := h.q.LatestRegime(c.Request().Context())
	if err != nil {
		return respondError(c, h.l, "latest regime", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, v)
}

func (h *SnapshotHandler) RegimeHistory(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		t, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("since must be RFC3339 or unix seconds").WithField("since"))
		}
		since = t
	}
	rows, err := h.q.RegimeHistory(c.Request().Context(), req.Limit, since)
	if err != nil {
		return respondError(c, h.l, "regime history", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SnapshotHandler) LatestSectors(c echo.Context) error {
	v, err := h.q.LatestSectors(c.Request().Context())
	if err != nil {
		return respondError(c, h.l, "latest sectors", err)
	}
	return xhttp.SuccessResponse(c, v)
}
