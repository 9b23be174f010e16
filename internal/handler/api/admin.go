package api

import (
	"context"
	"errors"

	"MarketCascade/internal/scheduler"
	"MarketCascade/internal/service/ratelimit"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PassTrigger runs a scheduled pass on demand.
type PassTrigger interface {
	Trigger(ctx context.Context, name string) error
	Passes() []string
}

// PassResult is the body of a manual pass run.
type PassResult struct {
	Pass   string `json:"pass"`
	Status string `json:"status"`
}

type AdminHandler struct {
	passes PassTrigger
	rl     *ratelimit.Limiter
	l      *applogger.Logger
}

func NewAdminHandler(passes PassTrigger, rl *ratelimit.Limiter, l *applogger.Logger) *AdminHandler {
	return &AdminHandler{passes: passes, rl: rl, l: l}
}

func (h *AdminHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/admin")
	g.GET("/passes", h.List)
	g.POST("/passes/:pass", h.Run, writeLimit(h.rl)...)
}

func (h *AdminHandler) List(c echo.Context) error {
	names := h.passes.Passes()
	return xhttp.ListResponse(c, names, int64(len(names)))
}

// Run blocks until the pass finishes. A pass already in flight reports "skipped".
func (h *AdminHandler) Run(c echo.Context) error {
	name := c.Param("pass")
	status := "done"
	if err := h.passes.Trigger(c.Request().Context(), name); err != nil {
		if !errors.Is(err, scheduler.ErrSkipped) {
			return respondError(c, h.l, "run pass", err)
		}
		status = "skipped"
	}
	if h.l != nil {
		h.l.Info("pass triggered", applogger.String("pass", name), applogger.String("remote", c.RealIP()))
	}
	return xhttp.SuccessResponse(c, PassResult{Pass: name, Status: status})
}
