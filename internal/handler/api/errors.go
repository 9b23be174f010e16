package api

import (
	"errors"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	xhttp "MarketCascade/pkg/http"
	applogger "MarketCascade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var e *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrNotFound):
		e = xhttp.NotFoundError("resource not found")
	case errors.Is(err, models.ErrSignalExpired):
		e = xhttp.ConflictError("signal expired").WithCode("ERR_SIGNAL_EXPIRED")
	case errors.Is(err, models.ErrCapacityExceeded):
		e = xhttp.ConflictError("tier capacity exceeded").WithCode("ERR_CAPACITY")
	case errors.Is(err, models.ErrNotApplicable):
		e = xhttp.ConflictError("suggestion no longer applicable").WithCode("ERR_NOT_APPLICABLE")
	case errors.Is(err, models.ErrConflict):
		e = xhttp.ConflictError("state changed concurrently or already final")
	case errors.Is(err, models.ErrInvariantViolation):
		e = xhttp.UnprocessableError("invariant violation")
	case errors.Is(err, models.ErrIncompleteInput):
		e = xhttp.ServiceUnavailableError("upstream data incomplete")
	case errors.Is(err, models.ErrInvalidArgument):
		e = xhttp.BadRequestError(err.Error())
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
	return e.WithError(err)
}

func respondError(c echo.Context, l *applogger.Logger, op string, err error) error {
	appErr := toAppError(err)
	if l != nil {
		if appErr.Status >= 500 {
			l.Error(op+" failed", applogger.Error(err))
		} else {
			l.Debug(op+" rejected", applogger.Int("status", appErr.Status), applogger.Error(err))
		}
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func listContext(c echo.Context) (models.ListContext, error) {
	wl, ok := domrepo.NormalizeListContext(c.Param("context"))
	if !ok {
		return "", models.InvalidArgument("malformed list context %q", c.Param("context"))
	}
	return wl, nil
}
