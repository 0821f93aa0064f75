package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPErrorHandler maps core errors to status codes and renders
// {"error": "..."}. Unexpected errors are logged and reported as 500
// without their details.
func NewHTTPErrorHandler(log logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, log logging.Logger, c echo.Context) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, common.ErrInvalidSession):
		return http.StatusUnauthorized, "invalid session"
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "access forbidden"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrStoreUnavailable):
		log.Warn(c.Request().Context(), "object store unavailable",
			"method", c.Request().Method, "path", c.Path(), "error", err)
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	}

	log.Error(c.Request().Context(), "unhandled error",
		"method", c.Request().Method,
		"path", c.Path(),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"error", err)

	return http.StatusInternalServerError, common.ErrorInternal.Error()
}
