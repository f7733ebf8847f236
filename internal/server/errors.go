package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/middleware"
	"github.com/nfrund/topicspace/internal/space"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorStatus maps an error onto an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrValidation), errors.As(err, &validationErrs):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry"
	case errors.Is(err, domain.ErrAlreadyJoined):
		return http.StatusConflict, "already_joined"
	case errors.Is(err, space.ErrUnavailable), errors.Is(err, space.ErrClosed):
		return http.StatusServiceUnavailable, "space_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// setupErrorHandling installs the HTTP error handler. Domain and space errors
// become JSON error bodies; anything unrecognised is logged with a stack trace
// and reported as a bare 500.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			writeError(c, he.Code, http.StatusText(he.Code), fmt.Sprint(he.Message))
			return
		}

		status, code := errorStatus(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"method", c.Request().Method,
				"path", c.Path(),
				"stack_trace", string(debug.Stack()),
			)
			message = "internal server error"
		}
		writeError(c, status, code, message)
	}
}

func writeError(c echo.Context, status int, code, message string) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Code: code, Message: message})
	}
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to write error response", "error", err)
	}
}
