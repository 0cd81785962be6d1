package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/pmpcs/internal/domain"
)

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindDecode:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorJSON writes {"error", "code"} for err.
func errorJSON(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	return c.JSON(StatusFor(kind), map[string]string{
		"error": err.Error(),
		"code":  string(kind),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": msg,
		"code":  string(domain.KindValidation),
	})
}
