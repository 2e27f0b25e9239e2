package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

// failResponse maps the engine error taxonomy onto HTTP statuses while
// keeping the standard envelope.
func failResponse(c echo.Context, err error) error {
	code := engine.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case engine.CodeValidation:
		status = http.StatusBadRequest
	case engine.CodeInvalidTransition:
		status = http.StatusConflict
	case engine.CodeNotFound:
		status = http.StatusNotFound
	}
	return c.JSON(status, models.APIResponse{
		Status: false,
		Code:   string(code),
		Msg:    err.Error(),
		Obj:    nil,
	})
}
