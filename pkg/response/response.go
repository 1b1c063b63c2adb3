package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servelist/backend/pkg/apperror"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends the status and code matching a taxonomy error. Errors outside the
// taxonomy are reported as a generic 500 so internals do not leak.
func Error(c *gin.Context, err error) {
	var e *apperror.Error
	if !errors.As(err, &e) {
		Internal(c, "internal error")
		return
	}
	c.AbortWithStatusJSON(StatusFor(e), Body{Success: false, Error: err.Error(), Code: e.Code})
}

// StatusFor maps a taxonomy error to its HTTP status.
func StatusFor(e *apperror.Error) int {
	switch e {
	case apperror.ErrNotFound:
		return http.StatusNotFound
	case apperror.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperror.ErrForbidden:
		return http.StatusForbidden
	case apperror.ErrConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// BadRequest sends 400 with an INVALID_INPUT code.
func BadRequest(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: apperror.ErrInvalidInput.Code})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}
