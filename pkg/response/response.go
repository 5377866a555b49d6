package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeBusinessRule      = "BUSINESS_RULE"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// StatusError is implemented by domain errors that know their HTTP status and code
type StatusError interface {
	error
	HTTPStatus() int
	ErrorCode() string
}

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data any, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data any) {
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// Fail writes the failure response for err
func Fail(c *gin.Context, err error) {
	Handle(c, nil, err)
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	failure(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	failure(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	failure(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	failure(c, http.StatusForbidden, ErrCodeForbidden, message)
}

func InternalError(c *gin.Context, message string) {
	failure(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response, used for duplicates and busy jobs alike
func Conflict(c *gin.Context, message string) {
	failure(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func TooManyRequests(c *gin.Context, message string) {
	failure(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

func failure(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{Error: &Error{Code: code, Message: message}})
}

// handleError maps domain errors to their status; anything else is a generic 500
func handleError(c *gin.Context, err error) {
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		failure(c, statusErr.HTTPStatus(), statusErr.ErrorCode(), statusErr.Error())
		return
	}

	InternalError(c, "An unexpected error occurred")
}
