package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/photoledger/internal/apperror"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

func (v ValidationErrors) ErrorKind() apperror.Kind {
	return apperror.KindValidation
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = apperror.New(apperror.KindAuthentication, "unauthorized")
	ErrForbidden    = apperror.New(apperror.KindForbidden, "forbidden")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    string(apperror.KindValidation),
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	kind := apperror.KindOf(err)
	code := apperror.CodeOf(err)
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest, errorPayload{
			Type:    string(kind),
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case apperror.KindAuthentication:
		return http.StatusUnauthorized, errorPayload{Type: string(kind), Message: "unauthorized"}
	case apperror.KindForbidden:
		return http.StatusForbidden, errorPayload{Type: string(kind), Message: "forbidden"}
	case apperror.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: string(kind), Message: "not found"}
	case apperror.KindConflict:
		return http.StatusConflict, errorPayload{Type: string(kind), Message: conflictMessage(code)}
	case apperror.KindCapacity:
		return http.StatusTooManyRequests, errorPayload{Type: string(kind), Message: "too many requests"}
	case apperror.KindTransient, apperror.KindPersistenceDegraded:
		return http.StatusServiceUnavailable, errorPayload{Type: string(kind), Message: "service unavailable"}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    string(apperror.KindInternal),
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same taxonomy the
// response uses.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil {
		return string(apperror.KindValidation), "invalid_request"
	}
	return string(apperror.KindOf(err)), apperror.CodeOf(err)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func conflictMessage(code string) string {
	if code == "" {
		return "conflict"
	}
	return strings.ReplaceAll(code, "_", " ")
}
