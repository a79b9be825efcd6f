package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldops/internal/apperror"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/pkg/validate"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = apperror.New(apperror.KindAuthorization, "unauthorized", "X-Actor-ID header is missing or invalid")
	ErrNotFound       = apperror.NotFound("not_found", "not found")
	ErrInvalidRequest = apperror.Validation("invalid_request", "invalid request")
	ErrInvalidID      = apperror.Validation("invalid_id", "invalid id")
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

// invalidRequest wraps a bind or validation failure, keeping per-field
// details when the validator produced them.
func invalidRequest(err error) error {
	return apperror.Wrap(ErrInvalidRequest, err)
}

var kindStatus = map[apperror.Kind]int{
	apperror.KindValidation:         http.StatusBadRequest,
	apperror.KindAuthorization:      http.StatusForbidden,
	apperror.KindStateConflict:      http.StatusConflict,
	apperror.KindInsufficientStock:  http.StatusUnprocessableEntity,
	apperror.KindNotFound:           http.StatusNotFound,
	apperror.KindConcurrencyTimeout: http.StatusServiceUnavailable,
	apperror.KindInternal:           http.StatusInternalServerError,
}

func mapError(err error) (int, errorPayload) {
	kind := apperror.KindOf(err)
	if errors.Is(err, authorization.ErrInvalidActor) || errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "unauthorized",
			Message: "unauthorized",
		}
	}

	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if kind == apperror.KindInternal {
		return status, errorPayload{
			Type:    string(apperror.KindInternal),
			Code:    "internal_error",
			Message: "internal server error",
		}
	}

	payload := errorPayload{Type: string(kind), Code: string(kind)}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		payload.Code = appErr.Code
		payload.Message = appErr.Message
	}
	if kind == apperror.KindConcurrencyTimeout {
		payload.Message = "settlement is busy, retry shortly"
	}
	if fields := validate.FieldErrors(err); len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			payload.Errors = append(payload.Errors, ValidationError{
				Field:   name,
				Code:    fields[name],
				Message: "failed " + fields[name] + " check",
			})
		}
	}
	return status, payload
}

func classifyErrorForLog(err error) (string, string) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return string(appErr.Kind), appErr.Code
	}
	return string(apperror.KindOf(err)), "unclassified"
}
