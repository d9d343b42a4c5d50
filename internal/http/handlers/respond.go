package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondForbidden(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusForbidden, "forbidden", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondServiceUnavailable(ctx *gin.Context) {
	ctx.Header("Retry-After", "1")
	RespondError(ctx, http.StatusServiceUnavailable, "storage_unavailable", "Service temporarily unavailable", nil)
}

// respondAccountError maps account errors to stable responses. Anything it
// does not recognise is logged and answered with a generic 500.
func respondAccountError(ctx *gin.Context, log *slog.Logger, err error, fallback string) {
	var inputErr *account.InputError

	switch {
	case errors.Is(err, account.ErrNotFound):
		RespondNotFound(ctx, "Account not found")
	case errors.Is(err, account.ErrUsernameExists):
		RespondError(ctx, http.StatusBadRequest, "username_exists", "Username already exists", nil)
	case errors.Is(err, account.ErrEmailExists):
		RespondError(ctx, http.StatusBadRequest, "email_exists", "Email already exists", nil)
	case errors.As(err, &inputErr):
		RespondBadRequest(ctx, "Invalid request body", gin.H{
			"fields": []FieldError{{Field: inputErr.Field, Rule: "invalid", Message: inputErr.Reason}},
		})
	case errors.Is(err, account.ErrStorageUnavailable):
		log.ErrorContext(ctx.Request.Context(), "storage unavailable", "err", err, "request_id", requestIDFrom(ctx))
		RespondServiceUnavailable(ctx)
	default:
		log.ErrorContext(ctx.Request.Context(), fallback, "err", err, "request_id", requestIDFrom(ctx))
		RespondInternal(ctx, fallback)
	}
}
