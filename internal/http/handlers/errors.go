package handlers

import (
	"context"
	"errors"
	"net/http"

	"village_backend/internal/logger"
	"village_backend/internal/service"
	"village_backend/internal/storage"
	"village_backend/internal/validation"

	"github.com/gin-gonic/gin"
)

// Stable error codes returned in the "error" field
const (
	codeNotFound           = "not_found"
	codeRetry              = "retry"
	codeStaleVersion       = "stale_version"
	codeInvalidVersion     = "invalid_version"
	codeValidationRejected = "validation_rejected"
	codeResourceExhausted  = "resource_exhausted"
	codeInsufficientFunds  = "insufficient_funds"
	codeExternalDependency = "external_dependency"
	codeBadRequest         = "bad_request"
	codeInternal           = "internal"
)

// classify maps a service error to an HTTP status and a stable code.
// Stale must be tested before conflict since it wraps it.
func classify(err error) (int, string) {
	var rej *validation.Rejection
	switch {
	case errors.As(err, &rej):
		return http.StatusUnprocessableEntity, codeValidationRejected
	case errors.Is(err, storage.ErrStaleVersion):
		return http.StatusConflict, codeStaleVersion
	case errors.Is(err, storage.ErrInvalidVersion):
		return http.StatusBadRequest, codeInvalidVersion
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrRetryExhausted), errors.Is(err, storage.ErrConflict):
		return http.StatusServiceUnavailable, codeRetry
	case errors.Is(err, service.ErrResourceExhausted):
		return http.StatusUnprocessableEntity, codeResourceExhausted
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, codeInsufficientFunds
	case errors.Is(err, service.ErrExternalDependency):
		return http.StatusBadGateway, codeExternalDependency
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, codeRetry
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func respondError(c *gin.Context, playerID, action string, err error) string {
	status, code := classify(err)
	body := gin.H{"ok": false, "error": code}

	var rej *validation.Rejection
	switch {
	case errors.As(err, &rej):
		body["reason"] = rej.Reason
		body["message"] = rej.Detail
	case code == codeInternal:
		logger.Error("action failed", "action", action, "player_id", playerID, "error", err)
	default:
		body["message"] = err.Error()
	}
	c.JSON(status, body)
	return code
}
