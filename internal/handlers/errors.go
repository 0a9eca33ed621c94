package handlers

import (
	"errors"
	"net/http"

	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errInternal             = "internal error"
	errTransportUnavailable = "mqtt transport unavailable"
	errStateNotFound        = "device state not found"
	errInvalidBodyPref      = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// writeServiceError maps service errors onto HTTP status codes.
func (h *Handler) writeServiceError(c *gin.Context, err error, logKey string, kv ...interface{}) {
	switch {
	case service.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": service.DenialReason(err)})
	case errors.Is(err, service.ErrStateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errStateNotFound})
	case errors.Is(err, service.ErrTransportUnavailable):
		h.logAndJSONError(c, http.StatusServiceUnavailable, errTransportUnavailable, logKey, err, kv...)
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, logKey, err, kv...)
	}
}
