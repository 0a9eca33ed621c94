package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sirenlink/internal/models"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid  = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid    = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errLimitInvalid = "invalid 'limit'; use a positive integer"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// @Summary      List activation logs
// @Description  Scoped by role: SUPERADMIN sees all, ADMIN/GUARDIA their urbanization, RESIDENTE their own commands. Newest first. If 'to' is date-only, it is treated as end-of-day inclusive.
// @Tags         activation-logs
// @Produce      json
// @Param        deviceId  query  string  false  "Device id"
// @Param        result    query  string  false  "Outcome"  Enums(ACCEPTED,REJECTED,FAILED,EXECUTED)
// @Param        from      query  string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"  example(2025-08-01)
// @Param        to        query  string  false  "End of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). Date-only treated as end of day."  example(2025-08-31)
// @Param        limit     query  int     false  "Maximum rows (capped server side)"
// @Success      200   {object}  map[string]interface{}  "count, items"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/activation-logs [get]
// @Security     BearerAuth
func (h *Handler) getActivationLogs(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var (
		from time.Time
		to   time.Time
		// Normalize result: trim spaces and uppercase to match stored values.
		result = models.ActivationResult(strings.ToUpper(strings.TrimSpace(c.Query("result"))))
		limit  int
		err    error
	)
	// Parse 'from' (optional)
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	// Parse 'to' (optional). If only a date is provided, make it end-of-day inclusive.
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	if qs := c.Query("limit"); qs != "" {
		limit, err = strconv.Atoi(qs)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": errLimitInvalid})
			return
		}
	}
	// Validate range if both provided
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}

	items, err := h.services.ActivationLog.List(c.Request.Context(), caller, service.ActivationFilter{
		DeviceID: strings.TrimSpace(c.Query("deviceId")),
		Result:   result,
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		h.writeServiceError(c, err, "activation_logs_list_failed", "user_id", caller.UserID, "from", from, "to", to)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

func parseQueryTime(s string) (time.Time, error) {
	// Try multiple accepted formats, normalizing to UTC.
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}
