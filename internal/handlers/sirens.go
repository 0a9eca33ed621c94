package handlers

import (
	"net/http"

	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

// SirenRequest registers a device in the directory.
type SirenRequest struct {
	DeviceID       string `json:"deviceId" binding:"required" example:"SRN-001"`
	UrbanizationID *int   `json:"urbanizationId,omitempty" example:"3"`
}

// AssignmentRequest grants a resident access to a siren.
type AssignmentRequest struct {
	UserID int `json:"userId" binding:"required" example:"42"`
}

// @Summary      Register a siren
// @Description  ADMIN callers always register into their own urbanization.
// @Tags         sirens
// @Accept       json
// @Produce      json
// @Param        body  body  SirenRequest  true  "Siren"
// @Success      201  {object}  models.Siren
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/v1/sirens [post]
// @Security     BearerAuth
func (h *Handler) createSiren(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req SirenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	siren, err := h.services.Sirens.CreateSiren(c.Request.Context(), caller, service.SirenInput{
		DeviceID:       req.DeviceID,
		UrbanizationID: req.UrbanizationID,
	})
	if err != nil {
		h.writeServiceError(c, err, "siren_create_failed", "device_id", req.DeviceID)
		return
	}
	c.JSON(http.StatusCreated, siren)
}

// @Summary      List sirens visible to the caller
// @Tags         sirens
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, items"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/sirens [get]
// @Security     BearerAuth
func (h *Handler) listSirens(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	items, err := h.services.Sirens.ListSirens(c.Request.Context(), caller)
	if err != nil {
		h.writeServiceError(c, err, "siren_list_failed", "user_id", caller.UserID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

// @Summary      Assign a siren to a resident
// @Tags         sirens
// @Accept       json
// @Produce      json
// @Param        deviceId  path  string             true  "Device id"
// @Param        body      body  AssignmentRequest  true  "Assignment"
// @Success      201  {object}  models.Assignment
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/v1/sirens/{deviceId}/assignments [post]
// @Security     BearerAuth
func (h *Handler) assignSiren(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	deviceID := c.Param("deviceId")
	a, err := h.services.Sirens.AssignSiren(c.Request.Context(), caller, deviceID, req.UserID)
	if err != nil {
		h.writeServiceError(c, err, "siren_assign_failed", "device_id", deviceID, "user_id", req.UserID)
		return
	}
	c.JSON(http.StatusCreated, a)
}
