package handlers

import (
	"net/http"

	"sirenlink/internal/models"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK         = "ok"
	msgCommandQueued = "command published"
)

// CommandRequest is the body of a device command.
type CommandRequest struct {
	// Requested actuator state. Allowed: ON, OFF
	Action string `json:"action" binding:"required" example:"ON"`
	// Auto-off delay in milliseconds; omitted or 0 uses the server default
	TTLMs *int `json:"ttlMs,omitempty" example:"60000"`
	// manual (default) or auto
	Cause string `json:"cause,omitempty" example:"manual"`
}

// CommandResponse is returned once the command has been handed to the broker.
type CommandResponse struct {
	Message string                `json:"message"`
	Payload models.CommandPayload `json:"payload"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      MQTT connection health
// @Tags         mqtt
// @Produce      json
// @Success      200  {object}  service.MQTTHealth
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/mqtt/health [get]
// @Security     BearerAuth
func (h *Handler) mqttHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Monitoring.MQTTHealth())
}

// @Summary      Last known state of every device
// @Tags         mqtt
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "items"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/mqtt/state [get]
// @Security     BearerAuth
func (h *Handler) listStates(c *gin.Context) {
	items := h.services.Monitoring.ListStates(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary      Last known state of one device
// @Tags         mqtt
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  models.DeviceState
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/mqtt/state/{deviceId} [get]
// @Security     BearerAuth
func (h *Handler) getDeviceState(c *gin.Context) {
	deviceID := c.Param("deviceId")
	st, err := h.services.Monitoring.GetState(c.Request.Context(), deviceID)
	if err != nil {
		h.writeServiceError(c, err, "device_get_state_failed", "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Send ON/OFF to a siren
// @Description  ON arms an auto-off after ttlMs; OFF cancels it. Returns once the broker accepted the publish.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        deviceId  path  string          true  "Device id"
// @Param        body      body  CommandRequest  true  "Command"
// @Success      202  {object}  CommandResponse
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/devices/{deviceId}/cmd [post]
// @Security     BearerAuth
func (h *Handler) sendCommand(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	deviceID := c.Param("deviceId")
	payload, err := h.services.Commands.Send(c.Request.Context(), caller, deviceID, service.SendCommandRequest{
		Action: req.Action,
		TTLMs:  req.TTLMs,
		Cause:  req.Cause,
	}, c.ClientIP())
	if err != nil {
		h.writeServiceError(c, err, "device_command_failed", "device_id", deviceID, "user_id", caller.UserID)
		return
	}

	c.JSON(http.StatusAccepted, CommandResponse{Message: msgCommandQueued, Payload: payload})
}
