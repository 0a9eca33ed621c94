package handlers

import (
	"net/http"

	"sirenlink/internal/models"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
)

// Single, shared credentials payload for both sign-up and sign-in.
type authCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		// optional structured logging
		if h.log != nil {
			h.log.Infow("auth_bad_request_body", "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// NewUserRequest is what a SUPERADMIN posts to create an account.
type NewUserRequest struct {
	Username       string `json:"username" binding:"required" example:"guard-01"`
	Password       string `json:"password" binding:"required"`
	Role           string `json:"role" binding:"required" example:"GUARDIA"`
	UrbanizationID *int   `json:"urbanizationId,omitempty" example:"3"`
}

// @Summary      Register a resident account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  authCredentials  true  "Credentials"
// @Success      200  {object}  map[string]int
// @Failure      400  {object}  map[string]string
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	id, err := h.services.SignUp(input.Username, input.Password)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_sign_up_failed", "username", input.Username, "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// @Summary      Exchange credentials for a bearer token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  authCredentials  true  "Credentials"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	token, err := h.services.GenerateToken(input.Username, input.Password)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_sign_in_failed", "username", input.Username, "err", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// @Summary      Create a user with a role
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        body  body  NewUserRequest  true  "User"
// @Success      201  {object}  map[string]int
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/v1/users [post]
// @Security     BearerAuth
func (h *Handler) createUser(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var input NewUserRequest
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	id, err := h.services.CreateUser(caller, service.NewUserInput{
		Username:       input.Username,
		Password:       input.Password,
		Role:           models.Role(input.Role),
		UrbanizationID: input.UrbanizationID,
	})
	if err != nil {
		h.writeServiceError(c, err, "user_create_failed", "username", input.Username)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}
