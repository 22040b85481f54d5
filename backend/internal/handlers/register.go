package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/middleware"
	"taskify/backend/internal/services"
	"taskify/backend/internal/validation"
)

type RegisterHandler struct {
	registerService services.RegisterService
	log             logrus.FieldLogger
}

func NewRegisterHandler(registerService services.RegisterService, log logrus.FieldLogger) *RegisterHandler {
	return &RegisterHandler{registerService: registerService, log: log.WithField("component", "register_api")}
}

func (h *RegisterHandler) Registration(c *gin.Context) {
	var req validation.CredentialsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.registerService.RegisterUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "user created successfully",
		"user":    user,
	})
}

// AuthHandler issues and revokes bearer tokens for API clients.
type AuthHandler struct {
	authService services.AuthService
	log         logrus.FieldLogger
}

func NewAuthHandler(authService services.AuthService, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log.WithField("component", "auth_api")}
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req validation.CredentialsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, session, err := h.authService.SignIn(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": session.ExpiresAt,
		"user":       session.User,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionToken(c, "")
	if err := h.authService.SignOut(c.Request.Context(), token); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
