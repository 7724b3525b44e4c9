package handlers

import (
	"errors"
	"net/http"

	"coachapp/models"
	"coachapp/services"

	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Nickname string `json:"nickname" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type RegisterRequest struct {
	Nickname    string      `json:"nickname" binding:"required"`
	Password    string      `json:"password" binding:"required"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role" binding:"required"`
}

func (a *API) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	profile, err := a.users.Register(c.Request.Context(), services.Registration{
		Nickname:    req.Nickname,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	switch {
	case errors.Is(err, services.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	case errors.Is(err, services.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok", "user_id": profile.ID, "profile": profile})
}

func (a *API) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, profile, err := a.users.Login(c.Request.Context(), req.Nickname, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Status: "ok", UserID: profile.ID, Token: token})
}

func (a *API) Logout(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}
	if err := a.users.Logout(c.Request.Context(), auth.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}
