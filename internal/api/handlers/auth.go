package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/models"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/response"
	"naviguard/backend/pkg/utils"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.repo.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Unauthorized(c, "Invalid username or password")
		} else {
			h.logger.Error("User lookup failed", zap.Error(err))
			response.InternalServerError(c, "Database query failed")
		}
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "Invalid username or password")
		return
	}

	if user.Status != 1 {
		response.Forbidden(c, "Account is disabled")
		return
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.logger.Error("Token generation failed", zap.Error(err))
		response.InternalServerError(c, "Failed to generate token")
		return
	}

	user.Password = ""
	h.logger.Info("Operator logged in", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	response.SuccessWithMessage(c, "Login successful", LoginResponse{Token: token, User: *user})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":    "ok",
		"sessions":  h.sessions.Count(),
		"timestamp": time.Now().Unix(),
	})
}
