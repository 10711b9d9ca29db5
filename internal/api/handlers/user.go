package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/response"
)

// GetProfile returns the logged in operator together with their open sessions.
func (h *Handler) GetProfile(c *gin.Context) {
	current := middleware.CurrentUser(c)
	if !current.IsLoggedIn() {
		response.Unauthorized(c, "User not logged in")
		return
	}

	user, err := h.repo.GetUserByUsername(c.Request.Context(), current.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Unauthorized(c, "User no longer active")
			return
		}
		response.InternalServerError(c, "Failed to load user")
		return
	}

	user.Password = ""
	response.Success(c, gin.H{
		"user":     user,
		"sessions": h.sessions.List(current.UserID),
	})
}
