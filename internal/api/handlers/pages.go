package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/internal/credentials"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/response"
)

func (h *Handler) GetPages(c *gin.Context) {
	pages, err := h.repo.ListPages(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list pages", zap.Error(err))
		response.InternalServerError(c, "Failed to list pages")
		return
	}
	response.List(c, pages, len(pages))
}

func (h *Handler) GetPage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, err := h.repo.GetPage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.NotFound(c, "Page not found")
			return
		}
		h.logger.Error("Failed to load page", zap.Int64("page_id", id), zap.Error(err))
		response.InternalServerError(c, "Failed to load page")
		return
	}
	response.Success(c, page)
}

type CredentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PutCredential stores the caller's custom login for a page.
func (h *Handler) PutCredential(c *gin.Context) {
	pageID, ok := parseID(c, "pageId")
	if !ok {
		return
	}
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user := middleware.CurrentUser(c)
	if err := h.creds.Upsert(c.Request.Context(), user.UserID, pageID, req.Username, req.Password); err != nil {
		if credentials.IsValidationError(err) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("Failed to save credential", zap.Int64("page_id", pageID), zap.Error(err))
		response.InternalServerError(c, "Failed to save credential")
		return
	}
	response.SuccessWithMessage(c, "Credential saved", gin.H{"page_id": pageID, "username": req.Username})
}

func (h *Handler) DeleteCredential(c *gin.Context) {
	pageID, ok := parseID(c, "pageId")
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if err := h.creds.Delete(c.Request.Context(), user.UserID, pageID); err != nil {
		if credentials.IsValidationError(err) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("Failed to delete credential", zap.Int64("page_id", pageID), zap.Error(err))
		response.InternalServerError(c, "Failed to delete credential")
		return
	}
	response.SuccessWithMessage(c, "Credential deleted", nil)
}
