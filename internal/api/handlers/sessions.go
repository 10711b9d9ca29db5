package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/internal/browser"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/response"
)

type OpenSessionRequest struct {
	PageID   int64 `json:"page_id" binding:"required"`
	Headless bool  `json:"headless"`
}

type BrowseRequest struct {
	URL      string `json:"url"`
	Headless bool   `json:"headless"`
}

type NavigateRequest struct {
	URL string `json:"url" binding:"required"`
}

// OpenSession opens a curated page for the caller.
func (h *Handler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.repo.GetPage(c.Request.Context(), req.PageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.NotFound(c, "Page not found")
			return
		}
		h.logger.Error("Failed to load page", zap.Int64("page_id", req.PageID), zap.Error(err))
		response.InternalServerError(c, "Failed to load page")
		return
	}

	h.open(c, browser.OpenOptions{User: middleware.CurrentUser(c), Page: page, Headless: req.Headless})
}

// Browse opens the free macro browser at an address bar text.
func (h *Handler) Browse(c *gin.Context) {
	var req BrowseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.open(c, browser.OpenOptions{User: middleware.CurrentUser(c), URL: req.URL, Headless: req.Headless})
}

func (h *Handler) open(c *gin.Context, opts browser.OpenOptions) {
	s, err := h.sessions.Open(c.Request.Context(), opts)
	switch {
	case errors.Is(err, browser.ErrTooManySessions):
		response.TooManyRequests(c, err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to open browser session", zap.Error(err))
		response.InternalServerError(c, "Failed to open browser session: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "Session opened", s.Info())
}

func (h *Handler) GetSessions(c *gin.Context) {
	infos := h.sessions.List(middleware.CurrentUser(c).UserID)
	response.List(c, infos, len(infos))
}

func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	info := s.Info()
	response.Success(c, gin.H{
		"session": info,
		"prompts": h.prompts.Pending(info.ID),
		"replay":  h.replays.IsRunning(info.ID),
	})
}

func (h *Handler) Navigate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	url, err := s.Go(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, browser.ErrEmptyAddress) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"url": url})
}

func (h *Handler) Back(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Back(c.Request.Context()); err != nil {
		response.Conflict(c, "Cannot go back: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "Navigated back", nil)
}

func (h *Handler) CloseSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.replays.Cancel(s.ID())
	if err := h.sessions.Close(s.ID()); err != nil {
		response.NotFound(c, "Session not found")
		return
	}
	response.SuccessWithMessage(c, "Session closed", nil)
}
