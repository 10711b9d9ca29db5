package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/recorder"
	"naviguard/backend/pkg/response"
)

type StopRecordingRequest struct {
	Name string `json:"name"`
}

type MarkLoginRequest struct {
	Field string `json:"field" binding:"required"`
}

func (h *Handler) StartRecording(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.replays.IsRunning(s.ID()) {
		response.Conflict(c, "A replay is running in this session")
		return
	}
	if err := s.StartRecording(); err != nil {
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			response.Conflict(c, err.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "Recording started", s.RecordingStatus())
}

// StopRecording ends the recording and saves the whole sequence under name.
func (h *Handler) StopRecording(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req StopRecordingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.Name == "" {
		req.Name = h.macros.DefaultName()
	}
	if err := macro.ValidateName(req.Name); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	events, err := s.StopRecording()
	if err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			response.Conflict(c, err.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}

	if err := h.macros.Save(events, req.Name); err != nil {
		if errors.Is(err, macro.ErrInvalidName) {
			response.BadRequest(c, err.Error())
			return
		}
		// The recording is already stopped; hand the events back so they
		// can be saved again.
		h.logger.Error("Failed to save macro", zap.String("macro", req.Name), zap.Error(err))
		response.ErrorWithData(c, http.StatusInternalServerError, "Failed to save macro: "+err.Error(), gin.H{
			"name":   req.Name,
			"count":  len(events),
			"events": events,
		})
		return
	}

	h.logger.Info("Macro saved", zap.String("session_id", s.ID()), zap.String("macro", req.Name), zap.Int("events", len(events)))
	response.SuccessWithMessage(c, "Recording saved", gin.H{
		"name":   req.Name,
		"count":  len(events),
		"events": events,
	})
}

func (h *Handler) RecordingStatus(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, s.RecordingStatus())
}

// MarkLogin tags the focused page field as the macro's username or password.
func (h *Handler) MarkLogin(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req MarkLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	field, err := recorder.ParseField(req.Field)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := s.MarkLogin(c.Request.Context(), field)
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		response.Conflict(c, err.Error())
	case errors.Is(err, recorder.ErrNoFieldFocused):
		response.BadRequest(c, "Focus a text field first")
	case err != nil:
		response.InternalServerError(c, err.Error())
	default:
		response.Success(c, result)
	}
}

// EventsWebSocket streams the live events of one session.
func (h *Handler) EventsWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}
	if _, err := h.sessions.Get(sessionID); err != nil {
		response.NotFound(c, "Session not found")
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, sessionID); err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
