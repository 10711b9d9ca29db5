package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/services"
	"naviguard/backend/pkg/response"
)

type ReplayRequest struct {
	Name    string `json:"name"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) GetMacros(c *gin.Context) {
	names, err := h.macros.List()
	if err != nil {
		h.logger.Error("Failed to list macros", zap.Error(err))
		response.InternalServerError(c, err.Error())
		return
	}
	response.List(c, names, len(names))
}

func (h *Handler) GetMacro(c *gin.Context) {
	name := c.Param("name")
	if err := macro.ValidateName(name); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !h.macros.Exists(name) {
		response.NotFound(c, "Macro not found")
		return
	}
	events, err := h.macros.Load(name)
	if err != nil {
		if errors.Is(err, macro.ErrInvalidName) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}

	steps := make([]string, 0, len(events))
	for _, ev := range events {
		steps = append(steps, ev.Describe())
	}
	response.Success(c, gin.H{"name": name, "events": events, "steps": steps})
}

func (h *Handler) DeleteMacro(c *gin.Context) {
	name := c.Param("name")
	if err := h.macros.Delete(name); err != nil {
		if errors.Is(err, macro.ErrInvalidName) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "Macro deleted", nil)
}

// StartReplay replays a stored macro in the session. The operator must
// confirm the run.
func (h *Handler) StartReplay(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !req.Confirm {
		response.BadRequest(c, "Replay must be confirmed")
		return
	}
	if s.RecordingStatus().Recording {
		response.Conflict(c, "Stop the recording before replaying")
		return
	}

	runID, err := h.replays.Start(s.ID(), s, req.Name)
	switch {
	case errors.Is(err, macro.ErrInvalidName), errors.Is(err, services.ErrEmptyMacro):
		response.BadRequest(c, err.Error())
	case errors.Is(err, executor.ErrAlreadyRunning):
		response.Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("Failed to start replay", zap.String("session_id", s.ID()), zap.Error(err))
		response.InternalServerError(c, err.Error())
	default:
		response.SuccessWithMessage(c, "Replay started", gin.H{"run_id": runID})
	}
}

func (h *Handler) CancelReplay(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if !h.replays.Cancel(s.ID()) {
		response.NotFound(c, "No replay is running")
		return
	}
	response.SuccessWithMessage(c, "Replay cancelled", nil)
}

// AnswerPrompt delivers the operator's reply to a replay credential prompt.
func (h *Handler) AnswerPrompt(c *gin.Context) {
	id := c.Param("id")
	prompt, ok := h.prompts.Lookup(id)
	if !ok {
		response.NotFound(c, services.ErrPromptNotFound.Error())
		return
	}
	if s, err := h.sessions.Get(prompt.SessionID); err != nil || s.User().UserID != middleware.CurrentUser(c).UserID {
		response.NotFound(c, services.ErrPromptNotFound.Error())
		return
	}

	var answer services.PromptAnswer
	if err := c.ShouldBindJSON(&answer); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !answer.Cancel && answer.Username == "" {
		response.BadRequest(c, "username is required")
		return
	}
	if err := h.prompts.Answer(id, answer); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "Prompt answered", nil)
}
