package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/internal/browser"
	"naviguard/backend/internal/credentials"
	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/repository"
	"naviguard/backend/internal/services"
	"naviguard/backend/pkg/auth"
	"naviguard/backend/pkg/response"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Repo        repository.Repository
	Credentials *credentials.Service
	Sessions    *browser.Manager
	Macros      *macro.Store
	Replays     *services.ReplayService
	Prompts     *services.PromptBroker
	Hub         *services.Hub
	Tokens      *auth.Manager
	Logger      *zap.Logger
}

type Handler struct {
	repo     repository.Repository
	creds    *credentials.Service
	sessions *browser.Manager
	macros   *macro.Store
	replays  *services.ReplayService
	prompts  *services.PromptBroker
	hub      *services.Hub
	tokens   *auth.Manager
	logger   *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		repo:     d.Repo,
		creds:    d.Credentials,
		sessions: d.Sessions,
		macros:   d.Macros,
		replays:  d.Replays,
		prompts:  d.Prompts,
		hub:      d.Hub,
		tokens:   d.Tokens,
		logger:   d.Logger.Named("api"),
	}
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid "+param)
		return 0, false
	}
	return id, true
}

// session returns the browser session named in the path when it belongs to
// the caller.
func (h *Handler) session(c *gin.Context) (*browser.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil || s.User().UserID != middleware.CurrentUser(c).UserID {
		response.NotFound(c, "Session not found")
		return nil, false
	}
	return s, true
}
