package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/admin"
	"github.com/dkotenko/relaychat-server/internal/core"
	"github.com/dkotenko/relaychat-server/internal/history"
	"github.com/dkotenko/relaychat-server/internal/ratelimit"
	"github.com/dkotenko/relaychat-server/internal/token"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	tokens      *token.Service
	limiter     *ratelimit.Limiter
	issuePolicy ratelimit.Policy
	admins      *admin.Service
	history     *history.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(tokens *token.Service, limiter *ratelimit.Limiter, issuePolicy ratelimit.Policy, admins *admin.Service, hist *history.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		tokens:      tokens,
		limiter:     limiter,
		issuePolicy: issuePolicy,
		admins:      admins,
		history:     hist,
		log:         logger,
	}
}

// IssueTokenRequest is the optional issuance request body.
type IssueTokenRequest struct {
	Username string `json:"username" binding:"omitempty,max=24"`
}

// IssueTokenResponse returns a freshly issued credential.
type IssueTokenResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// AdminLoginRequest carries the admin password.
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// StatusResponse reports the caller's admin state.
type StatusResponse struct {
	Admin bool `json:"admin"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// IssueToken mints a token for a new identity, throttled per origin
// fingerprint. A limiter store failure does not block issuance: plain rate
// limiting fails open, and a truly dead store surfaces in Issue anyway.
// POST /api/token
func (h *APIHandlers) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request"})
			return
		}
	}

	fp := ratelimit.Fingerprint(c.ClientIP(), c.GetHeader("User-Agent"))
	allowed, err := h.limiter.Allow(c.Request.Context(), "token", fp, h.issuePolicy)
	if err != nil {
		h.log.Error().Err(err).Msg("issuance limiter unavailable, allowing")
		allowed = true
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      "rate_limited",
			RetryAfter: int64(h.issuePolicy.RetryAfter().Seconds()),
		})
		return
	}

	t, err := h.tokens.Issue(c.Request.Context(), "", req.Username)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable"})
		return
	}

	h.log.Info().Str("identity", t.Identity).Msg("token issued")
	c.JSON(http.StatusCreated, IssueTokenResponse{Token: t.Raw, Identity: t.Identity})
}

// AdminLogin elevates the authenticated identity.
// POST /api/admin/login
func (h *APIHandlers) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request"})
		return
	}

	identity := c.GetString(ContextKeyIdentity)
	raw := c.GetString(ContextKeyToken)
	if err := h.admins.Login(c.Request.Context(), raw, identity, req.Password); err != nil {
		h.writeAdminError(c, identity, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Admin: true})
}

// AdminLogout revokes the authenticated identity's elevation.
// POST /api/admin/logout
func (h *APIHandlers) AdminLogout(c *gin.Context) {
	identity := c.GetString(ContextKeyIdentity)
	raw := c.GetString(ContextKeyToken)
	if err := h.admins.Logout(c.Request.Context(), raw, identity); err != nil {
		h.writeAdminError(c, identity, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Admin: false})
}

// AdminStatus reports whether the caller currently holds elevation.
// GET /api/admin/status
func (h *APIHandlers) AdminStatus(c *gin.Context) {
	identity := c.GetString(ContextKeyIdentity)
	raw := c.GetString(ContextKeyToken)
	c.JSON(http.StatusOK, StatusResponse{Admin: h.admins.Status(c.Request.Context(), raw, identity)})
}

// ClearRoom wipes a room's history and notifies its members.
// POST /api/admin/rooms/:room/clear
func (h *APIHandlers) ClearRoom(c *gin.Context) {
	room := c.Param("room")
	if !core.ValidRoomName(room) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request"})
		return
	}
	identity := c.GetString(ContextKeyIdentity)
	raw := c.GetString(ContextKeyToken)
	if err := h.admins.ClearRoom(c.Request.Context(), raw, identity, room); err != nil {
		h.writeAdminError(c, identity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": room})
}

// RoomHistory returns the retained messages of a room.
// GET /api/rooms/:room/history
func (h *APIHandlers) RoomHistory(c *gin.Context) {
	room := c.Param("room")
	if !core.ValidRoomName(room) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request"})
		return
	}
	entries, err := h.history.Recent(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("history read failed")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "messages": entries})
}

func (h *APIHandlers) writeAdminError(c *gin.Context, identity string, err error) {
	switch {
	case errors.Is(err, admin.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", RetryAfter: 30})
	case errors.Is(err, admin.ErrBadPassword), errors.Is(err, admin.ErrNoSession), errors.Is(err, admin.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, admin.ErrInvalidTokenTTL):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
	default:
		h.log.Error().Err(err).Str("identity", identity).Msg("admin operation failed")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable"})
	}
}
