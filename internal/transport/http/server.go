package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/admin"
	"github.com/dkotenko/relaychat-server/internal/config"
	"github.com/dkotenko/relaychat-server/internal/core"
	"github.com/dkotenko/relaychat-server/internal/history"
	"github.com/dkotenko/relaychat-server/internal/ratelimit"
	"github.com/dkotenko/relaychat-server/internal/spam"
	"github.com/dkotenko/relaychat-server/internal/store"
	"github.com/dkotenko/relaychat-server/internal/token"
)

// NewServer builds the HTTP server: REST API plus the websocket endpoint.
func NewServer(hub *core.Hub, tokens *token.Service, admins *admin.Service, guard *spam.Guard, hist *history.Service, limiter *ratelimit.Limiter, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	api := NewAPIHandlers(tokens, limiter, ratelimit.PerDay(cfg.IssuePerDay), admins, hist, logger)
	ws := NewWSHandler(hub, tokens, guard, hist, st, cfg.MaxConnsPerOrigin, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.POST("/api/token", api.IssueToken)
	router.GET("/ws", ws.Handle)

	authed := router.Group("/api", AuthMiddleware(tokens, logger))
	{
		authed.POST("/admin/login", api.AdminLogin)
		authed.POST("/admin/logout", api.AdminLogout)
		authed.GET("/admin/status", api.AdminStatus)
		authed.POST("/admin/rooms/:room/clear", api.ClearRoom)
		authed.GET("/rooms/:room/history", api.RoomHistory)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
