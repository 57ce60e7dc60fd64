// Package http serves the HTTP side of the server: health, the player
// WebSocket endpoint, room mirrors and the admin API.
package http

import (
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/access"
	"github.com/vovakirdan/songhub-server/internal/auth"
	"github.com/vovakirdan/songhub-server/internal/config"
	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/mirror"
	"github.com/vovakirdan/songhub-server/internal/stats"
	"github.com/vovakirdan/songhub-server/internal/store"
)

const loginAttemptsPerMinute = 10

// TickControl is the part of the tick driver the admin API adjusts.
type TickControl interface {
	Interval() time.Duration
	SetInterval(iv time.Duration) error
	Rate() float64
}

// Deps are the components the HTTP layer talks to. Players, Mirror and Auth
// may be nil to leave their routes out.
type Deps struct {
	Hub      *core.Hub
	Players  stdhttp.Handler
	Mirror   *mirror.Mirror
	Auth     *auth.Service
	Access   *access.Manager
	Presets  store.PresetStore
	Ticker   TickControl
	Counters *stats.Counters
	Clock    clock.Clock
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

// NewRouter registers every enabled route.
func NewRouter(deps Deps, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	l := logger.With().Str("component", "http").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	if deps.Players != nil {
		router.GET("/ws", gin.WrapH(deps.Players))
	}
	if deps.Mirror != nil {
		router.GET("/room/:id", func(c *gin.Context) {
			id, ok := roomIDParam(c)
			if !ok {
				return
			}
			deps.Mirror.ServeRoom(c.Writer, c.Request, id)
		})
	}

	if deps.Auth == nil {
		return router
	}

	admin := &AdminHandlers{
		deps:      deps,
		name:      cfg.Server.Name,
		startedAt: deps.Clock.Now(),
		limiter:   newRateLimiter(loginAttemptsPerMinute, time.Minute),
		log:       &l,
	}
	api := router.Group("/api")
	api.Use(LoggerMiddleware(&l))
	api.POST("/admin/login", admin.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(deps.Auth, &l))
	authed.GET("/server", admin.ServerInfo)
	authed.PUT("/tickrate", admin.SetTickrate)
	authed.POST("/messages", admin.DisplayMessage)

	rooms := &RoomHandlers{hub: deps.Hub, presets: deps.Presets, log: &l}
	authed.GET("/rooms", rooms.ListRooms)
	authed.POST("/rooms", rooms.CreateRoom)
	authed.DELETE("/rooms/empty", rooms.DestroyEmptyRooms)
	authed.DELETE("/rooms/:id", rooms.DestroyRoom)
	authed.POST("/rooms/:id/clone", rooms.CloneRoom)
	authed.PUT("/rooms/:id/preset/:name", rooms.SavePreset)
	authed.GET("/rooms/:id/clients", rooms.RoomClients)
	authed.GET("/clients", rooms.ListClients)
	authed.GET("/presets", rooms.ListPresets)
	authed.DELETE("/presets/:name", rooms.DeletePreset)

	acl := &AccessHandlers{hub: deps.Hub, access: deps.Access, log: &l}
	authed.GET("/access", acl.Snapshot)
	authed.PUT("/access/whitelist/enabled", acl.SetWhitelistEnabled)
	authed.POST("/access/:list", acl.AddEntry)
	authed.DELETE("/access/:list/*entry", acl.RemoveEntry)

	return router
}

func roomIDParam(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return 0, false
	}
	return uint32(id), true
}

// coreError answers a hub error with a matching status.
func coreError(c *gin.Context, err error) {
	ce := core.AsCoreError(err)
	if ce == nil {
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	status := stdhttp.StatusBadRequest
	if ce.Code == core.ErrCodeRoomNotFound {
		status = stdhttp.StatusNotFound
	}
	c.JSON(status, ErrorResponse{Error: ce.Message})
}
