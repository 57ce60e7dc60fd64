package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/auth"
	"github.com/vovakirdan/songhub-server/internal/config"
	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/proto"
)

// AdminHandlers serves login and server wide operations.
type AdminHandlers struct {
	deps      Deps
	name      string
	startedAt time.Time
	limiter   *rateLimiter
	log       *zerolog.Logger
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ServerInfoResponse summarizes the running server.
type ServerInfoResponse struct {
	Name           string  `json:"name"`
	Version        string  `json:"version"`
	Players        int     `json:"players"`
	LobbyPlayers   int     `json:"lobbyPlayers"`
	Rooms          int     `json:"rooms"`
	UptimeSeconds  int64   `json:"uptime"`
	Tickrate       float64 `json:"tickrate"`
	TargetTickrate int     `json:"targetTickrate"`
	NetworkIn      int64   `json:"networkIn"`
	NetworkOut     int64   `json:"networkOut"`
}

// TickrateRequest represents the tick rate change body.
type TickrateRequest struct {
	Tickrate int `json:"tickrate" binding:"required"`
}

// DisplayMessageRequest shows a message in one room, or all rooms when
// RoomID is 0.
type DisplayMessageRequest struct {
	RoomID      uint32  `json:"roomId"`
	DisplayTime float32 `json:"displayTime" binding:"required,gt=0"`
	FontSize    float32 `json:"fontSize" binding:"required,gt=0"`
	Message     string  `json:"message" binding:"required"`
}

// Login exchanges the operator password for a token.
// POST /api/admin/login
func (h *AdminHandlers) Login(c *gin.Context) {
	if !h.limiter.allow(h.deps.Clock.Now()) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many login attempts"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.deps.Auth.Login(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		case errors.Is(err, auth.ErrAdminDisabled):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "admin login is not configured"})
		default:
			h.log.Error().Err(err).Msg("failed to login")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// ServerInfo reports load and throughput.
// GET /api/server
func (h *AdminHandlers) ServerInfo(c *gin.Context) {
	st := h.deps.Hub.Stats()
	resp := ServerInfoResponse{
		Name:          h.name,
		Version:       proto.ServerVersion.String(),
		Players:       st.Players,
		LobbyPlayers:  st.LobbyPlayers,
		Rooms:         st.Rooms,
		UptimeSeconds: int64(h.deps.Clock.Since(h.startedAt).Seconds()),
	}
	if h.deps.Ticker != nil {
		resp.Tickrate = h.deps.Ticker.Rate()
		resp.TargetTickrate = int(time.Second / h.deps.Ticker.Interval())
	}
	if h.deps.Counters != nil {
		rates := h.deps.Counters.Snapshot()
		resp.NetworkIn, resp.NetworkOut = rates.InBytes, rates.OutBytes
	}
	c.JSON(http.StatusOK, resp)
}

// SetTickrate changes the tick rate at runtime. Values are clamped to 5..150.
// PUT /api/tickrate
func (h *AdminHandlers) SetTickrate(c *gin.Context) {
	var req TickrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if h.deps.Ticker == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "tick driver unavailable"})
		return
	}

	rate := config.ClampTickrate(req.Tickrate)
	if err := h.deps.Ticker.SetInterval(time.Second / time.Duration(rate)); err != nil {
		h.log.Error().Err(err).Int("tickrate", rate).Msg("failed to set tickrate")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.log.Info().Int("tickrate", rate).Msg("tickrate changed")
	c.JSON(http.StatusOK, gin.H{"tickrate": rate})
}

// DisplayMessage shows a message to players.
// POST /api/messages
func (h *AdminHandlers) DisplayMessage(c *gin.Context) {
	var req DisplayMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	n, err := h.deps.Hub.DisplayMessage(req.RoomID, core.DisplayMessage{
		DisplayTime: req.DisplayTime,
		FontSize:    req.FontSize,
		Text:        req.Message,
	})
	if err != nil {
		coreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": n})
}
