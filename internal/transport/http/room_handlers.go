package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	hub     *core.Hub
	presets store.PresetStore
	log     *zerolog.Logger
}

// CreateRoomRequest creates a hostless room from inline settings or from a
// saved preset.
type CreateRoomRequest struct {
	Preset string `json:"preset"`
	proto.RoomSettings
}

// RoomCreatedResponse carries the id of a new room.
type RoomCreatedResponse struct {
	RoomID uint32 `json:"roomId"`
}

// PresetResponse represents a preset in API responses.
type PresetResponse struct {
	Name      string             `json:"name"`
	Settings  proto.RoomSettings `json:"settings"`
	UpdatedAt string             `json:"updated_at"`
}

// ListRooms lists live rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.ListRooms())
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	settings := req.RoomSettings
	if req.Preset != "" {
		if h.presets == nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presets unavailable"})
			return
		}
		preset, err := h.presets.GetPreset(c.Request.Context(), req.Preset)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "preset not found"})
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("preset", req.Preset).Msg("failed to load preset")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		settings = preset.Settings
	} else if strings.TrimSpace(settings.Name) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name is required"})
		return
	}
	if settings.MaxPlayers < 0 {
		settings.MaxPlayers = 0
	}

	id := h.hub.CreateHostlessRoom(settings)
	h.log.Info().Uint32("room_id", id).Str("preset", req.Preset).Msg("room created by operator")
	c.JSON(http.StatusCreated, RoomCreatedResponse{RoomID: id})
}

// DestroyRoom removes a room and sends its members to the lobby.
// DELETE /api/rooms/:id
func (h *RoomHandlers) DestroyRoom(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	if !h.hub.DestroyRoom(id, "Room destroyed by operator") {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DestroyEmptyRooms removes every empty room that is not reserved.
// DELETE /api/rooms/empty
func (h *RoomHandlers) DestroyEmptyRooms(c *gin.Context) {
	ids := h.hub.DestroyEmptyRooms()
	if ids == nil {
		ids = []uint32{}
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": ids})
}

// CloneRoom creates a hostless copy of a room.
// POST /api/rooms/:id/clone
func (h *RoomHandlers) CloneRoom(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	clone, err := h.hub.CloneRoom(id)
	if err != nil {
		coreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RoomCreatedResponse{RoomID: clone})
}

// SavePreset stores the settings of a live room under a name.
// PUT /api/rooms/:id/preset/:name
func (h *RoomHandlers) SavePreset(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "preset name is required"})
		return
	}
	if h.presets == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presets unavailable"})
		return
	}
	settings, err := h.hub.RoomSettings(id)
	if err != nil {
		coreError(c, err)
		return
	}
	if err := h.presets.SavePreset(c.Request.Context(), name, settings); err != nil {
		h.log.Error().Err(err).Str("preset", name).Msg("failed to save preset")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": name})
}

// ListPresets lists saved presets.
// GET /api/presets
func (h *RoomHandlers) ListPresets(c *gin.Context) {
	if h.presets == nil {
		c.JSON(http.StatusOK, []PresetResponse{})
		return
	}
	presets, err := h.presets.ListPresets(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list presets")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	resp := make([]PresetResponse, 0, len(presets))
	for _, p := range presets {
		resp = append(resp, PresetResponse{
			Name:      p.Name,
			Settings:  p.Settings,
			UpdatedAt: p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// DeletePreset removes a saved preset.
// DELETE /api/presets/:name
func (h *RoomHandlers) DeletePreset(c *gin.Context) {
	if h.presets == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "preset not found"})
		return
	}
	removed, err := h.presets.DeletePreset(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to delete preset")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "preset not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListClients lists every connected player.
// GET /api/clients
func (h *RoomHandlers) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.ListClients())
}

// RoomClients lists the members of one room.
// GET /api/rooms/:id/clients
func (h *RoomHandlers) RoomClients(c *gin.Context) {
	id, ok := roomIDParam(c)
	if !ok {
		return
	}
	clients, err := h.hub.RoomClients(id)
	if err != nil {
		coreError(c, err)
		return
	}
	c.JSON(http.StatusOK, clients)
}
