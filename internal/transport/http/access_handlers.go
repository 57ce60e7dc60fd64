package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/access"
	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/store"
)

// AccessHandlers edit the access lists. Every edit re-checks connected
// players against the new lists.
type AccessHandlers struct {
	hub    *core.Hub
	access *access.Manager
	log    *zerolog.Logger
}

// AccessEntryRequest represents an entry to add.
type AccessEntryRequest struct {
	Entry string `json:"entry" binding:"required"`
}

// WhitelistSwitchRequest turns the allowlist on or off.
type WhitelistSwitchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// AccessEditResponse reports the outcome of an edit.
type AccessEditResponse struct {
	Changed bool `json:"changed"`
	Kicked  int  `json:"kicked"`
}

// Snapshot returns both lists.
// GET /api/access
func (h *AccessHandlers) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.access.Snapshot())
}

// AddEntry adds an entry to a list.
// POST /api/access/:list
func (h *AccessHandlers) AddEntry(c *gin.Context) {
	var req AccessEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	added, err := h.access.Add(c.Request.Context(), store.AccessList(c.Param("list")), req.Entry)
	if err != nil {
		h.editError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccessEditResponse{Changed: added, Kicked: h.hub.EnforceAccess(h.access)})
}

// RemoveEntry removes an entry from a list. The entry may contain slashes.
// DELETE /api/access/:list/*entry
func (h *AccessHandlers) RemoveEntry(c *gin.Context) {
	entry := strings.TrimPrefix(c.Param("entry"), "/")
	removed, err := h.access.Remove(c.Request.Context(), store.AccessList(c.Param("list")), entry)
	if err != nil {
		h.editError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccessEditResponse{Changed: removed, Kicked: h.hub.EnforceAccess(h.access)})
}

// SetWhitelistEnabled switches the allowlist.
// PUT /api/access/whitelist/enabled
func (h *AccessHandlers) SetWhitelistEnabled(c *gin.Context) {
	var req WhitelistSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.access.SetWhitelistEnabled(c.Request.Context(), *req.Enabled); err != nil {
		h.editError(c, err)
		return
	}
	c.JSON(http.StatusOK, AccessEditResponse{Changed: true, Kicked: h.hub.EnforceAccess(h.access)})
}

func (h *AccessHandlers) editError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, access.ErrUnknownList):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown list"})
	case errors.Is(err, access.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Msg("access edit failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
