package core

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/stats"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

const (
	// DefaultSweepInterval is how often empty rooms are collected.
	DefaultSweepInterval = 10 * time.Second

	ReasonShutdown    = "Server is shutting down..."
	ReasonBanned      = "You are banned!"
	ReasonWhitelisted = "You are not whitelisted!"
)

// Options configures a Hub.
type Options struct {
	Clock     clock.Clock
	Logger    *zerolog.Logger
	Publisher Publisher
	Counters  *stats.Counters
	Rand      *rand.Rand
	// KeepEmptyRooms disables every automatic room removal.
	KeepEmptyRooms bool
	SweepInterval  time.Duration
}

type pendingDestroy struct {
	id     uint32
	reason string
}

// Hub owns the lobby and all rooms. Every exported method takes the hub lock,
// so the tick goroutine and admin requests can share it.
type Hub struct {
	mu sync.Mutex

	clock      clock.Clock
	log        *zerolog.Logger
	pub        Publisher
	counters   *stats.Counters
	rnd        *rand.Rand
	keepEmpty  bool
	sweepEvery time.Duration
	lastSweep  time.Time

	lobby   *Lobby
	rooms   *Rooms
	pending []pendingDestroy
}

// NewHub constructs a hub with no rooms.
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Counters == nil {
		opts.Counters = stats.NewCounters(opts.Clock)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	l := opts.Logger.With().Str("component", "hub").Logger()
	return &Hub{
		clock:      opts.Clock,
		log:        &l,
		pub:        opts.Publisher,
		counters:   opts.Counters,
		rnd:        opts.Rand,
		keepEmpty:  opts.KeepEmptyRooms,
		sweepEvery: opts.SweepInterval,
		lastSweep:  opts.Clock.Now(),
		lobby:      &Lobby{},
		rooms:      newRooms(),
	}
}

// HubStats is a point-in-time summary.
type HubStats struct {
	Rooms        int `json:"rooms"`
	Players      int `json:"players"`
	LobbyPlayers int `json:"lobbyPlayers"`
}

func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	players := h.lobby.Len()
	for _, r := range h.rooms.order {
		players += len(r.clients)
	}
	return HubStats{Rooms: h.rooms.Len(), Players: players, LobbyPlayers: h.lobby.Len()}
}

// ==== connection lifecycle ====

// Admit registers an approved connection in the lobby. A stale lobby entry
// from the same endpoint is dropped first.
func (h *Hub) Admit(conn transport.Conn, info proto.PlayerInfo) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if stale := h.lobby.findByEndpoint(conn.RemoteAddr()); stale != nil && stale.Conn != conn {
		h.log.Warn().Str("player", stale.Info.Name).Msg("replacing stale connection from the same endpoint")
		h.kick(stale, "Reconnected")
	}
	c := NewClient(conn, info, h.clock.Now())
	h.lobby.add(c)
	h.log.Info().
		Str("player", c.Info.Name).
		Uint64("player_id", c.Info.ID).
		Stringer("addr", conn.RemoteAddr()).
		Msg("client connected")
	return c
}

// Disconnect removes a client from its room or the lobby. It is idempotent.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detach(c) {
		h.log.Info().Str("player", c.Info.Name).Msg("client disconnected")
	}
	c.Info.State = proto.PlayerDisconnected
	h.flushDestroyed()
}

func (h *Hub) detach(c *Client) bool {
	if c.InRoom() {
		r := h.rooms.find(c.RoomID)
		c.RoomID = 0
		if r != nil {
			r.playerLeft(c)
		}
		return true
	}
	return h.lobby.remove(c)
}

// kick notifies the client, closes its connection and detaches it.
func (h *Hub) kick(c *Client, reason string) {
	h.send(c, proto.DisconnectPacket(reason), transport.ReliableOrdered)
	c.Conn.Disconnect(reason)
	h.detach(c)
	c.Info.State = proto.PlayerDisconnected
}

// UpdatePlayerInfo replaces the stored info of c. The admitted player id is
// kept so room identity checks stay stable.
func (h *Hub) UpdatePlayerInfo(c *Client, info proto.PlayerInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.known(c) {
		return ErrUnknownClient
	}
	info.ID = c.Info.ID
	info.Name = proto.NormalizeName(info.Name)
	c.Info = info
	if r := h.rooms.find(c.RoomID); r != nil {
		r.updateMember(c)
	}
	return nil
}

func (h *Hub) known(c *Client) bool {
	if c.InRoom() {
		r := h.rooms.find(c.RoomID)
		return r != nil && lo.Contains(r.clients, c)
	}
	return h.lobby.contains(c)
}

// ==== lobby commands ====

// JoinRoom moves c from the lobby into a room and replies with the result
// before the room announces the new member.
func (h *Hub) JoinRoom(c *Client, roomID uint32, password string) (proto.JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.InRoom() {
		return 0, ErrNotInLobby
	}
	if !h.lobby.contains(c) {
		return 0, ErrUnknownClient
	}

	r := h.rooms.find(roomID)
	var res proto.JoinResult
	switch {
	case r == nil:
		res = proto.JoinNotFound
	case r.Settings.UsePassword && password != r.Settings.Password:
		res = proto.JoinWrongPassword
	case r.full():
		res = proto.JoinRoomFull
	default:
		res = proto.JoinJoined
	}
	h.send(c, proto.JoinRoomPacket(res), transport.ReliableOrdered)
	if res != proto.JoinJoined {
		h.log.Debug().Str("player", c.Info.Name).Uint32("room", roomID).Stringer("result", res).Msg("join refused")
		return res, nil
	}

	h.lobby.remove(c)
	c.RoomID = r.ID
	c.Info.State = proto.PlayerRoom
	r.playerJoined(c)
	h.log.Info().Str("player", c.Info.Name).Uint32("room", r.ID).Msg("joined room")
	return res, nil
}

// LeaveRoom moves c back to the lobby.
func (h *Hub) LeaveRoom(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.InRoom() {
		return ErrNotInRoom
	}
	roomID := c.RoomID
	h.detach(c)
	c.Info.State = proto.PlayerLobby
	h.lobby.add(c)
	h.log.Info().Str("player", c.Info.Name).Uint32("room", roomID).Msg("left room")
	h.flushDestroyed()
	return nil
}

// ListRooms returns a snapshot in ascending id order.
func (h *Hub) ListRooms() []proto.RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Map(h.rooms.order, func(r *Room, _ int) proto.RoomInfo { return r.Info() })
}

// CreateRoom creates a room hosted by c, who must be in the lobby. The host
// still has to join it.
func (h *Hub) CreateRoom(settings proto.RoomSettings, c *Client) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.InRoom() {
		return 0, ErrNotInLobby
	}
	if !h.lobby.contains(c) {
		return 0, ErrUnknownClient
	}
	host := c.Info
	return h.createRoom(settings, &host, false).ID, nil
}

// CreateHostlessRoom creates a room whose first member becomes host.
func (h *Hub) CreateHostlessRoom(settings proto.RoomSettings) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createRoom(settings, nil, false).ID
}

// CreateReservedRoom creates a hostless room that is never removed
// automatically.
func (h *Hub) CreateReservedRoom(settings proto.RoomSettings) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createRoom(settings, nil, true).ID
}

func (h *Hub) createRoom(settings proto.RoomSettings, host *proto.PlayerInfo, protected bool) *Room {
	settings.Name = proto.NormalizeName(settings.Name)
	r := newRoom(h, h.rooms.nextID(), settings, host, h.clock.Now())
	r.Protected = protected
	h.rooms.add(r)

	ev := h.log.Info().Uint32("room", r.ID).Str("name", settings.Name).Stringer("selection", settings.SelectionType)
	if host != nil {
		ev = ev.Str("host", host.Name)
	}
	ev.Bool("protected", protected).Msg("room created")
	return r
}

// ==== room commands ====

func (h *Hub) withRoom(c *Client, fn func(r *Room) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.InRoom() {
		return ErrNotInRoom
	}
	r := h.rooms.find(c.RoomID)
	if r == nil {
		return ErrRoomNotFound
	}
	err := fn(r)
	h.flushDestroyed()
	return err
}

// RoomInfo returns the summary of c's room and a copy of its song list.
func (h *Hub) RoomInfo(c *Client) (proto.RoomInfo, []proto.SongInfo, error) {
	var (
		info  proto.RoomInfo
		songs []proto.SongInfo
	)
	err := h.withRoom(c, func(r *Room) error {
		info = r.Info()
		songs = append([]proto.SongInfo{}, r.Settings.AvailableSongs...)
		return nil
	})
	return info, songs, err
}

func (h *Hub) SetSelectedSong(c *Client, song *proto.SongInfo) error {
	return h.withRoom(c, func(r *Room) error {
		return r.setSelectedSong(c.Info, song, h.clock.Now())
	})
}

// StartLevel starts the song. Callers add StartGrace to the duration.
func (h *Hub) StartLevel(c *Client, difficulty byte, song proto.SongInfo) error {
	return h.withRoom(c, func(r *Room) error {
		return r.startLevel(c.Info, difficulty, song, h.clock.Now())
	})
}

func (h *Hub) DestroyRoomBy(c *Client) error {
	return h.withRoom(c, func(r *Room) error {
		return r.destroyBy(c.Info)
	})
}

func (h *Hub) TransferHost(c *Client, newHost proto.PlayerInfo) error {
	return h.withRoom(c, func(r *Room) error {
		return r.transferHost(c.Info, newHost)
	})
}

func (h *Hub) PlayerReady(c *Client, ready bool) error {
	return h.withRoom(c, func(r *Room) error {
		return r.readyStateChanged(c.Info, ready)
	})
}

// SendEventMessage relays an event message to the other members of c's room.
func (h *Hub) SendEventMessage(c *Client, header, data string) error {
	return h.withRoom(c, func(r *Room) error {
		r.relayEvent(c, header, data)
		return nil
	})
}

// ==== operator commands ====

// RoomInfoByID returns the summary of one room.
func (h *Hub) RoomInfoByID(id uint32) (proto.RoomInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return proto.RoomInfo{}, ErrRoomNotFound
	}
	return r.Info(), nil
}

// RoomSettings returns a copy of a room's settings.
func (h *Hub) RoomSettings(id uint32) (proto.RoomSettings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return proto.RoomSettings{}, ErrRoomNotFound
	}
	s := r.Settings
	s.AvailableSongs = append([]proto.SongInfo{}, s.AvailableSongs...)
	return s, nil
}

// CloneRoom creates a hostless room with the settings of an existing one.
func (h *Hub) CloneRoom(id uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return 0, ErrRoomNotFound
	}
	return h.createRoom(r.Settings, nil, false).ID, nil
}

// DestroyRoom removes a room and moves its members back to the lobby.
func (h *Hub) DestroyRoom(id uint32, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyRoom(id, reason, false)
}

// DestroyEmptyRooms removes every empty room that is not reserved.
func (h *Hub) DestroyEmptyRooms() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ids []uint32
	for _, r := range h.rooms.all() {
		if len(r.clients) == 0 && !r.Protected && h.destroyRoom(r.ID, "Room is empty", false) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// ListClients returns every connected client, lobby first.
func (h *Hub) ListClients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	out := lo.Map(h.lobby.clients, func(c *Client, _ int) ClientInfo { return c.describe(now) })
	for _, r := range h.rooms.order {
		for _, c := range r.clients {
			out = append(out, c.describe(now))
		}
	}
	return out
}

// RoomClients returns the members of one room.
func (h *Hub) RoomClients(id uint32) ([]ClientInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return nil, ErrRoomNotFound
	}
	now := h.clock.Now()
	return lo.Map(r.clients, func(c *Client, _ int) ClientInfo { return c.describe(now) }), nil
}

// DisplayMessage shows a message in one room, or in every room when roomID
// is 0. It returns the number of rooms reached.
func (h *Hub) DisplayMessage(roomID uint32, msg DisplayMessage) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomID != 0 {
		r := h.rooms.find(roomID)
		if r == nil {
			return 0, ErrRoomNotFound
		}
		r.displayMessage(msg)
		return 1, nil
	}
	for _, r := range h.rooms.order {
		r.displayMessage(msg)
	}
	return h.rooms.Len(), nil
}

// EnforceAccess kicks every client the checker would now deny and returns how
// many were kicked.
func (h *Hub) EnforceAccess(ac AccessChecker) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := h.lobby.snapshot()
	for _, r := range h.rooms.order {
		all = append(all, r.clients...)
	}
	kicked := 0
	for _, c := range all {
		var reason string
		switch {
		case ac.IsBlacklisted(c.Addr, c.Info):
			reason = ReasonBanned
		case ac.WhitelistEnabled() && !ac.IsWhitelisted(c.Addr, c.Info):
			reason = ReasonWhitelisted
		default:
			continue
		}
		h.log.Info().Str("player", c.Info.Name).Str("reason", reason).Msg("kicking client")
		h.kick(c, reason)
		kicked++
	}
	h.flushDestroyed()
	return kicked
}

// Shutdown destroys every room, disconnecting members with reason, and
// disconnects the lobby.
func (h *Hub) Shutdown(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.rooms.all() {
		h.destroyRoom(r.ID, reason, true)
	}
	for _, c := range h.lobby.snapshot() {
		h.kick(c, reason)
	}
	h.pending = nil
	h.log.Info().Msg("hub shut down")
}

// RoomSnapshot returns what a new observer of a room needs to see first.
func (h *Hub) RoomSnapshot(id uint32) ([]MirrorPacket, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return nil, false
	}
	return r.snapshot(), true
}

// ObserveRoom calls attach with the room snapshot while the hub lock is held,
// so no change is published between the snapshot and the attachment.
func (h *Hub) ObserveRoom(id uint32, attach func(snapshot []MirrorPacket)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms.find(id)
	if r == nil {
		return false
	}
	attach(r.snapshot())
	return true
}

// ==== tick ====

// Update advances every room in ascending id order, applies requested
// destructions and periodically collects empty rooms.
func (h *Hub) Update() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	for _, r := range h.rooms.all() {
		if r.destroyed {
			continue
		}
		h.updateRoom(r, now)
	}
	h.flushDestroyed()

	if now.Sub(h.lastSweep) >= h.sweepEvery {
		h.lastSweep = now
		if !h.keepEmpty {
			h.sweepEmpty(now)
		}
	}
}

func (h *Hub) updateRoom(r *Room, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msg("room update panicked")
		}
	}()
	r.update(now)
}

func (h *Hub) sweepEmpty(now time.Time) {
	for _, r := range h.rooms.all() {
		if len(r.clients) > 0 || r.Protected || r.hostless {
			continue
		}
		if now.Sub(r.createdAt) < h.sweepEvery {
			continue
		}
		h.destroyRoom(r.ID, "Room is empty", false)
	}
}

// ==== internals ====

func (h *Hub) requestDestroy(id uint32, reason string) {
	h.pending = append(h.pending, pendingDestroy{id: id, reason: reason})
}

func (h *Hub) flushDestroyed() {
	for len(h.pending) > 0 {
		p := h.pending[0]
		h.pending = h.pending[1:]
		h.destroyRoom(p.id, p.reason, false)
	}
}

func (h *Hub) destroyRoom(id uint32, reason string, kick bool) bool {
	r := h.rooms.remove(id)
	if r == nil {
		return false
	}
	r.destroyed = true
	members := r.clients
	r.clients = nil
	for _, c := range members {
		c.RoomID = 0
		if kick {
			h.send(c, proto.DisconnectPacket(reason), transport.ReliableOrdered)
			c.Conn.Disconnect(reason)
			c.Info.State = proto.PlayerDisconnected
			continue
		}
		h.send(c, proto.DestroyRoomPacket(), transport.ReliableOrdered)
		c.Info.State = proto.PlayerLobby
		h.lobby.add(c)
	}
	h.publish(id, proto.CommandDestroyRoom, nil)
	h.log.Info().
		Uint32("room", id).
		Str("name", r.Settings.Name).
		Int("members", len(members)).
		Str("reason", reason).
		Msg("room destroyed")
	return true
}

func (h *Hub) send(c *Client, payload []byte, method transport.DeliveryMethod) {
	if err := c.Conn.Send(payload, method); err != nil {
		h.log.Warn().Err(err).Str("player", c.Info.Name).Msg("send failed")
		return
	}
	h.counters.AddOut(len(payload))
}

func (h *Hub) publish(roomID uint32, cmd proto.CommandType, data any) {
	h.pub.Publish(roomID, cmd, data)
}
