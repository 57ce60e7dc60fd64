// Package dispatch decodes transport events and applies them to the hub.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/stats"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

// Denial and disconnect reasons sent to clients.
const (
	ReasonMalformed      = "Malformed connection request"
	ReasonNotWhitelisted = "You are not whitelisted on this server!"
	ReasonBanned         = "You are banned on this server!"
	ReasonDisconnected   = "Disconnected"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUnsupported    = errors.New("command not supported")
	errEventsDisabled = errors.New("event messages are disabled")
)

// Config toggles optional commands.
type Config struct {
	AllowEventMessages bool
	// Version defaults to proto.ServerVersion.
	Version proto.Version
}

// Dispatcher is the only reader of the transport event stream. Poll must be
// called from a single goroutine.
type Dispatcher struct {
	hub      *core.Hub
	events   <-chan transport.Event
	access   core.AccessChecker
	counters *stats.Counters
	log      *zerolog.Logger

	allowEvents   bool
	serverVersion uint32

	clients map[string]*core.Client
}

func New(hub *core.Hub, events <-chan transport.Event, ac core.AccessChecker, counters *stats.Counters, cfg Config, logger *zerolog.Logger) *Dispatcher {
	if cfg.Version == (proto.Version{}) {
		cfg.Version = proto.ServerVersion
	}
	l := logger.With().Str("component", "dispatcher").Logger()
	return &Dispatcher{
		hub:           hub,
		events:        events,
		access:        ac,
		counters:      counters,
		log:           &l,
		allowEvents:   cfg.AllowEventMessages,
		serverVersion: cfg.Version.Pack(),
		clients:       make(map[string]*core.Client),
	}
}

// Clients returns the number of admitted connections.
func (d *Dispatcher) Clients() int {
	return len(d.clients)
}

// Poll handles every event queued when it is called and returns how many
// were processed. Events arriving meanwhile wait for the next call.
func (d *Dispatcher) Poll(ctx context.Context) int {
	n := len(d.events)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return i
		}
		select {
		case ev := <-d.events:
			d.handle(ev)
		default:
			return i
		}
	}
	return n
}

func (d *Dispatcher) handle(ev transport.Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Interface("panic", p).
				Str("conn", ev.Conn.ID()).
				Stringer("kind", ev.Kind).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()

	d.counters.AddIn(len(ev.Payload))
	switch ev.Kind {
	case transport.EventConnectionRequest:
		d.admit(ev.Conn, ev.Payload)
	case transport.EventData:
		d.data(ev.Conn, ev.Payload)
	case transport.EventDisconnected:
		d.drop(ev.Conn)
		d.log.Debug().Str("conn", ev.Conn.ID()).Str("reason", ev.Reason).Msg("connection closed")
	}
}

func (d *Dispatcher) admit(conn transport.Conn, payload []byte) {
	a, err := proto.DecodeAdmission(payload)
	if len(payload) >= 4 && !proto.VersionsCompatible(a.Version, d.serverVersion) {
		conn.Deny(fmt.Sprintf("Version mismatch!\nServer:%d\nClient:%d", d.serverVersion, a.Version))
		d.log.Info().Uint32("client_version", a.Version).Stringer("addr", conn.RemoteAddr()).Msg("client version rejected")
		return
	}
	if err != nil {
		conn.Deny(ReasonMalformed)
		d.log.Warn().Err(err).Stringer("addr", conn.RemoteAddr()).Msg("malformed connection request")
		return
	}

	addr := conn.RemoteAddr().Addr()
	if d.access.IsBlacklisted(addr, a.Player) {
		conn.Deny(ReasonBanned)
		d.log.Warn().Str("player", a.Player.Name).Uint64("player_id", a.Player.ID).Stringer("addr", addr).Msg("banned client rejected")
		return
	}
	if d.access.WhitelistEnabled() && !d.access.IsWhitelisted(addr, a.Player) {
		conn.Deny(ReasonNotWhitelisted)
		d.log.Warn().Str("player", a.Player.Name).Uint64("player_id", a.Player.ID).Stringer("addr", addr).Msg("client not whitelisted")
		return
	}

	conn.Approve()
	d.clients[conn.ID()] = d.hub.Admit(conn, a.Player)
}

func (d *Dispatcher) drop(conn transport.Conn) {
	c, ok := d.clients[conn.ID()]
	if !ok {
		return
	}
	delete(d.clients, conn.ID())
	d.hub.Disconnect(c)
}

func (d *Dispatcher) data(conn transport.Conn, payload []byte) {
	r := proto.NewReader(payload)
	cmd := proto.CommandType(r.Byte())
	if err := r.Err(); err != nil {
		d.log.Warn().Str("conn", conn.ID()).Msg("empty message")
		return
	}

	c, ok := d.clients[conn.ID()]
	if !ok {
		// Listing rooms needs no identity.
		if cmd == proto.CommandGetRooms {
			d.reply(conn, proto.RoomListPacket(d.hub.ListRooms()))
			return
		}
		d.log.Debug().Str("conn", conn.ID()).Stringer("command", cmd).Msg("message from unknown connection")
		return
	}

	if err := d.route(c, conn, cmd, r); err != nil {
		ev := d.log.Debug()
		if isDecodeError(err) {
			ev = d.log.Warn()
		}
		ev.Err(err).Str("conn", conn.ID()).Stringer("command", cmd).Msg("command ignored")
	}
}

func (d *Dispatcher) route(c *core.Client, conn transport.Conn, cmd proto.CommandType, r *proto.Reader) error {
	switch cmd {
	case proto.CommandDisconnect:
		conn.Disconnect(ReasonDisconnected)
		d.drop(conn)
		return nil

	case proto.CommandUpdatePlayerInfo:
		info := proto.DecodePlayerInfo(r)
		if err := r.Err(); err != nil {
			return err
		}
		return d.hub.UpdatePlayerInfo(c, info)

	case proto.CommandJoinRoom:
		roomID := r.Uint32()
		var password string
		if r.Remaining() > 0 {
			password = r.Str()
		}
		if err := r.Err(); err != nil {
			return err
		}
		_, err := d.hub.JoinRoom(c, roomID, password)
		return err

	case proto.CommandLeaveRoom:
		return d.hub.LeaveRoom(c)

	case proto.CommandGetRooms:
		d.reply(conn, proto.RoomListPacket(d.hub.ListRooms()))
		return nil

	case proto.CommandCreateRoom:
		settings := proto.DecodeRoomSettings(r)
		if err := r.Err(); err != nil {
			return err
		}
		id, err := d.hub.CreateRoom(settings, c)
		if err != nil {
			return err
		}
		d.reply(conn, proto.CreateRoomPacket(id))
		return nil

	case proto.CommandGetRoomInfo:
		withSongs := r.Remaining() > 0 && r.Byte() == 1
		info, songs, err := d.hub.RoomInfo(c)
		if err != nil {
			return err
		}
		if !withSongs {
			songs = nil
		}
		d.reply(conn, proto.RoomInfoPacket(info, songs))
		return nil

	case proto.CommandSetSelectedSong:
		song := proto.DecodeSongOption(r)
		if err := r.Err(); err != nil {
			return err
		}
		return d.hub.SetSelectedSong(c, song)

	case proto.CommandStartLevel:
		difficulty := r.Byte()
		song := proto.DecodeSongInfo(r)
		if err := r.Err(); err != nil {
			return err
		}
		song.Duration += float32(core.StartGrace.Seconds())
		return d.hub.StartLevel(c, difficulty, song)

	case proto.CommandDestroyRoom:
		return d.hub.DestroyRoomBy(c)

	case proto.CommandTransferHost:
		newHost := proto.DecodePlayerInfo(r)
		if err := r.Err(); err != nil {
			return err
		}
		return d.hub.TransferHost(c, newHost)

	case proto.CommandPlayerReady:
		ready := r.Bool()
		if err := r.Err(); err != nil {
			return err
		}
		return d.hub.PlayerReady(c, ready)

	case proto.CommandSendEventMessage:
		if !d.allowEvents {
			return errEventsDisabled
		}
		header, data := r.Str(), r.Str()
		if err := r.Err(); err != nil {
			return err
		}
		return d.hub.SendEventMessage(c, header, data)

	case proto.CommandGetChannelInfo, proto.CommandJoinChannel, proto.CommandGetSongDuration:
		return errUnsupported

	default:
		return errUnknownCommand
	}
}

func (d *Dispatcher) reply(conn transport.Conn, payload []byte) {
	if err := conn.Send(payload, transport.ReliableOrdered); err != nil {
		d.log.Warn().Err(err).Str("conn", conn.ID()).Msg("reply failed")
		return
	}
	d.counters.AddOut(len(payload))
}

func isDecodeError(err error) bool {
	return errors.Is(err, proto.ErrShortBuffer) ||
		errors.Is(err, proto.ErrStringTooLong) ||
		errors.Is(err, proto.ErrInvalidString) ||
		errors.Is(err, proto.ErrNegativeLength)
}
