package core

import (
	"net/netip"
	"time"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

// Client is a connected player as seen by the core layer. Fields other than
// Conn are owned by the Hub and change only under its lock.
type Client struct {
	Conn      transport.Conn
	Addr      netip.Addr
	SessionID string
	Info      proto.PlayerInfo
	// RoomID is 0 while the client is in the lobby.
	RoomID   uint32
	JoinedAt time.Time
}

// NewClient constructs a lobby client for an approved connection.
func NewClient(conn transport.Conn, info proto.PlayerInfo, now time.Time) *Client {
	info.Name = proto.NormalizeName(info.Name)
	info.State = proto.PlayerLobby
	return &Client{
		Conn:      conn,
		Addr:      conn.RemoteAddr().Addr(),
		SessionID: conn.ID(),
		Info:      info,
		JoinedAt:  now,
	}
}

func (c *Client) InRoom() bool {
	return c.RoomID != 0
}

// ClientInfo is a listing row for operators.
type ClientInfo struct {
	SessionID        string            `json:"sessionId"`
	PlayerID         uint64            `json:"playerId,string"`
	Name             string            `json:"name"`
	State            proto.PlayerState `json:"state"`
	Address          string            `json:"address"`
	RoomID           uint32            `json:"roomId"`
	ConnectedSeconds float64           `json:"connectedSeconds"`
}

func (c *Client) describe(now time.Time) ClientInfo {
	return ClientInfo{
		SessionID:        c.SessionID,
		PlayerID:         c.Info.ID,
		Name:             c.Info.Name,
		State:            c.Info.State,
		Address:          c.Conn.RemoteAddr().String(),
		RoomID:           c.RoomID,
		ConnectedSeconds: now.Sub(c.JoinedAt).Seconds(),
	}
}
