package core

import (
	"net/netip"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

// Publisher receives a copy of every room change, e.g. for live observers.
// Publish is called with the hub lock held and must not block.
type Publisher interface {
	Publish(roomID uint32, cmd proto.CommandType, data any)
}

// AccessChecker answers allow/deny questions for a connection.
type AccessChecker interface {
	IsBlacklisted(addr netip.Addr, info proto.PlayerInfo) bool
	IsWhitelisted(addr netip.Addr, info proto.PlayerInfo) bool
	WhitelistEnabled() bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(uint32, proto.CommandType, any) {}

// Published payloads.

type ReadyCount struct {
	Ready int `json:"readyPlayers"`
	Total int `json:"roomClients"`
}

type SongSelection struct {
	Song       proto.SongInfo `json:"song"`
	Difficulty byte           `json:"difficulty"`
}

type DisplayMessage struct {
	DisplayTime float32 `json:"displayTime"`
	FontSize    float32 `json:"fontSize"`
	Text        string  `json:"message"`
}

type EventMessage struct {
	Sender proto.PlayerInfo `json:"sender"`
	Header string           `json:"header"`
	Data   string           `json:"data"`
}

type PlayerUpdate struct {
	Elapsed float32            `json:"elapsedTime"`
	Total   float32            `json:"totalTime"`
	Players []proto.PlayerInfo `json:"players"`
}

// MirrorPacket is one published change.
type MirrorPacket struct {
	Command proto.CommandType
	Data    any
}
