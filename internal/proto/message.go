package proto

import "fmt"

// CommandType is the tag byte that opens every message.
type CommandType byte

const (
	CommandConnect CommandType = iota
	CommandDisconnect
	CommandGetRooms
	CommandCreateRoom
	CommandJoinRoom
	CommandGetRoomInfo
	CommandLeaveRoom
	CommandDestroyRoom
	CommandTransferHost
	CommandSetSelectedSong
	CommandStartLevel
	CommandUpdatePlayerInfo
	CommandPlayerReady
	CommandSetGameState
	CommandDisplayMessage
	CommandSendEventMessage
	CommandGetChannelInfo
	CommandJoinChannel
	CommandGetSongDuration
)

var commandNames = [...]string{
	CommandConnect:          "Connect",
	CommandDisconnect:       "Disconnect",
	CommandGetRooms:         "GetRooms",
	CommandCreateRoom:       "CreateRoom",
	CommandJoinRoom:         "JoinRoom",
	CommandGetRoomInfo:      "GetRoomInfo",
	CommandLeaveRoom:        "LeaveRoom",
	CommandDestroyRoom:      "DestroyRoom",
	CommandTransferHost:     "TransferHost",
	CommandSetSelectedSong:  "SetSelectedSong",
	CommandStartLevel:       "StartLevel",
	CommandUpdatePlayerInfo: "UpdatePlayerInfo",
	CommandPlayerReady:      "PlayerReady",
	CommandSetGameState:     "SetGameState",
	CommandDisplayMessage:   "DisplayMessage",
	CommandSendEventMessage: "SendEventMessage",
	CommandGetChannelInfo:   "GetChannelInfo",
	CommandJoinChannel:      "JoinChannel",
	CommandGetSongDuration:  "GetSongDuration",
}

func (c CommandType) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("CommandType(%d)", byte(c))
}

// JoinResult is the single byte answer to a JoinRoom request.
type JoinResult byte

const (
	JoinJoined JoinResult = iota
	JoinNotFound
	JoinWrongPassword
	JoinRoomFull
)

func (r JoinResult) String() string {
	switch r {
	case JoinJoined:
		return "Joined"
	case JoinNotFound:
		return "NotFound"
	case JoinWrongPassword:
		return "WrongPassword"
	case JoinRoomFull:
		return "RoomFull"
	default:
		return fmt.Sprintf("JoinResult(%d)", byte(r))
	}
}

// RoomState is the lifecycle position of a room.
type RoomState byte

const (
	StateSelectingSong RoomState = iota
	StatePreparing
	StateInGame
	StateResults
)

func (s RoomState) String() string {
	switch s {
	case StateSelectingSong:
		return "SelectingSong"
	case StatePreparing:
		return "Preparing"
	case StateInGame:
		return "InGame"
	case StateResults:
		return "Results"
	default:
		return fmt.Sprintf("RoomState(%d)", byte(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SelectionType picks how a room chooses its next song.
type SelectionType byte

const (
	SelectionManual SelectionType = iota
	SelectionRandom
	SelectionVoting
)

func (s SelectionType) String() string {
	switch s {
	case SelectionManual:
		return "Manual"
	case SelectionRandom:
		return "Random"
	case SelectionVoting:
		return "Voting"
	default:
		return fmt.Sprintf("SelectionType(%d)", byte(s))
	}
}

// PlayerState is the client-reported activity of a player.
type PlayerState byte

const (
	PlayerDisconnected PlayerState = iota
	PlayerLobby
	PlayerRoom
	PlayerGame
	PlayerSpectating
	PlayerDownloadingSongs
)

func (s PlayerState) String() string {
	switch s {
	case PlayerDisconnected:
		return "Disconnected"
	case PlayerLobby:
		return "Lobby"
	case PlayerRoom:
		return "Room"
	case PlayerGame:
		return "Game"
	case PlayerSpectating:
		return "Spectating"
	case PlayerDownloadingSongs:
		return "DownloadingSongs"
	default:
		return fmt.Sprintf("PlayerState(%d)", byte(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s PlayerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
