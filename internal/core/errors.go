package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound  = "room_not_found"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeNotInLobby    = "not_in_lobby"
	ErrCodeNotHost       = "not_host"
	ErrCodeNotMember     = "not_member"
	ErrCodeInvalidState  = "invalid_state"
	ErrCodeUnknownClient = "unknown_client"
	ErrCodeBadRequest    = "bad_request"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotInRoom     = errors.New("not in room")
	ErrNotInLobby    = errors.New("not in lobby")
	ErrNotHost       = errors.New("not the room host")
	ErrNotMember     = errors.New("player is not in this room")
	ErrInvalidState  = errors.New("not allowed in the current room state")
	ErrUnknownClient = errors.New("unknown client")
	ErrBadRequest    = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

var errorCodes = map[error]string{
	ErrRoomNotFound:  ErrCodeRoomNotFound,
	ErrNotInRoom:     ErrCodeNotInRoom,
	ErrNotInLobby:    ErrCodeNotInLobby,
	ErrNotHost:       ErrCodeNotHost,
	ErrNotMember:     ErrCodeNotMember,
	ErrInvalidState:  ErrCodeInvalidState,
	ErrUnknownClient: ErrCodeUnknownClient,
	ErrBadRequest:    ErrCodeBadRequest,
}

// AsCoreError maps a sentinel error to a CoreError. Unknown errors return nil.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return &CoreError{Code: code, Message: err.Error()}
		}
	}
	return nil
}
