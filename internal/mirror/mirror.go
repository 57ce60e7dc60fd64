// Package mirror streams room changes to read-only WebSocket observers.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/core"
	"github.com/vovakirdan/songhub-server/internal/proto"
)

const (
	// DefaultBuffer is the number of pending messages kept per observer.
	DefaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

var ErrRoomNotFound = errors.New("mirror: room not found")

// Message is the JSON frame sent to observers.
type Message struct {
	CommandType string `json:"commandType"`
	Data        any    `json:"data"`
}

// Source attaches observers to a room without missing a change.
type Source interface {
	ObserveRoom(id uint32, attach func(snapshot []core.MirrorPacket)) bool
}

type observer struct {
	out  chan []byte
	gone chan struct{}
	once sync.Once
}

func (o *observer) finish() {
	o.once.Do(func() { close(o.gone) })
}

// Mirror implements core.Publisher. Publish never blocks: an observer that
// falls behind loses messages.
type Mirror struct {
	source Source
	log    *zerolog.Logger
	buffer int

	mu    sync.Mutex
	rooms map[uint32]map[*observer]struct{}
}

func New(source Source, logger *zerolog.Logger) *Mirror {
	l := logger.With().Str("component", "mirror").Logger()
	return &Mirror{
		source: source,
		log:    &l,
		buffer: DefaultBuffer,
		rooms:  make(map[uint32]map[*observer]struct{}),
	}
}

// SetSource is used when the source is built after the mirror, as the hub is.
func (m *Mirror) SetSource(source Source) {
	m.source = source
}

// Observers returns the number of observers of a room.
func (m *Mirror) Observers(roomID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[roomID])
}

func (m *Mirror) Publish(roomID uint32, cmd proto.CommandType, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obs := m.rooms[roomID]
	if len(obs) == 0 {
		return
	}
	b, err := encode(cmd, data)
	if err != nil {
		m.log.Warn().Err(err).Stringer("command", cmd).Msg("encode mirror message")
		return
	}
	for o := range obs {
		select {
		case o.out <- b:
		default:
			m.log.Debug().Uint32("room", roomID).Stringer("command", cmd).Msg("observer lagging, message dropped")
		}
	}
	if cmd == proto.CommandDestroyRoom {
		for o := range obs {
			o.finish()
		}
		delete(m.rooms, roomID)
	}
}

func encode(cmd proto.CommandType, data any) ([]byte, error) {
	return json.Marshal(Message{CommandType: cmd.String(), Data: data})
}

func (m *Mirror) subscribe(roomID uint32) (*observer, error) {
	o := &observer{out: make(chan []byte, m.buffer), gone: make(chan struct{})}
	ok := m.source.ObserveRoom(roomID, func(snapshot []core.MirrorPacket) {
		for _, p := range snapshot {
			b, err := encode(p.Command, p.Data)
			if err != nil {
				continue
			}
			select {
			case o.out <- b:
			default:
			}
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rooms[roomID] == nil {
			m.rooms[roomID] = make(map[*observer]struct{})
		}
		m.rooms[roomID][o] = struct{}{}
	})
	if !ok {
		return nil, ErrRoomNotFound
	}
	return o, nil
}

func (m *Mirror) unsubscribe(roomID uint32, o *observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obs := m.rooms[roomID]; obs != nil {
		delete(obs, o)
		if len(obs) == 0 {
			delete(m.rooms, roomID)
		}
	}
	o.finish()
}

// ServeRoom upgrades the request and streams the room until it is destroyed
// or the observer leaves. A missing room is answered with 404.
func (m *Mirror) ServeRoom(w http.ResponseWriter, r *http.Request, roomID uint32) {
	o, err := m.subscribe(roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer m.unsubscribe(roomID, o)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		m.log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	m.log.Debug().Uint32("room", roomID).Str("remote", r.RemoteAddr).Msg("observer attached")
	ctx := conn.CloseRead(r.Context())
	if err := m.stream(ctx, conn, o); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Debug().Err(err).Uint32("room", roomID).Msg("observer stream ended")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Mirror) stream(ctx context.Context, conn *websocket.Conn, o *observer) error {
	write := func(b []byte) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, b)
	}
	for {
		select {
		case b := <-o.out:
			if err := write(b); err != nil {
				return err
			}
		case <-o.gone:
			for {
				select {
				case b := <-o.out:
					if err := write(b); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
