// Package ws serves the player protocol over WebSocket binary messages.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/transport"
	"github.com/vovakirdan/songhub-server/internal/transport/stream"
)

var ErrTextMessage = errors.New("ws: text messages are not supported")

// maxCloseReason is the control frame limit minus the status code.
const maxCloseReason = 123

// FrameConn adapts a websocket connection to transport.FrameConn.
type FrameConn struct {
	conn *websocket.Conn
	addr string
}

func NewFrameConn(conn *websocket.Conn, remoteAddr string) *FrameConn {
	conn.SetReadLimit(stream.MaxFrameSize)
	return &FrameConn{conn: conn, addr: remoteAddr}
}

func (c *FrameConn) ReadFrame(ctx context.Context) ([]byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		return nil, ErrTextMessage
	}
	return data, nil
}

func (c *FrameConn) WriteFrame(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, payload)
}

func (c *FrameConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, closeReason(reason))
}

// closeReason cuts reason to maxCloseReason bytes on a rune boundary.
func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

func (c *FrameConn) RemoteAddr() string {
	return c.addr
}

// Handler upgrades player connections and serves them on a network.
type Handler struct {
	network *transport.Network
	log     *zerolog.Logger
}

func NewHandler(network *transport.Network, logger *zerolog.Logger) *Handler {
	l := logger.With().Str("component", "ws").Logger()
	return &Handler{network: network, log: &l}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // game clients do not send an Origin we could check
	})
	if err != nil {
		h.log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	if err := h.network.Serve(r.Context(), NewFrameConn(conn, r.RemoteAddr)); err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket connection ended")
	}
	_ = conn.CloseNow()
}

// Dial opens a client connection and performs the connection request. It is
// used by tests and tooling.
func Dial(ctx context.Context, url string, request []byte) (*websocket.Conn, []byte, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, request); err != nil {
		_ = conn.CloseNow()
		return nil, nil, fmt.Errorf("write connection request: %w", err)
	}
	_, reply, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, nil, fmt.Errorf("read handshake reply: %w", err)
	}
	return conn, reply, nil
}
