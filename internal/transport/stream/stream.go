// Package stream serves the player protocol over TCP. Each message is framed
// by a 4-byte little-endian length.
package stream

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/transport"
)

// MaxFrameSize bounds a single inbound message.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("stream: frame too large")

// FrameConn adapts a net.Conn to transport.FrameConn.
type FrameConn struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex
}

func NewFrameConn(conn net.Conn) *FrameConn {
	return &FrameConn{conn: conn, r: bufio.NewReader(conn)}
}

// ReadFrame blocks until a full frame arrives. Cancellation is handled by
// closing the connection.
func (c *FrameConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *FrameConn) WriteFrame(ctx context.Context, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := c.conn.Write(buf)
	return err
}

func (c *FrameConn) Close(string) error {
	return c.conn.Close()
}

func (c *FrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Listener accepts TCP connections and serves them on a transport.Network.
type Listener struct {
	ln      net.Listener
	network *transport.Network
	log     *zerolog.Logger
	wg      sync.WaitGroup
}

// Listen binds addr.
func Listen(addr string, network *transport.Network, logger *zerolog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	l := logger.With().Str("component", "tcp").Logger()
	return &Listener{ln: ln, network: network, log: &l}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts until ctx is canceled, then closes every open connection
// and waits for them to finish.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	l.log.Info().Str("addr", l.ln.Addr().String()).Msg("tcp listener started")
	defer l.wg.Wait()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if err := l.network.Serve(ctx, NewFrameConn(conn)); err != nil {
		l.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection ended")
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
