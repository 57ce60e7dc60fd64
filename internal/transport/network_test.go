package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) WriteFrame(ctx context.Context, b []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Close(string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "127.0.0.1:5000" }

func newTestNetwork() *Network {
	logger := zerolog.Nop()
	return NewNetwork(16, time.Second, &logger)
}

func nextEvent(t *testing.T, n *Network) Event {
	t.Helper()
	select {
	case ev := <-n.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func nextFrame(t *testing.T, c *pipeConn) []byte {
	t.Helper()
	select {
	case b := <-c.out:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestNetworkApprovedConnection(t *testing.T) {
	n := newTestNetwork()
	c := newPipeConn()
	served := make(chan error, 1)
	go func() { served <- n.Serve(context.Background(), c) }()

	c.in <- []byte("hello")
	ev := nextEvent(t, n)
	if ev.Kind != EventConnectionRequest || string(ev.Payload) != "hello" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Conn.RemoteAddr().Port() != 5000 {
		t.Fatalf("unexpected addr %v", ev.Conn.RemoteAddr())
	}
	ev.Conn.Approve()
	if got := nextFrame(t, c); !bytes.Equal(got, []byte{handshakeApproved}) {
		t.Fatalf("expected approval frame, got %v", got)
	}

	c.in <- []byte{1, 2, 3}
	data := nextEvent(t, n)
	if data.Kind != EventData || data.Conn.ID() != ev.Conn.ID() || !bytes.Equal(data.Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected data event %+v", data)
	}

	if err := ev.Conn.Send([]byte("a"), ReliableOrdered); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for n.Peers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	n.Flush()
	if got := nextFrame(t, c); string(got) != "a" {
		t.Fatalf("expected flushed frame, got %q", got)
	}

	_ = c.Close("client gone")
	gone := nextEvent(t, n)
	if gone.Kind != EventDisconnected || gone.Conn.ID() != ev.Conn.ID() {
		t.Fatalf("unexpected event %+v", gone)
	}
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if n.Peers() != 0 {
		t.Fatalf("expected peer to be unregistered")
	}
}

func TestNetworkDeniedConnection(t *testing.T) {
	n := newTestNetwork()
	c := newPipeConn()
	go func() { _ = n.Serve(context.Background(), c) }()

	c.in <- []byte("hello")
	ev := nextEvent(t, n)
	ev.Conn.Deny("You are banned on this server!")

	frame := nextFrame(t, c)
	r := proto.NewReader(frame)
	if r.Byte() != handshakeDenied {
		t.Fatalf("expected denial tag, got %v", frame)
	}
	if reason := r.Str(); reason != "You are banned on this server!" {
		t.Fatalf("unexpected reason %q", reason)
	}
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("denied connection was not closed")
	}
	if gone := nextEvent(t, n); gone.Kind != EventDisconnected {
		t.Fatalf("expected disconnected event, got %v", gone.Kind)
	}
}

func TestPeerDisconnectFlushesReliable(t *testing.T) {
	n := newTestNetwork()
	c := newPipeConn()
	go func() { _ = n.Serve(context.Background(), c) }()

	c.in <- []byte("hello")
	ev := nextEvent(t, n)
	ev.Conn.Approve()
	nextFrame(t, c)

	_ = ev.Conn.Send([]byte("bye"), ReliableOrdered)
	_ = ev.Conn.Send([]byte("state"), UnreliableSequenced)
	ev.Conn.Disconnect("kicked")

	if got := nextFrame(t, c); string(got) != "bye" {
		t.Fatalf("expected reliable farewell, got %q", got)
	}
	gone := nextEvent(t, n)
	if gone.Kind != EventDisconnected || gone.Reason != "kicked" {
		t.Fatalf("unexpected event %+v", gone)
	}
	if err := ev.Conn.Send([]byte("late"), ReliableOrdered); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after disconnect, got %v", err)
	}
}

func TestNetworkShutdownRejectsNewConnections(t *testing.T) {
	n := newTestNetwork()
	n.Shutdown("bye")
	c := newPipeConn()
	if err := n.Serve(context.Background(), c); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestNetworkWaitCoversFarewellFrames(t *testing.T) {
	n := newTestNetwork()
	c := newPipeConn()
	served := make(chan error, 1)
	go func() { served <- n.Serve(context.Background(), c) }()

	c.in <- []byte("hello")
	ev := nextEvent(t, n)
	ev.Conn.Approve()
	nextFrame(t, c)

	_ = ev.Conn.Send([]byte("goodbye"), ReliableOrdered)
	ev.Conn.Disconnect("Server is shutting down...")
	n.Shutdown("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	select {
	case got := <-c.out:
		if string(got) != "goodbye" {
			t.Fatalf("unexpected farewell %q", got)
		}
	default:
		t.Fatal("farewell frame not written before Wait returned")
	}
	select {
	case <-c.closed:
	default:
		t.Fatal("connection still open after Wait")
	}
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestNetworkWaitWithoutPeers(t *testing.T) {
	n := newTestNetwork()
	n.Shutdown("bye")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestPeerBacklogDisconnects(t *testing.T) {
	p := newPeer("slow", newPipeConn())
	for i := 0; i < maxReliable; i++ {
		if err := p.Send([]byte{1}, ReliableOrdered); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, closing := p.closeReason(); closing {
		t.Fatal("peer closed before the backlog overflowed")
	}
	if err := p.Send([]byte{2}, ReliableOrdered); !errors.Is(err, ErrBacklog) {
		t.Fatalf("expected ErrBacklog, got %v", err)
	}
	reason, closing := p.closeReason()
	if !closing || reason != ReasonBacklog {
		t.Fatalf("expected backlog disconnect, got %q (%v)", reason, closing)
	}
}

func TestOutbox(t *testing.T) {
	var o outbox
	_ = o.push([]byte("r1"), ReliableOrdered)
	_ = o.push([]byte("s1"), UnreliableSequenced)
	_ = o.push([]byte("s2"), UnreliableSequenced)
	_ = o.push([]byte("r2"), ReliableOrdered)
	for i := 0; i < maxUnreliable+5; i++ {
		_ = o.push([]byte{byte(i)}, Unreliable)
	}

	got := o.drain()
	if len(got) != 2+maxUnreliable+1 {
		t.Fatalf("unexpected drain size %d", len(got))
	}
	if string(got[0]) != "r1" || string(got[1]) != "r2" {
		t.Fatalf("reliable order lost: %q %q", got[0], got[1])
	}
	if got[2][0] != 5 {
		t.Fatalf("expected oldest unreliable to be dropped, first is %d", got[2][0])
	}
	if string(got[len(got)-1]) != "s2" {
		t.Fatalf("expected newest sequenced message, got %q", got[len(got)-1])
	}
	if o.drain() != nil {
		t.Fatal("drain should empty the outbox")
	}

	o.close()
	if err := o.push([]byte("x"), ReliableOrdered); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
