package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Network collects events from every served connection into one queue and
// pushes queued outbound messages on Flush.
type Network struct {
	events          chan Event
	approvalTimeout time.Duration
	log             *zerolog.Logger

	mu       sync.Mutex
	peers    map[string]*Peer
	shutdown bool
	done     chan struct{}
	serving  sync.WaitGroup
}

// NewNetwork creates a network whose event queue holds queueSize events.
func NewNetwork(queueSize int, approvalTimeout time.Duration, logger *zerolog.Logger) *Network {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if approvalTimeout <= 0 {
		approvalTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "network").Logger()
	return &Network{
		events:          make(chan Event, queueSize),
		approvalTimeout: approvalTimeout,
		log:             &l,
		peers:           make(map[string]*Peer),
		done:            make(chan struct{}),
	}
}

// Events is the inbound queue. It is never closed.
func (n *Network) Events() <-chan Event {
	return n.events
}

// Peers reports the number of approved connections.
func (n *Network) Peers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// Serve runs one connection until it closes. The first frame is the
// connection request; the connection proceeds once the request is approved.
func (n *Network) Serve(ctx context.Context, fc FrameConn) error {
	if n.isShutdown() {
		_ = fc.Close("Server is shutting down")
		return ErrShutdown
	}
	p := newPeer(uuid.NewString(), fc)
	logger := n.log.With().Str("peer", p.id).Str("addr", fc.RemoteAddr()).Logger()

	hctx, cancel := context.WithTimeout(ctx, n.approvalTimeout)
	hello, err := fc.ReadFrame(hctx)
	cancel()
	if err != nil {
		_ = fc.Close("handshake failed")
		return fmt.Errorf("read connection request: %w", err)
	}
	if !n.push(ctx, Event{Kind: EventConnectionRequest, Conn: p, Payload: hello}) {
		_ = fc.Close("Server is shutting down")
		return ErrShutdown
	}
	// Whatever happens next, the dispatcher learns that this connection is
	// gone. Requests it never approved are ignored there.
	defer func() {
		reason, _ := p.closeReason()
		n.push(context.Background(), Event{Kind: EventDisconnected, Conn: p, Reason: reason})
	}()

	d, err := n.awaitDecision(ctx, p)
	if err != nil {
		p.Disconnect(err.Error())
		_ = fc.Close(err.Error())
		return err
	}
	if !d.approved {
		p.Disconnect(d.reason)
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		_ = fc.WriteFrame(wctx, denialFrame(d.reason))
		cancel()
		_ = fc.Close(d.reason)
		logger.Debug().Str("reason", d.reason).Msg("connection denied")
		return nil
	}

	wctx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
	err = fc.WriteFrame(wctx, approvalFrame())
	cancelWrite()
	if err != nil {
		p.Disconnect("handshake failed")
		_ = fc.Close("handshake failed")
		return fmt.Errorf("write approval: %w", err)
	}

	if !n.register(p) {
		p.Disconnect("Server is shutting down")
		_ = fc.Close("Server is shutting down")
		return ErrShutdown
	}
	defer n.serving.Done()
	defer n.unregister(p)

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop(connCtx)
	}()

	err = n.readLoop(connCtx, p)
	if _, closing := p.closeReason(); !closing {
		p.Disconnect(readErrorReason(err))
	}
	select {
	case <-writerDone:
	case <-time.After(writeTimeout):
		_ = fc.Close("write stalled")
	}
	logger.Debug().Err(err).Msg("connection closed")
	return nil
}

func (n *Network) awaitDecision(ctx context.Context, p *Peer) (decision, error) {
	timer := time.NewTimer(n.approvalTimeout)
	defer timer.Stop()
	select {
	case d := <-p.decided:
		return d, nil
	case <-timer.C:
		return decision{}, errors.New("approval timed out")
	case <-n.done:
		return decision{}, ErrShutdown
	case <-ctx.Done():
		return decision{}, ctx.Err()
	}
}

func (n *Network) readLoop(ctx context.Context, p *Peer) error {
	for {
		payload, err := p.fc.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if !n.push(ctx, Event{Kind: EventData, Conn: p, Payload: payload}) {
			return ErrShutdown
		}
	}
}

func readErrorReason(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return "Connection closed"
	}
	return err.Error()
}

func (n *Network) push(ctx context.Context, ev Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-n.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Flush wakes every approved peer's writer to send its queued messages.
func (n *Network) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.signalFlush()
	}
}

// Shutdown disconnects every peer and stops accepting events.
func (n *Network) Shutdown(reason string) {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return
	}
	n.shutdown = true
	close(n.done)
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.Disconnect(reason)
	}
	n.log.Info().Int("peers", len(peers)).Msg("network shut down")
}

// Wait blocks until every approved connection has finished, including its
// farewell frames, or until ctx is done. Call it after Shutdown.
func (n *Network) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) isShutdown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shutdown
}

func (n *Network) register(p *Peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown {
		return false
	}
	// Counted under the lock so Add never races with Wait after Shutdown.
	n.serving.Add(1)
	n.peers[p.id] = p
	return true
}

func (n *Network) unregister(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, p.id)
}
