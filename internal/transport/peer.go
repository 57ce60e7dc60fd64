package transport

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

const writeTimeout = 5 * time.Second

// ReasonBacklog is the close reason of a peer that stopped reading.
const ReasonBacklog = "Too many pending messages"

// FrameConn is a message-framed byte connection supplied by an adapter.
type FrameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
	Close(reason string) error
	RemoteAddr() string
}

type decision struct {
	approved bool
	reason   string
}

// Handshake replies.
const (
	handshakeApproved byte = 0
	handshakeDenied   byte = 1
)

func approvalFrame() []byte {
	return []byte{handshakeApproved}
}

func denialFrame(reason string) []byte {
	w := &proto.Writer{}
	w.PutByte(handshakeDenied)
	w.PutString(reason)
	return w.Bytes()
}

// Peer is a Conn backed by a FrameConn.
type Peer struct {
	id   string
	addr netip.AddrPort
	fc   FrameConn
	out  outbox

	decided    chan decision
	decideOnce sync.Once

	flush     chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	reason    string
}

func newPeer(id string, fc FrameConn) *Peer {
	addr, _ := netip.ParseAddrPort(fc.RemoteAddr())
	return &Peer{
		id:      id,
		addr:    addr,
		fc:      fc,
		decided: make(chan decision, 1),
		flush:   make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) RemoteAddr() netip.AddrPort { return p.addr }

func (p *Peer) Approve() { p.decide(decision{approved: true}) }

func (p *Peer) Deny(reason string) { p.decide(decision{reason: reason}) }

func (p *Peer) decide(d decision) {
	p.decideOnce.Do(func() {
		p.decided <- d
	})
}

// Send queues payload. A peer whose reliable backlog overflows is
// disconnected.
func (p *Peer) Send(payload []byte, method DeliveryMethod) error {
	err := p.out.push(payload, method)
	if errors.Is(err, ErrBacklog) {
		p.Disconnect(ReasonBacklog)
	}
	return err
}

func (p *Peer) Disconnect(reason string) {
	p.closeOnce.Do(func() {
		p.reason = reason
		close(p.closing)
	})
}

// closeReason is valid once closing is closed.
func (p *Peer) closeReason() (string, bool) {
	select {
	case <-p.closing:
		return p.reason, true
	default:
		return "", false
	}
}

func (p *Peer) signalFlush() {
	select {
	case p.flush <- struct{}{}:
	default:
	}
}

func (p *Peer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.flush:
			if err := p.writeAll(ctx, p.out.drain()); err != nil {
				p.out.close()
				_ = p.fc.Close("write failed")
				return
			}
		case <-p.closing:
			// The serving context may already be gone; give the farewell
			// frames their own deadline.
			_ = p.writeAll(context.Background(), p.out.close())
			_ = p.fc.Close(p.reason)
			return
		}
	}
}

func (p *Peer) writeAll(ctx context.Context, frames [][]byte) error {
	for _, f := range frames {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := p.fc.WriteFrame(wctx, f)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}
