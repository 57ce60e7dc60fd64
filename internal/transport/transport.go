// Package transport turns framed byte connections into the event stream the
// dispatcher consumes, and buffers outbound messages until the next flush.
package transport

import (
	"errors"
	"net/netip"
)

// DeliveryMethod selects how an outbound message is queued.
type DeliveryMethod int

const (
	// Unreliable messages may be dropped when the peer falls behind.
	Unreliable DeliveryMethod = iota
	// UnreliableSequenced keeps only the newest pending message.
	UnreliableSequenced
	// ReliableOrdered messages are delivered in order or the peer is dropped.
	ReliableOrdered
)

// EventKind classifies an inbound transport event.
type EventKind int

const (
	EventConnectionRequest EventKind = iota
	EventData
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionRequest:
		return "connection_request"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence on a connection.
type Event struct {
	Kind    EventKind
	Conn    Conn
	Payload []byte
	Reason  string
}

// Conn is the server side of one client connection.
type Conn interface {
	ID() string
	RemoteAddr() netip.AddrPort
	// Approve accepts a pending connection request.
	Approve()
	// Deny rejects a pending connection request with a reason.
	Deny(reason string)
	// Send queues a message until the next flush.
	Send(payload []byte, method DeliveryMethod) error
	// Disconnect flushes reliable messages and closes the connection.
	Disconnect(reason string)
}

var (
	ErrClosed   = errors.New("transport: connection closed")
	ErrBacklog  = errors.New("transport: reliable backlog exceeded")
	ErrShutdown = errors.New("transport: network shut down")
)
