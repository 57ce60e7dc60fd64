package transport

import "sync"

const (
	maxUnreliable = 64
	maxReliable   = 4096
)

// outbox holds messages queued for one peer between flushes.
type outbox struct {
	mu         sync.Mutex
	reliable   [][]byte
	unreliable [][]byte
	sequenced  []byte
	closed     bool
}

func (o *outbox) push(payload []byte, method DeliveryMethod) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	switch method {
	case ReliableOrdered:
		if len(o.reliable) >= maxReliable {
			return ErrBacklog
		}
		o.reliable = append(o.reliable, payload)
	case UnreliableSequenced:
		o.sequenced = payload
	default:
		if len(o.unreliable) >= maxUnreliable {
			// Drop the oldest.
			copy(o.unreliable, o.unreliable[1:])
			o.unreliable = o.unreliable[:len(o.unreliable)-1]
		}
		o.unreliable = append(o.unreliable, payload)
	}
	return nil
}

// drain returns pending messages: reliable in order, then unreliable, then
// the newest sequenced one.
func (o *outbox) drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.reliable) + len(o.unreliable)
	if o.sequenced != nil {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([][]byte, 0, n)
	out = append(out, o.reliable...)
	out = append(out, o.unreliable...)
	if o.sequenced != nil {
		out = append(out, o.sequenced)
	}
	o.reliable = nil
	o.unreliable = nil
	o.sequenced = nil
	return out
}

// close rejects further pushes and returns what is still pending reliably.
func (o *outbox) close() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	pending := o.reliable
	o.reliable = nil
	o.unreliable = nil
	o.sequenced = nil
	return pending
}
