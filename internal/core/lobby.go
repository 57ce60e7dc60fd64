package core

import (
	"net/netip"
	"slices"

	"github.com/samber/lo"
)

// Lobby holds connected clients that are not in a room, in arrival order.
type Lobby struct {
	clients []*Client
}

func (l *Lobby) add(c *Client) bool {
	if l.contains(c) {
		return false
	}
	l.clients = append(l.clients, c)
	return true
}

func (l *Lobby) remove(c *Client) bool {
	i := lo.IndexOf(l.clients, c)
	if i < 0 {
		return false
	}
	l.clients = slices.Delete(l.clients, i, i+1)
	return true
}

func (l *Lobby) contains(c *Client) bool {
	return lo.Contains(l.clients, c)
}

// findByEndpoint returns the client connected from addr, if any.
func (l *Lobby) findByEndpoint(addr netip.AddrPort) *Client {
	c, _ := lo.Find(l.clients, func(c *Client) bool {
		return c.Conn.RemoteAddr() == addr
	})
	return c
}

func (l *Lobby) Len() int {
	return len(l.clients)
}

func (l *Lobby) snapshot() []*Client {
	return slices.Clone(l.clients)
}
