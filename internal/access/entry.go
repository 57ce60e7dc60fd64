// Package access decides which players may connect.
//
// An entry is tried, in order, as an IP range (CIDR, "from-to" or a single
// address), as a numeric player id, and finally as an exact player name.
package access

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

var ErrInvalidEntry = errors.New("access: invalid entry")

// Kind tells how an entry matches.
type Kind int

const (
	KindRange Kind = iota
	KindID
	KindName
)

func (k Kind) String() string {
	switch k {
	case KindRange:
		return "range"
	case KindID:
		return "id"
	default:
		return "name"
	}
}

type ipRange struct {
	prefix   netip.Prefix
	from, to netip.Addr
}

func (r ipRange) contains(a netip.Addr) bool {
	if r.prefix.IsValid() {
		return r.prefix.Contains(a)
	}
	if a.BitLen() != r.from.BitLen() {
		return false
	}
	return a.Compare(r.from) >= 0 && a.Compare(r.to) <= 0
}

// Entry is a parsed access list line.
type Entry struct {
	Raw  string
	Kind Kind
	ID   uint64
	Name string
	rng  ipRange
}

// ParseEntry classifies a raw entry.
func ParseEntry(raw string) (Entry, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Entry{}, ErrInvalidEntry
	}
	if rng, ok := parseRange(s); ok {
		return Entry{Raw: s, Kind: KindRange, rng: rng}, nil
	}
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Entry{Raw: s, Kind: KindID, ID: id}, nil
	}
	return Entry{Raw: s, Kind: KindName, Name: s}, nil
}

func parseRange(s string) (ipRange, bool) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return ipRange{}, false
		}
		return ipRange{prefix: p.Masked()}, true
	}
	if from, to, ok := strings.Cut(s, "-"); ok {
		a, errA := netip.ParseAddr(strings.TrimSpace(from))
		b, errB := netip.ParseAddr(strings.TrimSpace(to))
		if errA != nil || errB != nil {
			return ipRange{}, false
		}
		a, b = a.Unmap(), b.Unmap()
		if a.BitLen() != b.BitLen() {
			return ipRange{}, false
		}
		if a.Compare(b) > 0 {
			a, b = b, a
		}
		return ipRange{from: a, to: b}, true
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return ipRange{}, false
	}
	a = a.Unmap()
	return ipRange{from: a, to: a}, true
}

// Matches reports whether the entry covers the given connection.
func (e Entry) Matches(addr netip.Addr, info proto.PlayerInfo) bool {
	switch e.Kind {
	case KindRange:
		return addr.IsValid() && e.rng.contains(addr.Unmap())
	case KindID:
		return info.ID == e.ID
	default:
		return info.Name == e.Name
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Raw)
}

// List is an immutable set of entries.
type List struct {
	entries []Entry
}

// NewList parses raw entries, skipping blank ones.
func NewList(raw []string) *List {
	l := &List{}
	for _, r := range raw {
		e, err := ParseEntry(r)
		if err != nil {
			continue
		}
		l.entries = append(l.entries, e)
	}
	return l
}

// Match reports whether any entry covers the connection.
func (l *List) Match(addr netip.Addr, info proto.PlayerInfo) bool {
	for _, e := range l.entries {
		if e.Matches(addr, info) {
			return true
		}
	}
	return false
}

// Raw returns the entries as written.
func (l *List) Raw() []string {
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Raw
	}
	return out
}

func (l *List) Len() int { return len(l.entries) }
