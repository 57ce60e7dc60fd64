package core

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

type sentPacket struct {
	payload []byte
	method  transport.DeliveryMethod
}

type fakeConn struct {
	id   string
	addr netip.AddrPort

	mu           sync.Mutex
	sent         []sentPacket
	disconnected string
}

func newFakeConn(n int) *fakeConn {
	return &fakeConn{
		id:   fmt.Sprintf("conn-%d", n),
		addr: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(n)}), uint16(40000+n)),
	}
}

func (c *fakeConn) ID() string                 { return c.id }
func (c *fakeConn) RemoteAddr() netip.AddrPort { return c.addr }
func (c *fakeConn) Approve()                   {}
func (c *fakeConn) Deny(string)                {}

func (c *fakeConn) Send(payload []byte, method transport.DeliveryMethod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected != "" {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, sentPacket{payload: payload, method: method})
	return nil
}

func (c *fakeConn) Disconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected == "" {
		c.disconnected = reason
	}
}

// packets returns every payload sent with the given tag.
func (c *fakeConn) packets(cmd proto.CommandType) []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentPacket
	for _, p := range c.sent {
		if len(p.payload) > 0 && proto.CommandType(p.payload[0]) == cmd {
			out = append(out, p)
		}
	}
	return out
}

// last returns a reader positioned after the tag of the newest cmd packet.
func (c *fakeConn) last(t *testing.T, cmd proto.CommandType) *proto.Reader {
	t.Helper()
	ps := c.packets(cmd)
	if len(ps) == 0 {
		t.Fatalf("%s: no %s packet sent", c.id, cmd)
	}
	r := proto.NewReader(ps[len(ps)-1].payload)
	r.Byte()
	return r
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

type recordedPublish struct {
	roomID uint32
	cmd    proto.CommandType
	data   any
}

type recordingPublisher struct {
	events []recordedPublish
}

func (p *recordingPublisher) Publish(roomID uint32, cmd proto.CommandType, data any) {
	p.events = append(p.events, recordedPublish{roomID: roomID, cmd: cmd, data: data})
}

type testHub struct {
	*Hub
	clock *clock.Mock
	pub   *recordingPublisher
	n     int
}

func newTestHub(t *testing.T, opts Options) *testHub {
	t.Helper()
	mock := clock.NewMock()
	pub := &recordingPublisher{}
	opts.Clock = mock
	opts.Publisher = pub
	opts.Rand = rand.New(rand.NewPCG(1, 2))
	return &testHub{Hub: NewHub(opts), clock: mock, pub: pub}
}

func (th *testHub) admit(name string) (*Client, *fakeConn) {
	th.n++
	conn := newFakeConn(th.n)
	c := th.Admit(conn, proto.PlayerInfo{ID: uint64(1000 + th.n), Name: name, State: proto.PlayerLobby})
	return c, conn
}

func (th *testHub) mustJoin(t *testing.T, c *Client, roomID uint32, password string) {
	t.Helper()
	res, err := th.JoinRoom(c, roomID, password)
	if err != nil || res != proto.JoinJoined {
		t.Fatalf("%s join room %d: %v %v", c.Info.Name, roomID, res, err)
	}
}

func (th *testHub) room(t *testing.T, id uint32) *Room {
	t.Helper()
	th.mu.Lock()
	defer th.mu.Unlock()
	r := th.rooms.find(id)
	if r == nil {
		t.Fatalf("room %d not found", id)
	}
	return r
}

// checkHostIsMember asserts that a non-empty room is hosted by a member.
func checkHostIsMember(t *testing.T, r *Room) {
	t.Helper()
	if len(r.clients) == 0 {
		return
	}
	if r.host == nil || r.member(r.host.ID) == nil {
		t.Fatalf("room %d host %+v is not a member", r.ID, r.host)
	}
}

var (
	songA = proto.SongInfo{LevelID: "A", SongName: "Alpha", Duration: 120}
	songB = proto.SongInfo{LevelID: "B", SongName: "Beta", Duration: 90}
	songC = proto.SongInfo{LevelID: "C", SongName: "Gamma", Duration: 60}
)
