package core

import (
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

func TestValidTransition(t *testing.T) {
	states := []proto.RoomState{proto.StateSelectingSong, proto.StatePreparing, proto.StateInGame, proto.StateResults}
	for i, from := range states {
		for j, to := range states {
			want := i == j || j == (i+1)%len(states)
			if got := validTransition(from, to); got != want {
				t.Errorf("validTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name  string
		votes []vote
		want  string
		ok    bool
	}{
		{"empty", nil, "", false},
		{"majority", []vote{{1, songA}, {2, songB}, {3, songA}}, "A", true},
		{"majority later", []vote{{1, songB}, {2, songA}, {3, songA}}, "A", true},
		{"tie keeps first voted", []vote{{1, songB}, {2, songA}}, "B", true},
		{"three way tie", []vote{{1, songC}, {2, songA}, {3, songB}}, "C", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tally(tt.votes)
			if ok != tt.ok || got.LevelID != tt.want {
				t.Fatalf("tally = %q %v, want %q %v", got.LevelID, ok, tt.want, tt.ok)
			}
		})
	}
}

// The random room scenario: a room with a single 120s song is picked at once,
// played with the start grace, held in Results for 15s and then re-rolled.
func TestRandomRoomLifecycle(t *testing.T) {
	th := newTestHub(t, Options{})
	host, conn := th.admit("host")
	id, err := th.CreateRoom(proto.RoomSettings{
		Name:           "random",
		SelectionType:  proto.SelectionRandom,
		AvailableSongs: []proto.SongInfo{songA},
	}, host)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	th.mustJoin(t, host, id, "")
	r := th.room(t, id)

	var states []proto.RoomState
	step := func(d time.Duration) {
		th.clock.Add(d)
		th.Update()
		states = append(states, r.State())
	}

	step(0)
	if r.State() != proto.StatePreparing || r.selectedSong == nil || r.selectedSong.LevelID != "A" {
		t.Fatalf("expected Preparing with A, got %s %+v", r.State(), r.selectedSong)
	}
	if song := proto.DecodeSongOption(conn.last(t, proto.CommandSetSelectedSong)); song == nil || song.LevelID != "A" {
		t.Fatalf("SetSelectedSong broadcast missing song: %+v", song)
	}
	rr := conn.last(t, proto.CommandPlayerReady)
	if ready, total := rr.Int32(), rr.Int32(); ready != 1 || total != 1 {
		t.Fatalf("expected host ready 1/1, got %d/%d", ready, total)
	}

	start := songA
	start.Duration += float32(StartGrace.Seconds())
	if err := th.StartLevel(host, 2, start); err != nil {
		t.Fatalf("start level: %v", err)
	}
	states = append(states, r.State())
	if r.State() != proto.StateInGame || r.difficulty != 2 {
		t.Fatalf("expected InGame, got %s", r.State())
	}

	step(122 * time.Second)
	if r.State() != proto.StateInGame {
		t.Fatalf("left InGame before song and grace elapsed")
	}
	step(600 * time.Millisecond)
	if r.State() != proto.StateResults {
		t.Fatalf("expected Results after 122.5s, got %s", r.State())
	}

	step(14 * time.Second)
	if r.State() != proto.StateResults {
		t.Fatal("left Results too early")
	}
	conn.reset()
	step(time.Second)
	if r.State() != proto.StateSelectingSong || r.selectedSong != nil {
		t.Fatalf("expected SelectingSong with no song, got %s %+v", r.State(), r.selectedSong)
	}
	if song := proto.DecodeSongOption(conn.last(t, proto.CommandSetSelectedSong)); song != nil {
		t.Fatalf("expected null song broadcast, got %+v", song)
	}

	step(0)
	if r.State() != proto.StatePreparing {
		t.Fatalf("expected a new random pick, got %s", r.State())
	}

	prev := proto.StateSelectingSong
	for _, s := range states {
		if !validTransition(prev, s) {
			t.Fatalf("invalid transition %s -> %s in %v", prev, s, states)
		}
		prev = s
	}
}

func TestRandomRoomWithoutSongsStaysSelecting(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{Name: "empty", SelectionType: proto.SelectionRandom}, host)
	th.mustJoin(t, host, id, "")

	th.Update()
	if s := th.room(t, id).State(); s != proto.StateSelectingSong {
		t.Fatalf("expected SelectingSong, got %s", s)
	}
}

func TestVotingPicksMajority(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "vote",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA, songB, songC},
	}, host)
	th.mustJoin(t, host, id, "")

	var voters []*Client
	for _, name := range []string{"p1", "p2", "p3"} {
		c, _ := th.admit(name)
		th.mustJoin(t, c, id, "")
		voters = append(voters, c)
	}
	_ = th.SetSelectedSong(voters[0], &songB)
	_ = th.SetSelectedSong(voters[1], &songA)
	_ = th.SetSelectedSong(voters[2], &songA)
	// Changing a vote keeps a single entry per player.
	_ = th.SetSelectedSong(voters[0], &songB)

	r := th.room(t, id)
	if len(r.votes) != 3 {
		t.Fatalf("expected 3 votes, got %d", len(r.votes))
	}

	th.clock.Add(29 * time.Second)
	th.Update()
	if r.State() != proto.StateSelectingSong {
		t.Fatal("voting closed early")
	}
	th.clock.Add(time.Second)
	th.Update()
	if r.State() != proto.StatePreparing || r.selectedSong.LevelID != "A" {
		t.Fatalf("expected A to win, got %s %+v", r.State(), r.selectedSong)
	}
	if len(r.votes) != 0 {
		t.Fatal("votes must be cleared")
	}
}

func TestVotingWithoutVotesPicksRandomSong(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "vote",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA, songB},
	}, host)
	th.mustJoin(t, host, id, "")

	th.clock.Add(VotingTime)
	th.Update()
	r := th.room(t, id)
	if r.State() != proto.StatePreparing || r.selectedSong == nil {
		t.Fatalf("expected a random pick, got %s %+v", r.State(), r.selectedSong)
	}
}

func TestHostOnlyOperations(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{Name: "manual", AvailableSongs: []proto.SongInfo{songA}}, host)
	th.mustJoin(t, host, id, "")
	guest, _ := th.admit("guest")
	th.mustJoin(t, guest, id, "")
	r := th.room(t, id)

	if err := th.SetSelectedSong(guest, &songA); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := th.StartLevel(guest, 0, songA); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := th.TransferHost(guest, guest.Info); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := th.DestroyRoomBy(guest); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if r.State() != proto.StateSelectingSong || !r.isHost(host.Info) {
		t.Fatal("non-host commands changed the room")
	}

	if err := th.StartLevel(host, 0, songA); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("start from SelectingSong: expected ErrInvalidState, got %v", err)
	}
	if err := th.SetSelectedSong(host, &songA); err != nil {
		t.Fatalf("select: %v", err)
	}
	if r.State() != proto.StatePreparing {
		t.Fatalf("expected Preparing, got %s", r.State())
	}
	if err := th.SetSelectedSong(host, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reset from Preparing: expected ErrInvalidState, got %v", err)
	}

	if err := th.TransferHost(host, proto.PlayerInfo{ID: 999}); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if err := th.TransferHost(host, guest.Info); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !r.isHost(guest.Info) {
		t.Fatal("host not transferred")
	}
}

func TestReadyIsIdempotent(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{Name: "r"}, host)
	th.mustJoin(t, host, id, "")
	guest, conn := th.admit("guest")
	th.mustJoin(t, guest, id, "")

	for i := 0; i < 2; i++ {
		if err := th.PlayerReady(guest, true); err != nil {
			t.Fatalf("ready: %v", err)
		}
		r := conn.last(t, proto.CommandPlayerReady)
		if ready, total := r.Int32(), r.Int32(); ready != 1 || total != 2 {
			t.Fatalf("call %d: expected 1/2, got %d/%d", i, ready, total)
		}
	}
	if n := len(conn.packets(proto.CommandPlayerReady)); n != 2 {
		t.Fatalf("expected a broadcast per call, got %d", n)
	}
	_ = th.PlayerReady(guest, false)
	_ = th.PlayerReady(guest, false)
	r := conn.last(t, proto.CommandPlayerReady)
	if ready := r.Int32(); ready != 0 {
		t.Fatalf("expected 0 ready, got %d", ready)
	}
}

func TestHostMigratesWhenHostLeaves(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{Name: "r"}, host)
	th.mustJoin(t, host, id, "")
	a, _ := th.admit("a")
	th.mustJoin(t, a, id, "")
	b, _ := th.admit("b")
	th.mustJoin(t, b, id, "")
	r := th.room(t, id)

	if err := th.LeaveRoom(host); err != nil {
		t.Fatalf("leave: %v", err)
	}
	checkHostIsMember(t, r)
	if !r.isHost(a.Info) {
		t.Fatalf("expected a to be host, got %+v", r.host)
	}

	th.Disconnect(a)
	checkHostIsMember(t, r)
	if !r.isHost(b.Info) {
		t.Fatalf("expected b to be host, got %+v", r.host)
	}
	if host.InRoom() || host.Info.State != proto.PlayerLobby {
		t.Fatal("leaving host should be back in the lobby")
	}
}

func TestFirstJoinerHostsHostlessRoom(t *testing.T) {
	th := newTestHub(t, Options{})
	id := th.CreateHostlessRoom(proto.RoomSettings{Name: "open"})
	c, _ := th.admit("first")
	th.mustJoin(t, c, id, "")
	r := th.room(t, id)
	if !r.isHost(c.Info) {
		t.Fatalf("expected first joiner as host, got %+v", r.host)
	}
}

func TestProgressBroadcastEachTick(t *testing.T) {
	th := newTestHub(t, Options{})
	host, conn := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "v",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA},
	}, host)
	th.mustJoin(t, host, id, "")

	th.clock.Add(10 * time.Second)
	th.Update()
	ps := conn.packets(proto.CommandUpdatePlayerInfo)
	if len(ps) != 1 || ps[0].method != transport.UnreliableSequenced {
		t.Fatalf("expected one sequenced progress packet, got %+v", ps)
	}
	r := proto.NewReader(ps[0].payload)
	r.Byte()
	elapsed, total := r.Float32(), r.Float32()
	players := proto.DecodePlayerList(r)
	if elapsed != 10 || total != 30 || len(players) != 1 || players[0].Name != "host" {
		t.Fatalf("unexpected progress %v/%v %+v", elapsed, total, players)
	}
}

func TestVotesCastDuringResultsCountInNextWindow(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "vote",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA, songB, songC},
	}, host)
	th.mustJoin(t, host, id, "")
	guest, _ := th.admit("guest")
	th.mustJoin(t, guest, id, "")
	r := th.room(t, id)

	if err := th.SetSelectedSong(host, &songA); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := th.StartLevel(host, 0, songA); err != nil {
		t.Fatalf("start level: %v", err)
	}
	th.clock.Add(songLength(songA))
	th.Update()
	if r.State() != proto.StateResults {
		t.Fatalf("expected Results, got %s", r.State())
	}

	if err := th.SetSelectedSong(guest, &songC); err != nil {
		t.Fatalf("vote: %v", err)
	}
	th.clock.Add(ResultsShowTime)
	th.Update()
	if r.State() != proto.StateSelectingSong {
		t.Fatalf("expected SelectingSong, got %s", r.State())
	}
	if len(r.votes) != 1 {
		t.Fatalf("vote cast during Results was dropped: %+v", r.votes)
	}

	th.clock.Add(VotingTime)
	th.Update()
	if r.State() != proto.StatePreparing || r.selectedSong == nil || r.selectedSong.LevelID != "C" {
		t.Fatalf("expected C to win, got %s %+v", r.State(), r.selectedSong)
	}
}

func TestHostResetKeepsVotes(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "vote",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA, songB},
	}, host)
	th.mustJoin(t, host, id, "")
	guest, _ := th.admit("guest")
	th.mustJoin(t, guest, id, "")
	r := th.room(t, id)

	_ = th.SetSelectedSong(guest, &songB)
	th.clock.Add(20 * time.Second)
	if err := th.SetSelectedSong(host, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(r.votes) != 1 {
		t.Fatalf("host reset dropped votes: %+v", r.votes)
	}

	// The reset restarts the window.
	th.clock.Add(VotingTime - time.Second)
	th.Update()
	if r.State() != proto.StateSelectingSong {
		t.Fatal("voting closed before the restarted window ended")
	}
	th.clock.Add(time.Second)
	th.Update()
	if r.State() != proto.StatePreparing || r.selectedSong.LevelID != "B" {
		t.Fatalf("expected B to win, got %s %+v", r.State(), r.selectedSong)
	}
}

func TestBroadcastSurvivesFailedSend(t *testing.T) {
	th := newTestHub(t, Options{})
	host, hostConn := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{Name: "r"}, host)
	th.mustJoin(t, host, id, "")
	gone, goneConn := th.admit("gone")
	th.mustJoin(t, gone, id, "")
	last, lastConn := th.admit("last")
	th.mustJoin(t, last, id, "")

	goneConn.Disconnect("test")
	hostConn.reset()
	lastConn.reset()
	if err := th.PlayerReady(host, true); err != nil {
		t.Fatalf("ready: %v", err)
	}

	if n := len(goneConn.packets(proto.CommandPlayerReady)); n != 0 {
		t.Fatalf("closed conn recorded %d packets", n)
	}
	for _, c := range []*fakeConn{hostConn, lastConn} {
		r := c.last(t, proto.CommandPlayerReady)
		if ready, total := r.Int32(), r.Int32(); ready != 1 || total != 3 {
			t.Fatalf("%s: expected 1/3, got %d/%d", c.id, ready, total)
		}
	}
}

func TestPlayerLeftWhilePreparing(t *testing.T) {
	th := newTestHub(t, Options{})
	host, _ := th.admit("host")
	id, _ := th.CreateRoom(proto.RoomSettings{
		Name:           "vote",
		SelectionType:  proto.SelectionVoting,
		AvailableSongs: []proto.SongInfo{songA, songB},
	}, host)
	th.mustJoin(t, host, id, "")
	leaver, _ := th.admit("leaver")
	th.mustJoin(t, leaver, id, "")
	stayer, stayerConn := th.admit("stayer")
	th.mustJoin(t, stayer, id, "")
	r := th.room(t, id)

	if err := th.SetSelectedSong(host, &songA); err != nil {
		t.Fatalf("select: %v", err)
	}
	_ = th.PlayerReady(leaver, true)
	_ = th.SetSelectedSong(leaver, &songB)
	if len(r.ready) != 2 || len(r.votes) != 1 {
		t.Fatalf("setup: ready %v votes %+v", r.ready, r.votes)
	}

	stayerConn.reset()
	if err := th.LeaveRoom(leaver); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(r.votes) != 0 {
		t.Fatalf("leaver's vote kept: %+v", r.votes)
	}
	if len(r.ready) != 1 || r.ready[0] != host.Info.ID {
		t.Fatalf("expected only host ready, got %v", r.ready)
	}
	rr := stayerConn.last(t, proto.CommandPlayerReady)
	if ready, total := rr.Int32(), rr.Int32(); ready != 1 || total != 2 {
		t.Fatalf("expected 1/2 after leave, got %d/%d", ready, total)
	}
	if r.State() != proto.StatePreparing {
		t.Fatalf("expected Preparing, got %s", r.State())
	}
}
