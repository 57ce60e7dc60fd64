package core

import (
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/transport"
)

const (
	// ResultsShowTime is how long a room stays in Results.
	ResultsShowTime = 15 * time.Second
	// VotingTime is the length of a voting window.
	VotingTime = 30 * time.Second
	// StartGrace is added to a song's duration when a level starts.
	StartGrace = 2500 * time.Millisecond
)

type vote struct {
	player uint64
	song   proto.SongInfo
}

// Room is one game session. A room only moves forward through
// SelectingSong -> Preparing -> InGame -> Results -> SelectingSong.
// All methods require the hub lock.
type Room struct {
	ID        uint32
	Settings  proto.RoomSettings
	Protected bool

	hub       *Hub
	log       zerolog.Logger
	createdAt time.Time
	hostless  bool
	destroyed bool

	state        proto.RoomState
	host         *proto.PlayerInfo
	clients      []*Client
	selectedSong *proto.SongInfo
	difficulty   byte
	ready        []uint64
	votes        []vote

	songStart    time.Time
	resultsStart time.Time
	votingStart  time.Time
}

func newRoom(h *Hub, id uint32, settings proto.RoomSettings, host *proto.PlayerInfo, now time.Time) *Room {
	settings.AvailableSongs = slices.Clone(settings.AvailableSongs)
	r := &Room{
		ID:        id,
		Settings:  settings,
		hub:       h,
		log:       h.log.With().Uint32("room", id).Str("room_name", settings.Name).Logger(),
		createdAt: now,
		hostless:  host == nil,
		state:     proto.StateSelectingSong,
	}
	if host != nil {
		hc := *host
		r.host = &hc
	}
	if settings.SelectionType == proto.SelectionVoting {
		r.votingStart = now
	}
	return r
}

// State returns the lifecycle position.
func (r *Room) State() proto.RoomState { return r.state }

// Host returns a copy of the host, or nil.
func (r *Room) Host() *proto.PlayerInfo {
	if r.host == nil {
		return nil
	}
	h := *r.host
	return &h
}

// Info is the public summary of the room.
func (r *Room) Info() proto.RoomInfo {
	info := proto.RoomInfo{
		RoomID:             r.ID,
		Name:               r.Settings.Name,
		UsePassword:        r.Settings.UsePassword,
		Players:            int32(len(r.clients)),
		MaxPlayers:         r.Settings.MaxPlayers,
		NoFail:             r.Settings.NoFail,
		State:              r.state,
		SelectionType:      r.Settings.SelectionType,
		Host:               r.Host(),
		SelectedDifficulty: r.difficulty,
	}
	if r.selectedSong != nil {
		s := *r.selectedSong
		info.SelectedSong = &s
	}
	return info
}

func (r *Room) member(playerID uint64) *Client {
	c, _ := lo.Find(r.clients, func(c *Client) bool { return c.Info.ID == playerID })
	return c
}

func (r *Room) isHost(p proto.PlayerInfo) bool {
	return r.host != nil && r.host.Same(p)
}

func (r *Room) full() bool {
	return r.Settings.MaxPlayers > 0 && len(r.clients) >= int(r.Settings.MaxPlayers)
}

func validTransition(from, to proto.RoomState) bool {
	if from == to {
		return true
	}
	switch from {
	case proto.StateSelectingSong:
		return to == proto.StatePreparing
	case proto.StatePreparing:
		return to == proto.StateInGame
	case proto.StateInGame:
		return to == proto.StateResults
	case proto.StateResults:
		return to == proto.StateSelectingSong
	}
	return false
}

func (r *Room) setState(to proto.RoomState) bool {
	if !validTransition(r.state, to) {
		r.log.Error().Stringer("from", r.state).Stringer("to", to).Msg("rejected room state transition")
		return false
	}
	if r.state != to {
		r.log.Debug().Stringer("from", r.state).Stringer("to", to).Msg("room state changed")
	}
	r.state = to
	return true
}

// update advances time-based transitions and sends the per-tick progress.
func (r *Room) update(now time.Time) {
	switch r.state {
	case proto.StateInGame:
		if r.selectedSong == nil || now.Sub(r.songStart) >= songLength(*r.selectedSong) {
			r.setState(proto.StateResults)
			r.resultsStart = now
			r.broadcastInfo()
		}
	case proto.StateResults:
		if now.Sub(r.resultsStart) >= ResultsShowTime {
			r.setState(proto.StateSelectingSong)
			r.selectedSong = nil
			if r.Settings.SelectionType == proto.SelectionVoting {
				r.votingStart = now
			}
			r.broadcastSelectedSong()
		}
	case proto.StateSelectingSong:
		switch r.Settings.SelectionType {
		case proto.SelectionRandom:
			if song, ok := r.randomSong(); ok {
				r.enterPreparing(song)
			}
		case proto.SelectionVoting:
			if now.Sub(r.votingStart) >= VotingTime {
				r.closeVoting(now)
			}
		}
	}
	r.broadcastProgress(now)
}

func songLength(s proto.SongInfo) time.Duration {
	return time.Duration(float64(s.Duration) * float64(time.Second))
}

// phaseTimes reports elapsed and total seconds of the current phase.
func (r *Room) phaseTimes(now time.Time) (float32, float32) {
	switch r.state {
	case proto.StateInGame:
		if r.selectedSong != nil {
			return float32(now.Sub(r.songStart).Seconds()), r.selectedSong.Duration
		}
	case proto.StateResults:
		return float32(now.Sub(r.resultsStart).Seconds()), float32(ResultsShowTime.Seconds())
	case proto.StateSelectingSong:
		if r.Settings.SelectionType == proto.SelectionVoting {
			return float32(now.Sub(r.votingStart).Seconds()), float32(VotingTime.Seconds())
		}
	}
	return 0, 0
}

func (r *Room) randomSong() (proto.SongInfo, bool) {
	songs := r.Settings.AvailableSongs
	if len(songs) == 0 {
		return proto.SongInfo{}, false
	}
	return songs[r.hub.rnd.IntN(len(songs))], true
}

// closeVoting picks the most voted song, the earliest voted one on a tie,
// or a random song when nobody voted.
func (r *Room) closeVoting(now time.Time) {
	song, ok := tally(r.votes)
	if !ok {
		song, ok = r.randomSong()
	}
	r.votes = nil
	if !ok {
		r.votingStart = now
		return
	}
	r.enterPreparing(song)
}

func tally(votes []vote) (proto.SongInfo, bool) {
	if len(votes) == 0 {
		return proto.SongInfo{}, false
	}
	counts := make(map[string]int, len(votes))
	var order []proto.SongInfo
	for _, v := range votes {
		if counts[v.song.LevelID] == 0 {
			order = append(order, v.song)
		}
		counts[v.song.LevelID]++
	}
	best := order[0]
	for _, s := range order[1:] {
		if counts[s.LevelID] > counts[best.LevelID] {
			best = s
		}
	}
	return best, true
}

func (r *Room) castVote(playerID uint64, song proto.SongInfo) {
	for i := range r.votes {
		if r.votes[i].player == playerID {
			r.votes[i].song = song
			return
		}
	}
	r.votes = append(r.votes, vote{player: playerID, song: song})
}

func (r *Room) dropVote(playerID uint64) {
	r.votes = slices.DeleteFunc(r.votes, func(v vote) bool { return v.player == playerID })
}

func (r *Room) enterPreparing(song proto.SongInfo) {
	s := song
	r.selectedSong = &s
	r.setState(proto.StatePreparing)
	r.ready = r.ready[:0]
	r.broadcastSelectedSong()
	if r.host != nil {
		r.ready = append(r.ready, r.host.ID)
	}
	r.broadcastReady()
}

// setSelectedSong handles a SetSelectedSong command from sender.
func (r *Room) setSelectedSong(sender proto.PlayerInfo, song *proto.SongInfo, now time.Time) error {
	if !r.isHost(sender) {
		if r.Settings.SelectionType != proto.SelectionVoting {
			r.log.Warn().Str("player", sender.Name).Msg("non-host tried to select a song")
			return ErrNotHost
		}
		if song == nil {
			r.dropVote(sender.ID)
		} else {
			r.castVote(sender.ID, *song)
		}
		return nil
	}

	// A host backing out of Preparing under Manual or Voting has to pick
	// another song; only a Random room rerolls on a reset.
	if song == nil {
		switch {
		case r.Settings.SelectionType == proto.SelectionRandom &&
			(r.state == proto.StateSelectingSong || r.state == proto.StatePreparing):
			if s, ok := r.randomSong(); ok {
				r.enterPreparing(s)
			}
		case r.state == proto.StateSelectingSong:
			r.selectedSong = nil
			if r.Settings.SelectionType == proto.SelectionVoting {
				r.votingStart = now
			}
			r.broadcastSelectedSong()
		default:
			r.log.Warn().Stringer("state", r.state).Msg("song reset ignored")
			return ErrInvalidState
		}
		return nil
	}

	if r.state != proto.StateSelectingSong && r.state != proto.StatePreparing {
		r.log.Warn().Stringer("state", r.state).Msg("song selection ignored")
		return ErrInvalidState
	}
	r.enterPreparing(*song)
	return nil
}

func (r *Room) startLevel(sender proto.PlayerInfo, difficulty byte, song proto.SongInfo, now time.Time) error {
	if !r.isHost(sender) {
		r.log.Warn().Str("player", sender.Name).Msg("non-host tried to start the level")
		return ErrNotHost
	}
	if r.state != proto.StatePreparing {
		r.log.Warn().Stringer("state", r.state).Msg("level start ignored")
		return ErrInvalidState
	}
	s := song
	r.selectedSong = &s
	r.difficulty = difficulty
	r.songStart = now
	r.ready = r.ready[:0]
	r.setState(proto.StateInGame)
	r.broadcast(proto.StartLevelPacket(difficulty, s), transport.ReliableOrdered)
	r.hub.publish(r.ID, proto.CommandStartLevel, SongSelection{Song: s, Difficulty: difficulty})
	return nil
}

func (r *Room) transferHost(sender, newHost proto.PlayerInfo) error {
	if !r.isHost(sender) {
		r.log.Warn().Str("player", sender.Name).Msg("non-host tried to transfer host")
		return ErrNotHost
	}
	m := r.member(newHost.ID)
	if m == nil {
		return ErrNotMember
	}
	r.forceTransferHost(m.Info)
	return nil
}

func (r *Room) forceTransferHost(newHost proto.PlayerInfo) {
	h := newHost
	r.host = &h
	r.log.Info().Str("host", h.Name).Msg("host changed")
	r.broadcastInfo()
}

func (r *Room) readyStateChanged(sender proto.PlayerInfo, ready bool) error {
	if r.member(sender.ID) == nil {
		return ErrNotMember
	}
	i := slices.Index(r.ready, sender.ID)
	switch {
	case ready && i < 0:
		r.ready = append(r.ready, sender.ID)
	case !ready && i >= 0:
		r.ready = slices.Delete(r.ready, i, i+1)
	}
	r.broadcastReady()
	return nil
}

func (r *Room) destroyBy(sender proto.PlayerInfo) error {
	if !r.isHost(sender) {
		r.log.Warn().Str("player", sender.Name).Msg("non-host tried to destroy the room")
		return ErrNotHost
	}
	r.hub.requestDestroy(r.ID, "Room destroyed by host")
	return nil
}

func (r *Room) playerJoined(c *Client) {
	r.clients = append(r.clients, c)
	if r.host == nil || r.member(r.host.ID) == nil {
		h := c.Info
		r.host = &h
	}
	r.broadcastInfo()
	if r.state == proto.StatePreparing {
		r.broadcastReady()
	}
}

func (r *Room) playerLeft(c *Client) {
	i := lo.IndexOf(r.clients, c)
	if i < 0 {
		return
	}
	r.dropVote(c.Info.ID)
	r.ready = slices.DeleteFunc(r.ready, func(id uint64) bool { return id == c.Info.ID })
	r.clients = slices.Delete(r.clients, i, i+1)

	if len(r.clients) == 0 {
		r.host = nil
		if !r.Protected && !r.hub.keepEmpty {
			r.hub.requestDestroy(r.ID, "Room is empty")
		}
		return
	}
	if r.isHost(c.Info) {
		r.forceTransferHost(r.clients[0].Info)
	} else {
		r.broadcastInfo()
	}
	if r.state == proto.StatePreparing {
		r.broadcastReady()
	}
}

func (r *Room) relayEvent(sender *Client, header, data string) {
	packet := proto.EventMessagePacket(header, data)
	for _, c := range r.clients {
		if c != sender {
			r.hub.send(c, packet, transport.ReliableOrdered)
		}
	}
	r.hub.publish(r.ID, proto.CommandSendEventMessage, EventMessage{Sender: sender.Info, Header: header, Data: data})
}

func (r *Room) displayMessage(m DisplayMessage) {
	r.broadcast(proto.DisplayMessagePacket(m.DisplayTime, m.FontSize, m.Text), transport.ReliableOrdered)
	r.hub.publish(r.ID, proto.CommandDisplayMessage, m)
}

// updateMember refreshes the stored host copy after a player info change.
func (r *Room) updateMember(c *Client) {
	if r.isHost(c.Info) {
		h := c.Info
		r.host = &h
	}
}

func (r *Room) snapshot() []MirrorPacket {
	packets := []MirrorPacket{{Command: proto.CommandGetRoomInfo, Data: r.Info()}}
	if r.state == proto.StatePreparing {
		packets = append(packets, MirrorPacket{Command: proto.CommandPlayerReady, Data: r.readyCount()})
	}
	return packets
}

func (r *Room) readyCount() ReadyCount {
	return ReadyCount{Ready: len(r.ready), Total: len(r.clients)}
}

func (r *Room) broadcast(payload []byte, method transport.DeliveryMethod) {
	for _, c := range r.clients {
		r.hub.send(c, payload, method)
	}
}

func (r *Room) broadcastInfo() {
	info := r.Info()
	r.broadcast(proto.RoomInfoPacket(info, nil), transport.ReliableOrdered)
	r.hub.publish(r.ID, proto.CommandGetRoomInfo, info)
}

func (r *Room) broadcastSelectedSong() {
	r.broadcast(proto.SelectedSongPacket(r.selectedSong), transport.ReliableOrdered)
	var data any
	if r.selectedSong != nil {
		data = *r.selectedSong
	}
	r.hub.publish(r.ID, proto.CommandSetSelectedSong, data)
}

func (r *Room) broadcastReady() {
	rc := r.readyCount()
	r.broadcast(proto.ReadyPacket(rc.Ready, rc.Total), transport.ReliableOrdered)
	r.hub.publish(r.ID, proto.CommandPlayerReady, rc)
}

func (r *Room) broadcastProgress(now time.Time) {
	if len(r.clients) == 0 {
		return
	}
	elapsed, total := r.phaseTimes(now)
	players := lo.Map(r.clients, func(c *Client, _ int) proto.PlayerInfo { return c.Info })
	r.broadcast(proto.PlayerUpdatePacket(elapsed, total, players), transport.UnreliableSequenced)
	r.hub.publish(r.ID, proto.CommandUpdatePlayerInfo, PlayerUpdate{Elapsed: elapsed, Total: total, Players: players})
}
