package proto

import "unicode/utf8"

const (
	// MaxNameLength is the longest player name kept after normalization.
	MaxNameLength = 50
	// InvalidName replaces an empty player name.
	InvalidName = "INVALID_NAME"

	minPlayerInfoSize = 24
	minSongInfoSize   = 16
	minRoomInfoSize   = 23
)

// Color is the RGB tint of a player's name.
type Color struct {
	R byte `json:"r"`
	G byte `json:"g"`
	B byte `json:"b"`
}

// PlayerInfo describes a player as reported by its client.
type PlayerInfo struct {
	ID       uint64      `json:"playerId,string"`
	Name     string      `json:"playerName"`
	State    PlayerState `json:"playerState"`
	Color    Color       `json:"playerNameColor"`
	Score    uint32      `json:"playerScore"`
	Accuracy float32     `json:"playerAccuracy"`
}

// NormalizeName applies the player name rules: empty names become
// InvalidName, long names are cut to MaxNameLength runes.
func NormalizeName(name string) string {
	if name == "" {
		return InvalidName
	}
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxNameLength])
}

// Same reports whether two infos belong to the same player.
func (p PlayerInfo) Same(o PlayerInfo) bool {
	return p.ID == o.ID
}

func (p PlayerInfo) Encode(w *Writer) {
	w.PutUint64(p.ID)
	w.PutString(p.Name)
	w.PutByte(byte(p.State))
	w.PutByte(p.Color.R)
	w.PutByte(p.Color.G)
	w.PutByte(p.Color.B)
	w.PutUint32(p.Score)
	w.PutFloat32(p.Accuracy)
}

// DecodePlayerInfo reads a PlayerInfo and normalizes its name.
func DecodePlayerInfo(r *Reader) PlayerInfo {
	var p PlayerInfo
	p.ID = r.Uint64()
	p.Name = r.Str()
	p.State = PlayerState(r.Byte())
	p.Color = Color{R: r.Byte(), G: r.Byte(), B: r.Byte()}
	p.Score = r.Uint32()
	p.Accuracy = r.Float32()
	p.Name = NormalizeName(p.Name)
	return p
}

// SongInfo references a song by level id.
type SongInfo struct {
	LevelID  string  `json:"levelId"`
	SongName string  `json:"songName"`
	Duration float32 `json:"songDuration"`
	Key      string  `json:"key,omitempty"`
}

// Same reports whether both references point at the same level.
func (s SongInfo) Same(o SongInfo) bool {
	return s.LevelID == o.LevelID
}

func (s SongInfo) Encode(w *Writer) {
	w.PutString(s.LevelID)
	w.PutString(s.SongName)
	w.PutFloat32(s.Duration)
	w.PutString(s.Key)
}

func DecodeSongInfo(r *Reader) SongInfo {
	return SongInfo{
		LevelID:  r.Str(),
		SongName: r.Str(),
		Duration: r.Float32(),
		Key:      r.Str(),
	}
}

// EncodeSongOption writes a presence byte followed by the song when set.
func EncodeSongOption(w *Writer, s *SongInfo) {
	if s == nil {
		w.PutByte(0)
		return
	}
	w.PutByte(1)
	s.Encode(w)
}

// DecodeSongOption is the inverse of EncodeSongOption.
func DecodeSongOption(r *Reader) *SongInfo {
	if r.Byte() == 0 || r.Err() != nil {
		return nil
	}
	s := DecodeSongInfo(r)
	if r.Err() != nil {
		return nil
	}
	return &s
}

func encodeSongList(w *Writer, songs []SongInfo) {
	w.PutInt32(int32(len(songs)))
	for _, s := range songs {
		s.Encode(w)
	}
}

// DecodeSongList reads an int32 count followed by that many songs.
func DecodeSongList(r *Reader) []SongInfo {
	n := r.Count(minSongInfoSize)
	songs := make([]SongInfo, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		songs = append(songs, DecodeSongInfo(r))
	}
	return songs
}

// RoomSettings is fixed when a room is created.
type RoomSettings struct {
	Name           string        `json:"name" yaml:"name"`
	UsePassword    bool          `json:"usePassword" yaml:"use_password"`
	Password       string        `json:"password,omitempty" yaml:"password"`
	NoFail         bool          `json:"noFail" yaml:"no_fail"`
	MaxPlayers     int32         `json:"maxPlayers" yaml:"max_players"`
	SelectionType  SelectionType `json:"selectionType" yaml:"selection_type"`
	AvailableSongs []SongInfo    `json:"availableSongs" yaml:"songs"`
}

func (s RoomSettings) Encode(w *Writer) {
	w.PutString(s.Name)
	w.PutBool(s.UsePassword)
	w.PutString(s.Password)
	w.PutBool(s.NoFail)
	w.PutInt32(s.MaxPlayers)
	w.PutByte(byte(s.SelectionType))
	encodeSongList(w, s.AvailableSongs)
}

func DecodeRoomSettings(r *Reader) RoomSettings {
	var s RoomSettings
	s.Name = r.Str()
	s.UsePassword = r.Bool()
	s.Password = r.Str()
	s.NoFail = r.Bool()
	s.MaxPlayers = r.Int32()
	s.SelectionType = SelectionType(r.Byte())
	s.AvailableSongs = DecodeSongList(r)
	if s.MaxPlayers < 0 {
		s.MaxPlayers = 0
	}
	if s.SelectionType > SelectionVoting {
		s.SelectionType = SelectionManual
	}
	return s
}

// RoomInfo is the public summary of a room.
type RoomInfo struct {
	RoomID             uint32        `json:"roomId"`
	Name               string        `json:"name"`
	UsePassword        bool          `json:"usePassword"`
	Players            int32         `json:"players"`
	MaxPlayers         int32         `json:"maxPlayers"`
	NoFail             bool          `json:"noFail"`
	State              RoomState     `json:"roomState"`
	SelectionType      SelectionType `json:"selectionType"`
	Host               *PlayerInfo   `json:"roomHost"`
	SelectedSong       *SongInfo     `json:"selectedSong"`
	SelectedDifficulty byte          `json:"selectedDifficulty"`
}

func (i RoomInfo) Encode(w *Writer) {
	w.PutUint32(i.RoomID)
	w.PutString(i.Name)
	w.PutBool(i.UsePassword)
	w.PutInt32(i.Players)
	w.PutInt32(i.MaxPlayers)
	w.PutBool(i.NoFail)
	w.PutByte(byte(i.State))
	w.PutByte(byte(i.SelectionType))
	if i.Host == nil {
		w.PutByte(0)
	} else {
		w.PutByte(1)
		i.Host.Encode(w)
	}
	EncodeSongOption(w, i.SelectedSong)
	w.PutByte(i.SelectedDifficulty)
}

func DecodeRoomInfo(r *Reader) RoomInfo {
	var i RoomInfo
	i.RoomID = r.Uint32()
	i.Name = r.Str()
	i.UsePassword = r.Bool()
	i.Players = r.Int32()
	i.MaxPlayers = r.Int32()
	i.NoFail = r.Bool()
	i.State = RoomState(r.Byte())
	i.SelectionType = SelectionType(r.Byte())
	if r.Byte() == 1 {
		host := DecodePlayerInfo(r)
		i.Host = &host
	}
	i.SelectedSong = DecodeSongOption(r)
	i.SelectedDifficulty = r.Byte()
	return i
}

// DecodeRoomList reads a room listing as written by RoomListPacket.
func DecodeRoomList(r *Reader) []RoomInfo {
	n := r.Count(minRoomInfoSize)
	rooms := make([]RoomInfo, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		rooms = append(rooms, DecodeRoomInfo(r))
	}
	return rooms
}

// DecodePlayerList reads an int32 count followed by that many infos.
func DecodePlayerList(r *Reader) []PlayerInfo {
	n := r.Count(minPlayerInfoSize)
	players := make([]PlayerInfo, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		players = append(players, DecodePlayerInfo(r))
	}
	return players
}

// EncodePlayerList writes an int32 count followed by the infos.
func EncodePlayerList(w *Writer, players []PlayerInfo) {
	w.PutInt32(int32(len(players)))
	for _, p := range players {
		p.Encode(w)
	}
}
