package proto

import (
	"errors"
	"strings"
	"testing"
)

func TestVersionPack(t *testing.T) {
	tests := []struct {
		v    Version
		want uint32
	}{
		{Version{0, 6, 2, 0}, 620},
		{Version{1, 2, 3, 4}, 1234},
		{Version{0, 10, 0, 1}, 1001},
		{Version{0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		if got := tt.v.Pack(); got != tt.want {
			t.Errorf("%s.Pack() = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestVersionsCompatible(t *testing.T) {
	tests := []struct {
		name           string
		client, server uint32
		want           bool
	}{
		{"identical", 620, 620, true},
		{"revision differs", 621, 620, true},
		{"build differs", 610, 620, false},
		{"length differs", 6201, 620, false},
		{"single digits", 5, 7, true},
		{"zero and single digit", 0, 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VersionsCompatible(tt.client, tt.server); got != tt.want {
				t.Fatalf("VersionsCompatible(%d, %d) = %v, want %v", tt.client, tt.server, got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	long := strings.Repeat("a", 60)
	tests := []struct {
		in, want string
	}{
		{"", InvalidName},
		{"bob", "bob"},
		{long, long[:MaxNameLength]},
		{strings.Repeat("ж", 51), strings.Repeat("ж", 50)},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeAdmissionNormalizesName(t *testing.T) {
	payload := Admission{
		Version: 620,
		Player:  PlayerInfo{ID: 76561198000000001, Name: "", State: PlayerLobby, Color: Color{R: 255}},
	}.Bytes()

	a, err := DecodeAdmission(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Version != 620 || a.Player.ID != 76561198000000001 {
		t.Fatalf("unexpected admission %+v", a)
	}
	if a.Player.Name != InvalidName {
		t.Fatalf("expected normalized name, got %q", a.Player.Name)
	}
	if a.Player.Color.R != 255 {
		t.Fatalf("color lost: %+v", a.Player.Color)
	}
}

func TestDecodeAdmissionErrors(t *testing.T) {
	if _, err := DecodeAdmission(nil); !errors.Is(err, ErrEmptyAdmission) {
		t.Fatalf("expected ErrEmptyAdmission, got %v", err)
	}
	if _, err := DecodeAdmission([]byte{1, 2}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	full := Admission{Version: 620, Player: PlayerInfo{ID: 1, Name: "x"}}.Bytes()
	if _, err := DecodeAdmission(full[:len(full)-2]); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer for truncated info, got %v", err)
	}
}

func TestReaderRejectsBadLengths(t *testing.T) {
	w := &Writer{}
	w.PutInt32(-1)
	r := NewReader(w.Bytes())
	if s := r.Str(); s != "" || !errors.Is(r.Err(), ErrNegativeLength) {
		t.Fatalf("negative length: got %q, %v", s, r.Err())
	}

	w = &Writer{}
	w.PutInt32(MaxStringLength + 1)
	r = NewReader(w.Bytes())
	r.Str()
	if !errors.Is(r.Err(), ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", r.Err())
	}

	w = &Writer{}
	w.PutInt32(1 << 20)
	r = NewReader(w.Bytes())
	if songs := DecodeSongList(r); len(songs) != 0 || !errors.Is(r.Err(), ErrShortBuffer) {
		t.Fatalf("oversized count: got %d songs, %v", len(songs), r.Err())
	}
}

func TestReaderErrorSticks(t *testing.T) {
	r := NewReader([]byte{7})
	if r.Byte() != 7 {
		t.Fatal("first byte lost")
	}
	if r.Uint32() != 0 || r.Err() == nil {
		t.Fatal("expected short read")
	}
	if r.Byte() != 0 || r.Remaining() != 0 {
		t.Fatal("reads after an error must return zero values")
	}
}

func TestSongOption(t *testing.T) {
	w := NewWriter(CommandSetSelectedSong)
	EncodeSongOption(w, nil)
	song := SongInfo{LevelID: "custom_level_ABC", SongName: "Song", Duration: 120.5}
	EncodeSongOption(w, &song)

	r := NewReader(w.Bytes())
	if CommandType(r.Byte()) != CommandSetSelectedSong {
		t.Fatal("tag mismatch")
	}
	if got := DecodeSongOption(r); got != nil {
		t.Fatalf("expected nil song, got %+v", got)
	}
	got := DecodeSongOption(r)
	if got == nil || !got.Same(song) || got.Duration != 120.5 {
		t.Fatalf("unexpected song %+v", got)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("trailing state: err=%v remaining=%d", r.Err(), r.Remaining())
	}
}

func TestRoomInfoHostOptional(t *testing.T) {
	info := RoomInfo{RoomID: 3, Name: "r", Players: 2, State: StatePreparing, SelectionType: SelectionVoting}
	w := &Writer{}
	info.Encode(w)
	got := DecodeRoomInfo(NewReader(w.Bytes()))
	if got.Host != nil || got.SelectedSong != nil {
		t.Fatalf("expected empty options, got %+v", got)
	}
	if got.RoomID != 3 || got.State != StatePreparing || got.SelectionType != SelectionVoting {
		t.Fatalf("unexpected info %+v", got)
	}
}

func TestDecodeRoomSettingsClampsValues(t *testing.T) {
	w := &Writer{}
	RoomSettings{Name: "n", MaxPlayers: -4, SelectionType: SelectionType(9)}.Encode(w)
	s := DecodeRoomSettings(NewReader(w.Bytes()))
	if s.MaxPlayers != 0 || s.SelectionType != SelectionManual {
		t.Fatalf("expected clamped settings, got %+v", s)
	}
}

func TestCommandTypeString(t *testing.T) {
	if CommandGetSongDuration.String() != "GetSongDuration" {
		t.Fatalf("got %q", CommandGetSongDuration.String())
	}
	if CommandType(200).String() != "CommandType(200)" {
		t.Fatalf("got %q", CommandType(200).String())
	}
}
