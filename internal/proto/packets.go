package proto

// Outbound messages. Each function returns a complete payload starting with
// its command tag.

func DisconnectPacket(reason string) []byte {
	w := NewWriter(CommandDisconnect)
	w.PutString(reason)
	return w.Bytes()
}

func JoinRoomPacket(result JoinResult) []byte {
	w := NewWriter(CommandJoinRoom)
	w.PutByte(byte(result))
	return w.Bytes()
}

func CreateRoomPacket(roomID uint32) []byte {
	w := NewWriter(CommandCreateRoom)
	w.PutUint32(roomID)
	return w.Bytes()
}

func RoomListPacket(rooms []RoomInfo) []byte {
	w := NewWriter(CommandGetRooms)
	w.PutInt32(int32(len(rooms)))
	for _, r := range rooms {
		r.Encode(w)
	}
	return w.Bytes()
}

// RoomInfoPacket carries the room summary and, when songs is non-nil, the
// candidate song list.
func RoomInfoPacket(info RoomInfo, songs []SongInfo) []byte {
	w := NewWriter(CommandGetRoomInfo)
	info.Encode(w)
	w.PutBool(songs != nil)
	if songs != nil {
		encodeSongList(w, songs)
	}
	return w.Bytes()
}

func DestroyRoomPacket() []byte {
	return NewWriter(CommandDestroyRoom).Bytes()
}

func SelectedSongPacket(song *SongInfo) []byte {
	w := NewWriter(CommandSetSelectedSong)
	EncodeSongOption(w, song)
	return w.Bytes()
}

func StartLevelPacket(difficulty byte, song SongInfo) []byte {
	w := NewWriter(CommandStartLevel)
	w.PutByte(difficulty)
	song.Encode(w)
	return w.Bytes()
}

func ReadyPacket(ready, total int) []byte {
	w := NewWriter(CommandPlayerReady)
	w.PutInt32(int32(ready))
	w.PutInt32(int32(total))
	return w.Bytes()
}

// PlayerUpdatePacket is the per-tick progress broadcast.
func PlayerUpdatePacket(elapsed, total float32, players []PlayerInfo) []byte {
	w := NewWriter(CommandUpdatePlayerInfo)
	w.PutFloat32(elapsed)
	w.PutFloat32(total)
	EncodePlayerList(w, players)
	return w.Bytes()
}

func DisplayMessagePacket(displayTime, fontSize float32, text string) []byte {
	w := NewWriter(CommandDisplayMessage)
	w.PutFloat32(displayTime)
	w.PutFloat32(fontSize)
	w.PutString(text)
	return w.Bytes()
}

func EventMessagePacket(header, data string) []byte {
	w := NewWriter(CommandSendEventMessage)
	w.PutString(header)
	w.PutString(data)
	return w.Bytes()
}
