package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:3701/ws", "player WebSocket address")
	name := flag.String("name", "smoke-tester", "player name to announce")
	id := flag.Uint64("id", 1, "player id to announce")
	room := flag.String("room", "smoke room", "name of the room to create")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	player := proto.PlayerInfo{ID: *id, Name: *name, State: proto.PlayerLobby}
	conn, reply, err := ws.Dial(ctx, *addr, proto.Admission{
		Version: proto.ServerVersion.Pack(),
		Player:  player,
	}.Bytes())
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	if len(reply) == 0 || reply[0] != 0 {
		r := proto.NewReader(reply)
		r.Byte()
		return fmt.Errorf("connection denied: %s", r.Str())
	}
	fmt.Println("connected")

	send := func(payload []byte) error {
		if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}
	// await reads until a message with the given command arrives.
	await := func(want proto.CommandType) (*proto.Reader, error) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return nil, fmt.Errorf("read: %w", err)
			}
			r := proto.NewReader(data)
			cmd := proto.CommandType(r.Byte())
			if cmd == want {
				return r, nil
			}
			if cmd == proto.CommandDisconnect {
				return nil, fmt.Errorf("disconnected: %s", r.Str())
			}
			fmt.Printf("skipping %s\n", cmd)
		}
	}

	if err := send([]byte{byte(proto.CommandGetRooms)}); err != nil {
		return err
	}
	r, err := await(proto.CommandGetRooms)
	if err != nil {
		return err
	}
	for _, info := range proto.DecodeRoomList(r) {
		fmt.Printf("room %d %q players=%d/%d state=%s\n", info.RoomID, info.Name, info.Players, info.MaxPlayers, info.State)
	}

	w := proto.NewWriter(proto.CommandCreateRoom)
	proto.RoomSettings{Name: *room, MaxPlayers: 4, SelectionType: proto.SelectionManual}.Encode(w)
	if err := send(w.Bytes()); err != nil {
		return err
	}
	if r, err = await(proto.CommandCreateRoom); err != nil {
		return err
	}
	roomID := r.Uint32()
	fmt.Printf("created room %d\n", roomID)

	w = proto.NewWriter(proto.CommandJoinRoom)
	w.PutUint32(roomID)
	if err := send(w.Bytes()); err != nil {
		return err
	}
	if r, err = await(proto.CommandJoinRoom); err != nil {
		return err
	}
	if result := proto.JoinResult(r.Byte()); result != proto.JoinJoined {
		return errors.New("join failed: " + result.String())
	}

	if err := send([]byte{byte(proto.CommandGetRoomInfo), 1}); err != nil {
		return err
	}
	if r, err = await(proto.CommandGetRoomInfo); err != nil {
		return err
	}
	info := proto.DecodeRoomInfo(r)
	fmt.Printf("joined %q as host=%v state=%s\n", info.Name, info.Host != nil && info.Host.ID == player.ID, info.State)

	return send([]byte{byte(proto.CommandLeaveRoom)})
}
