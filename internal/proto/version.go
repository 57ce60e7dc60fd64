package proto

import (
	"errors"
	"fmt"
	"strconv"
)

// Version is a four component release number.
type Version struct {
	Major, Minor, Build, Revision uint32
}

// ServerVersion is the protocol release this server speaks.
var ServerVersion = Version{Major: 0, Minor: 6, Build: 2, Revision: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Pack concatenates the decimal components and reads the result as one
// number, so 0.6.2.0 packs to 620. Values that overflow pack to 0.
func (v Version) Pack() uint32 {
	s := fmt.Sprintf("%d%d%d%d", v.Major, v.Minor, v.Build, v.Revision)
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// VersionsCompatible compares two packed versions with their last decimal
// digit removed. The packing is lossy, so distinct releases can collide;
// clients depend on this exact rule and it is kept as is.
func VersionsCompatible(client, server uint32) bool {
	c := strconv.FormatUint(uint64(client), 10)
	s := strconv.FormatUint(uint64(server), 10)
	return c[:len(c)-1] == s[:len(s)-1]
}

// ErrEmptyAdmission is returned for a connection request with no payload.
var ErrEmptyAdmission = errors.New("proto: empty admission payload")

// Admission is the payload of a connection request.
type Admission struct {
	Version uint32
	Player  PlayerInfo
}

func (a Admission) Bytes() []byte {
	w := &Writer{}
	w.PutUint32(a.Version)
	a.Player.Encode(w)
	return w.Bytes()
}

// DecodeAdmission parses a connection request payload.
func DecodeAdmission(b []byte) (Admission, error) {
	if len(b) == 0 {
		return Admission{}, ErrEmptyAdmission
	}
	r := NewReader(b)
	a := Admission{Version: r.Uint32()}
	if err := r.Err(); err != nil {
		return a, fmt.Errorf("decode version: %w", err)
	}
	a.Player = DecodePlayerInfo(r)
	if err := r.Err(); err != nil {
		return a, fmt.Errorf("decode player info: %w", err)
	}
	return a, nil
}
