package core

import "slices"

// Rooms owns every live room. Ids start at 1, increase monotonically and are
// never reused; iteration is in ascending id order.
type Rooms struct {
	lastID uint32
	byID   map[uint32]*Room
	order  []*Room
}

func newRooms() *Rooms {
	return &Rooms{byID: make(map[uint32]*Room)}
}

func (rs *Rooms) nextID() uint32 {
	rs.lastID++
	return rs.lastID
}

func (rs *Rooms) add(r *Room) {
	rs.byID[r.ID] = r
	rs.order = append(rs.order, r)
}

func (rs *Rooms) remove(id uint32) *Room {
	r, ok := rs.byID[id]
	if !ok {
		return nil
	}
	delete(rs.byID, id)
	rs.order = slices.DeleteFunc(rs.order, func(x *Room) bool { return x == r })
	return r
}

func (rs *Rooms) find(id uint32) *Room {
	return rs.byID[id]
}

// all returns a snapshot that stays valid while rooms are added or removed.
func (rs *Rooms) all() []*Room {
	return slices.Clone(rs.order)
}

func (rs *Rooms) Len() int {
	return len(rs.order)
}
