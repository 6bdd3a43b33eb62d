package signaling

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one transport session. It is not stable across
// reconnects.
type Handle string

func newHandle() Handle {
	return Handle(uuid.NewString())
}

var ErrEmptyRoomID = errors.New("signaling: room id must not be empty")

type room struct {
	id        string
	createdAt time.Time
	// members keeps join order so existing-users lists peers oldest first.
	members []Handle
}

func (r *room) indexOf(h Handle) int {
	for i, m := range r.members {
		if m == h {
			return i
		}
	}
	return -1
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	ID        string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []Handle  `json:"members"`
}

// JoinResult describes the effect of Registry.Join.
type JoinResult struct {
	// Others lists every member except the joiner, in join order.
	Others []Handle
	// Added is false when the handle was already a member.
	Added bool
	// Created is true when this join brought the room into existence.
	Created bool
}

// LeaveResult describes the effect of Registry.Leave.
type LeaveResult struct {
	// Remaining lists the members left behind, in join order.
	Remaining []Handle
	// Removed is false when the handle was not a member.
	Removed bool
	// Deleted is true when the room became empty and was dropped.
	Deleted bool
}

// Registry tracks room membership. A room exists exactly while it has at
// least one member.
//
// Registry is not safe for concurrent use; the Hub owns it.
type Registry struct {
	now         func() time.Time
	rooms       map[string]*room
	memberships map[Handle]map[string]struct{}
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:         now,
		rooms:       make(map[string]*room),
		memberships: make(map[Handle]map[string]struct{}),
	}
}

// Join adds h to roomID, creating the room on first join. Joining a room
// twice leaves membership unchanged.
func (r *Registry) Join(roomID string, h Handle) (JoinResult, error) {
	if roomID == "" {
		return JoinResult{}, ErrEmptyRoomID
	}

	var res JoinResult
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, createdAt: r.now()}
		r.rooms[roomID] = rm
		res.Created = true
	}

	res.Others = make([]Handle, 0, len(rm.members))
	for _, m := range rm.members {
		if m != h {
			res.Others = append(res.Others, m)
		}
	}

	if rm.indexOf(h) < 0 {
		rm.members = append(rm.members, h)
		res.Added = true

		rooms := r.memberships[h]
		if rooms == nil {
			rooms = make(map[string]struct{})
			r.memberships[h] = rooms
		}
		rooms[roomID] = struct{}{}
	}
	return res, nil
}

// Leave removes h from roomID and deletes the room once it is empty. Leaving
// a room h is not in, or one that does not exist, is a no-op.
func (r *Registry) Leave(roomID string, h Handle) LeaveResult {
	rm, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	i := rm.indexOf(h)
	if i < 0 {
		return LeaveResult{}
	}

	rm.members = append(rm.members[:i], rm.members[i+1:]...)
	if rooms := r.memberships[h]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.memberships, h)
		}
	}

	res := LeaveResult{
		Removed:   true,
		Remaining: append([]Handle(nil), rm.members...),
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		res.Deleted = true
	}
	return res
}

// RoomsOf returns the rooms h belongs to, sorted by id.
func (r *Registry) RoomsOf(h Handle) []string {
	rooms := r.memberships[h]
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Room(roomID string) (RoomInfo, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		ID:        rm.id,
		CreatedAt: rm.createdAt,
		Members:   append([]Handle(nil), rm.members...),
	}, true
}

// Rooms returns every live room sorted by id.
func (r *Registry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for id := range r.rooms {
		info, _ := r.Room(id)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	return len(r.rooms)
}
