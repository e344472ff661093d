package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RoomKind is the closed set of broadcast groups.
type RoomKind int

const (
	RoomQueue RoomKind = iota + 1
	RoomOperators
	RoomDispatches
	RoomMap
	RoomAll
	RoomDispatch
)

const dispatchRoomPrefix = "dispatch-"

var roomNames = map[RoomKind]string{
	RoomQueue:      "queue",
	RoomOperators:  "operators",
	RoomDispatches: "dispatches",
	RoomMap:        "map",
	RoomAll:        "all",
}

// Room identifies a broadcast group. Build one through the constructors or
// ParseRoom; the zero value is not a valid room.
type Room struct {
	kind       RoomKind
	dispatchID uuid.UUID
}

var (
	QueueRoom      = Room{kind: RoomQueue}
	OperatorsRoom  = Room{kind: RoomOperators}
	DispatchesRoom = Room{kind: RoomDispatches}
	MapRoom        = Room{kind: RoomMap}
	AllRoom        = Room{kind: RoomAll}
)

// DispatchRoom is the room scoped to a single dispatch.
func DispatchRoom(id uuid.UUID) Room {
	return Room{kind: RoomDispatch, dispatchID: id}
}

func (r Room) Kind() RoomKind { return r.kind }

// DispatchID is only meaningful for dispatch-scoped rooms.
func (r Room) DispatchID() uuid.UUID { return r.dispatchID }

func (r Room) IsValid() bool {
	if r.kind == RoomDispatch {
		return r.dispatchID != uuid.Nil
	}
	_, ok := roomNames[r.kind]
	return ok
}

func (r Room) String() string {
	if r.kind == RoomDispatch {
		return dispatchRoomPrefix + r.dispatchID.String()
	}
	return roomNames[r.kind]
}

func (r Room) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid room")
	}
	return []byte(r.String()), nil
}

func (r *Room) UnmarshalText(text []byte) error {
	parsed, err := ParseRoom(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRoom maps client supplied text onto a room.
func ParseRoom(s string) (Room, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for kind, name := range roomNames {
		if s == name {
			return Room{kind: kind}, nil
		}
	}
	if rest, ok := strings.CutPrefix(s, dispatchRoomPrefix); ok {
		id, err := uuid.Parse(rest)
		if err != nil {
			return Room{}, fmt.Errorf("invalid dispatch room %q: %w", s, err)
		}
		return DispatchRoom(id), nil
	}
	return Room{}, fmt.Errorf("unknown room %q", s)
}
