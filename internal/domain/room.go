package domain

import "errors"

const (
	// RoomCapacity is the number of peers a room can pair.
	RoomCapacity = 2
	MaxRoomIDLen = 64
)

var (
	ErrEmptyRoomID   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

type RoomID string

// Room is a point-in-time view of a room's membership, in join order.
type Room struct {
	ID      RoomID
	Members []SessionID
}

type JoinResult int

const (
	Joined JoinResult = iota
	AlreadyMember
	RoomFull
)

func (r JoinResult) String() string {
	switch r {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	case RoomFull:
		return "room_full"
	default:
		return "unknown"
	}
}

// NewRoomID validates a caller-supplied room identity. The id is opaque and
// used byte for byte; only empty and oversized ids are rejected.
func NewRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrEmptyRoomID
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}
