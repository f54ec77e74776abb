package core

import "github.com/dkeye/pairrelay/internal/domain"

// Session is one connected peer as tracked by the registry.
// Room and Role stay empty until a join succeeds.
type Session struct {
	ID     domain.SessionID
	Room   domain.RoomID
	Role   domain.Role
	Signal SignalConnection
}

func (s Session) InRoom() bool { return s.Room != "" }
