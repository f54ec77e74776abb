package app

import (
	"sync"

	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	RoomID domain.RoomID
	Role   domain.Role
	Signal core.SignalConnection
}

// Registry is the session registry and the sole owner of connection handles.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*sessionEntry),
	}
}

// Register makes sid routable with no room and no role.
func (r *Registry) Register(sid domain.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("registered session")
}

func (r *Registry) Lookup(sid domain.SessionID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return core.Session{}, false
	}
	return e.snapshot(sid), true
}

// SetRoomAndRole binds an existing session to a room. Unknown sessions are ignored.
func (r *Registry) SetRoomAndRole(sid domain.SessionID, roomID domain.RoomID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("set room: unknown session")
		return false
	}
	e.RoomID = roomID
	e.Role = role
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Str("role", string(role)).Msg("bound room")
	return true
}

// Remove forgets sid and closes its connection. The returned session still
// carries its last room so the caller can clean up membership.
func (r *Registry) Remove(sid domain.SessionID) (core.Session, bool) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	r.mu.Unlock()
	if !ok {
		return core.Session{}, false
	}
	if e.Signal != nil {
		e.Signal.Close()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed session")
	return e.snapshot(sid), true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (e *sessionEntry) snapshot(sid domain.SessionID) core.Session {
	return core.Session{ID: sid, Room: e.RoomID, Role: e.Role, Signal: e.Signal}
}
