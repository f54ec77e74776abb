package app

import (
	"sort"
	"sync"

	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type RoomInfo struct {
	Name        domain.RoomID `json:"name"`
	MemberCount int           `json:"client_count"`
}

// RoomManager is the room directory. It stores member identities only;
// connections are always resolved through the Registry.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]domain.SessionID
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID][]domain.SessionID)}
}

// GetOrCreate returns the room, creating an empty entry for an unseen id.
// Only Leave reaps entries, so a caller that creates a room must follow up
// with TryJoin; the dispatcher only ever creates rooms through TryJoin.
func (m *RoomManager) GetOrCreate(id domain.RoomID) domain.Room {
	m.mu.RLock()
	members, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return domain.Room{ID: id, Members: clone(members)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Room{ID: id, Members: clone(m.getOrCreateLocked(id))}
}

func (m *RoomManager) getOrCreateLocked(id domain.RoomID) []domain.SessionID {
	members, ok := m.rooms[id]
	if !ok {
		members = make([]domain.SessionID, 0, domain.RoomCapacity)
		m.rooms[id] = members
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	return members
}

func (m *RoomManager) TryJoin(id domain.RoomID, sid domain.SessionID) domain.JoinResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[id]
	if ok {
		if lo.Contains(members, sid) {
			return domain.AlreadyMember
		}
		if len(members) >= domain.RoomCapacity {
			return domain.RoomFull
		}
	} else {
		members = m.getOrCreateLocked(id)
	}
	m.rooms[id] = append(members, sid)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("sid", string(sid)).Int("members", len(m.rooms[id])).Msg("member added")
	return domain.Joined
}

// Leave removes sid and returns who is left. An emptied room is deleted.
func (m *RoomManager) Leave(id domain.RoomID, sid domain.SessionID) []domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[id]
	if !ok {
		return nil
	}
	remaining := lo.Without(members, sid)
	if len(remaining) == 0 {
		delete(m.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
		return nil
	}
	m.rooms[id] = remaining
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("sid", string(sid)).Int("members", len(remaining)).Msg("member removed")
	return clone(remaining)
}

func (m *RoomManager) OtherMembers(id domain.RoomID, sid domain.SessionID) []domain.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Without(m.rooms[id], sid)
}

// Members returns the current members in join order, or false for an unknown room.
func (m *RoomManager) Members(id domain.RoomID) ([]domain.SessionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members, ok := m.rooms[id]
	return clone(members), ok
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, members := range m.rooms {
		out = append(out, RoomInfo{Name: id, MemberCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func clone(ids []domain.SessionID) []domain.SessionID {
	if ids == nil {
		return nil
	}
	return append([]domain.SessionID(nil), ids...)
}
