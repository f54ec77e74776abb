package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join handles a join-room payload from sid.
func (o *Orchestrator) Join(sid domain.SessionID, raw json.RawMessage) {
	roomID, role, err := core.DecodeJoinRoom(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("bad join payload")
		metricDropped.WithLabelValues(dropMalformed).Inc()
		return
	}

	o.mu.Lock()
	out := o.joinLocked(sid, roomID, role)
	o.observe()
	o.mu.Unlock()

	o.deliver(out)
}

func (o *Orchestrator) joinLocked(sid domain.SessionID, roomID domain.RoomID, role domain.Role) []outbound {
	self, ok := o.Registry.Lookup(sid)
	if !ok {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("join: unknown session")
		return nil
	}
	if self.InRoom() && self.Room != roomID {
		metricJoins.WithLabelValues("conflict").Inc()
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("current", string(self.Room)).Msg("join rejected: already in another room")
		return o.errorTo(self, fmt.Sprintf("already in room %s", self.Room))
	}

	res := o.Rooms.TryJoin(roomID, sid)
	metricJoins.WithLabelValues(res.String()).Inc()
	switch res {
	case domain.AlreadyMember:
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join: already a member")
		return nil
	case domain.RoomFull:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join rejected: room full")
		return o.errorTo(self, fmt.Sprintf("room %s is full", roomID))
	}

	o.Registry.SetRoomAndRole(sid, roomID, role)
	self.Room, self.Role = roomID, role

	others := o.Rooms.OtherMembers(roomID, sid)
	if len(others) == 0 {
		return o.message(self, core.TypeWaitingForPeer, nil)
	}
	peer, ok := o.Registry.Lookup(others[0])
	if !ok {
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("peer", string(others[0])).Msg("join: room member not registered")
		return o.message(self, core.TypeWaitingForPeer, nil)
	}

	out := o.message(peer, core.TypePeerJoined, core.PeerJoinedPayload{PeerID: self.ID, PeerRole: self.Role})
	return append(out, o.message(self, core.TypePeerJoined, core.PeerJoinedPayload{PeerID: peer.ID, PeerRole: peer.Role})...)
}
