package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards a negotiation message to the other members of the sender's room.
// The payload is never inspected.
func (o *Orchestrator) Relay(sid domain.SessionID, env core.Inbound) {
	o.mu.Lock()
	self, ok := o.Registry.Lookup(sid)
	if !ok || !self.InRoom() {
		o.mu.Unlock()
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("type", string(env.Type)).Msg("relay before join")
		metricDropped.WithLabelValues(dropNotInRoom).Inc()
		return
	}
	others := o.Rooms.OtherMembers(self.Room, sid)
	targets := make([]core.Session, 0, len(others))
	var missing []domain.SessionID
	for _, id := range others {
		if peer, ok := o.Registry.Lookup(id); ok {
			targets = append(targets, peer)
		} else {
			missing = append(missing, id)
		}
	}
	o.mu.Unlock()

	if len(others) == 0 {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(self.Room)).Msg("relay: no peer in room")
		metricDropped.WithLabelValues(dropNoPeer).Inc()
		return
	}

	frame, err := env.Forwarded(sid)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode relay")
		return
	}
	for _, peer := range targets {
		err := o.send(peer, frame)
		switch {
		case err == nil:
			metricRelayed.WithLabelValues(string(env.Type)).Inc()
			log.Debug().Str("module", "orch").Str("from", string(sid)).Str("to", string(peer.ID)).Str("type", string(env.Type)).Msg("relayed")
		case errors.Is(err, core.ErrConnClosed):
			missing = append(missing, peer.ID)
		}
	}

	for _, id := range missing {
		o.deliver(o.errorTo(self, fmt.Sprintf("peer %s not found or offline", id)))
	}
}
