package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/pairrelay/internal/app"
	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator interprets inbound messages and drives the session lifecycle.
// Every check-then-mutate sequence on Registry and Rooms runs under mu;
// sends are issued after mu is released.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy

	mu sync.Mutex
}

type outbound struct {
	to    core.Session
	frame core.Frame
}

// Connect registers a new peer and tells it its identity.
func (o *Orchestrator) Connect(conn core.SignalConnection) domain.SessionID {
	sid := domain.NewSessionID()

	o.mu.Lock()
	o.Registry.Register(sid, conn)
	o.observe()
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("connected")
	o.deliver(o.message(core.Session{ID: sid, Signal: conn}, core.TypeYourID, core.YourIDPayload{ID: sid}))
	return sid
}

// OnMessage handles one raw inbound frame from sid. Bad input never closes the connection.
func (o *Orchestrator) OnMessage(sid domain.SessionID, data core.Frame) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("bad message")
		metricDropped.WithLabelValues(dropMalformed).Inc()
		return
	}

	switch {
	case env.Type == core.TypeJoinRoom:
		o.Join(sid, env.Payload)
	case env.Type.IsRelayed():
		o.Relay(sid, env)
	default:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("type", string(env.Type)).Msg("unknown message type")
		metricDropped.WithLabelValues(dropUnknownType).Inc()
	}
}

// OnDisconnect runs on graceful close and on transport error alike.
func (o *Orchestrator) OnDisconnect(sid domain.SessionID) {
	o.mu.Lock()
	sess, ok := o.Registry.Remove(sid)
	if !ok {
		o.mu.Unlock()
		return
	}
	var out []outbound
	if sess.InRoom() {
		remaining := o.Rooms.Leave(sess.Room, sid)
		if len(remaining) == 1 {
			if peer, ok := o.Registry.Lookup(remaining[0]); ok {
				out = o.message(peer, core.TypePeerLeft, core.PeerLeftPayload{PeerID: sid})
			}
		}
	}
	o.observe()
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(sess.Room)).Msg("disconnected")
	o.deliver(out)
}

// ListRooms is a read-only view for operational endpoints.
func (o *Orchestrator) ListRooms() []app.RoomInfo {
	return o.Rooms.List()
}

func (o *Orchestrator) observe() {
	metricSessionsActive.Set(float64(o.Registry.Count()))
	metricRoomsActive.Set(float64(o.Rooms.Count()))
}

func (o *Orchestrator) message(to core.Session, t core.MessageType, payload any) []outbound {
	frame, err := core.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return nil
	}
	return []outbound{{to: to, frame: frame}}
}

func (o *Orchestrator) errorTo(to core.Session, msg string) []outbound {
	return o.message(to, core.TypeError, core.ErrorPayload{Message: msg})
}

func (o *Orchestrator) deliver(out []outbound) {
	for _, m := range out {
		_ = o.send(m.to, m.frame)
	}
}

// send never blocks. Back-pressure is handed to the Policy.
func (o *Orchestrator) send(to core.Session, frame core.Frame) error {
	if to.Signal == nil {
		return core.ErrConnClosed
	}
	err := to.Signal.TrySend(frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrBackpressure):
		metricDropped.WithLabelValues(dropBackpressure).Inc()
		action := app.NoAction
		if o.Policy != nil {
			action = o.Policy.OnBackPressure(to)
		}
		log.Warn().Str("module", "orch").Str("sid", string(to.ID)).Str("action", action.String()).Msg("send queue full")
		switch action {
		case app.KickMember:
			to.Signal.Close()
		case app.DropFrame, app.NoAction:
		}
	default:
		metricDropped.WithLabelValues(dropClosed).Inc()
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(to.ID)).Msg("send failed")
	}
	return err
}
