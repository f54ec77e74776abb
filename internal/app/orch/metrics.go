package orch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairrelay_sessions_active",
		Help: "Currently registered sessions",
	})

	metricRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairrelay_rooms_active",
		Help: "Rooms with at least one member",
	})

	metricRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairrelay_messages_relayed_total",
		Help: "Negotiation messages forwarded to a room peer",
	}, []string{"type"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairrelay_messages_dropped_total",
		Help: "Inbound or outbound messages that were not delivered",
	}, []string{"reason"})

	metricJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairrelay_joins_total",
		Help: "join-room outcomes",
	}, []string{"result"})
)

const (
	dropMalformed    = "malformed"
	dropUnknownType  = "unknown_type"
	dropNotInRoom    = "not_in_room"
	dropNoPeer       = "no_peer"
	dropClosed       = "closed"
	dropBackpressure = "backpressure"
)
