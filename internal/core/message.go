package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/pairrelay/internal/domain"
)

type MessageType string

// Inbound.
const (
	TypeJoinRoom     MessageType = "join-room"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeHangup       MessageType = "hangup"
)

// Outbound only.
const (
	TypeYourID         MessageType = "your-id"
	TypePeerJoined     MessageType = "peer-joined"
	TypeWaitingForPeer MessageType = "waiting-for-peer"
	TypePeerLeft       MessageType = "peer-left"
	TypeError          MessageType = "error"
)

var ErrMissingType = errors.New("message type missing")

// IsRelayed reports whether messages of this type are forwarded verbatim to the room.
func (t MessageType) IsRelayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup:
		return true
	}
	return false
}

// Envelope is the outbound wire record.
type Envelope struct {
	Type    MessageType      `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Target  string           `json:"target,omitempty"`
	Sender  domain.SessionID `json:"sender,omitempty"`
}

// Inbound is a decoded inbound frame. Only the type is interpreted; every
// other top-level field is kept raw so relayed messages pass through intact.
type Inbound struct {
	Type    MessageType
	Payload json.RawMessage
	fields  map[string]json.RawMessage
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Role   string `json:"role,omitempty"`
}

type YourIDPayload struct {
	ID domain.SessionID `json:"id"`
}

type PeerJoinedPayload struct {
	PeerID   domain.SessionID `json:"peerId"`
	PeerRole domain.Role      `json:"peerRole"`
}

type PeerLeftPayload struct {
	PeerID domain.SessionID `json:"peerId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeEnvelope parses a raw inbound frame.
func DecodeEnvelope(data Frame) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope: %w", err)
	}
	rawType, ok := fields["type"]
	if !ok {
		return Inbound{}, ErrMissingType
	}
	var t MessageType
	if err := json.Unmarshal(rawType, &t); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope type: %w", err)
	}
	if t == "" {
		return Inbound{}, ErrMissingType
	}
	return Inbound{Type: t, Payload: fields["payload"], fields: fields}, nil
}

// DecodeJoinRoom extracts and validates a join-room payload.
func DecodeJoinRoom(raw json.RawMessage) (domain.RoomID, domain.Role, error) {
	if len(raw) == 0 {
		return "", "", errors.New("join-room: payload missing")
	}
	var p JoinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("join-room: %w", err)
	}
	roomID, err := domain.NewRoomID(p.RoomID)
	if err != nil {
		return "", "", fmt.Errorf("join-room: %w", err)
	}
	return roomID, domain.NormalizeRole(p.Role), nil
}

// Encode builds an outbound frame with a typed payload. A nil payload is sent as {}.
func Encode(t MessageType, payload any) (Frame, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return EncodeEnvelope(Envelope{Type: t, Payload: raw})
}

// EncodeEnvelope marshals a complete envelope.
func EncodeEnvelope(env Envelope) (Frame, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return b, nil
}

// Forwarded encodes the message as delivered to the other room member:
// every field untouched except target, which is stripped, and sender, which is stamped.
func (in Inbound) Forwarded(from domain.SessionID) (Frame, error) {
	out := make(map[string]json.RawMessage, len(in.fields)+1)
	for k, v := range in.fields {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		rawType, err := json.Marshal(in.Type)
		if err != nil {
			return nil, fmt.Errorf("encode type: %w", err)
		}
		out["type"] = rawType
	}
	delete(out, "target")
	sender, err := json.Marshal(from)
	if err != nil {
		return nil, fmt.Errorf("encode sender: %w", err)
	}
	out["sender"] = sender
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", in.Type, err)
	}
	return b, nil
}
