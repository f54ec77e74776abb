// Package domain contains identifiers and value types without transport or lifecycle logic.
package domain

import (
	"github.com/google/uuid"
)

// UnknownRole is stored when a peer joins without announcing a role.
const UnknownRole Role = "unknown"

type (
	SessionID string
	Role      string
)

// NewSessionID returns a fresh opaque identity for a connected peer.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NormalizeRole maps an empty role to UnknownRole.
func NormalizeRole(role string) Role {
	if role == "" {
		return UnknownRole
	}
	return Role(role)
}
