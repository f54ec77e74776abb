package app

import (
	"github.com/dkeye/pairrelay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to a peer whose outbound queue is full.
type Policy interface {
	OnBackPressure(target core.Session) BackpressureAction
}

// SimplePolicy kicks stalled peers; their transport then reports a close
// and the usual disconnect cleanup runs.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Session) BackpressureAction {
	return KickMember
}

// DropPolicy discards frames for stalled peers and keeps them connected.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.Session) BackpressureAction {
	return DropFrame
}
