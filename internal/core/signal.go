package core

import "errors"

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrBackpressure = errors.New("backpressure")
)

// Frame is one encoded wire message.
type Frame []byte

// SignalConnection abstracts the duplex messaging transport of one peer.
// TrySend must not block: it either queues the frame or fails with
// ErrConnClosed / ErrBackpressure. Close is idempotent.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
