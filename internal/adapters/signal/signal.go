package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler receives the transport events of every connection.
type Handler interface {
	Connect(conn core.SignalConnection) domain.SessionID
	OnMessage(sid domain.SessionID, data core.Frame)
	OnDisconnect(sid domain.SessionID)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch Handler
	opts Options
}

func NewSignalWSController(h Handler, opts Options) *SignalWSController {
	return &SignalWSController{Orch: h, opts: opts}
}

// WsSignalConn is the SignalConnection of one websocket peer.
// Frames are queued for the write pump; a full queue is reported, never waited on.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until ctx ends
// or the peer goes away.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.opts.SendBuffer),
		cancel: cancel,
	}

	sid := ctl.Orch.Connect(conn)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go ctl.writePump(connCtx, sid, conn)
	go ctl.readPump(sid, conn)
}
