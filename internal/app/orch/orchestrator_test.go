package orch

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/pairrelay/internal/app"
	"github.com/dkeye/pairrelay/internal/core"
	"github.com/dkeye/pairrelay/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	closed   bool
	sendErr  error
	closeCnt int
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCnt++
}

// drain returns and forgets everything received so far.
func (c *fakeConn) drain(t *testing.T) []core.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	c.frames = nil
	return out
}

// raw returns and forgets the undecoded frames received so far.
func (c *fakeConn) raw() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	c.frames = nil
	return out
}

func newOrchestrator() *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
}

func connect(t *testing.T, o *Orchestrator) (domain.SessionID, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sid := o.Connect(conn)
	msgs := conn.drain(t)
	require.Len(t, msgs, 1)
	require.Equal(t, core.TypeYourID, msgs[0].Type)
	require.JSONEq(t, `{"id":"`+string(sid)+`"}`, string(msgs[0].Payload))
	return sid, conn
}

func joinRoom(o *Orchestrator, sid domain.SessionID, room, role string) {
	o.OnMessage(sid, core.Frame(`{"type":"join-room","payload":{"roomId":"`+room+`","role":"`+role+`"}}`))
}

func errorMessage(t *testing.T, env core.Envelope) string {
	t.Helper()
	require.Equal(t, core.TypeError, env.Type)
	var p core.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Message
}

func TestOrchestrator_EndToEndPairing(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()

	// Given A connected and joined r1 alone
	a, connA := connect(t, o)
	joinRoom(o, a, "r1", "host")
	msgs := connA.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypeWaitingForPeer, msgs[0].Type)

	// When B joins the same room
	b, connB := connect(t, o)
	joinRoom(o, b, "r1", "guest")

	// Then both learn about each other
	msgs = connA.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypePeerJoined, msgs[0].Type)
	req.JSONEq(`{"peerId":"`+string(b)+`","peerRole":"guest"}`, string(msgs[0].Payload))

	msgs = connB.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypePeerJoined, msgs[0].Type)
	req.JSONEq(`{"peerId":"`+string(a)+`","peerRole":"host"}`, string(msgs[0].Payload))

	// When B disconnects
	o.OnDisconnect(b)

	// Then A is told and stays alone in r1
	msgs = connA.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypePeerLeft, msgs[0].Type)
	req.JSONEq(`{"peerId":"`+string(b)+`"}`, string(msgs[0].Payload))

	members, ok := o.Rooms.Members("r1")
	req.True(ok)
	req.Equal([]domain.SessionID{a}, members)
	_, ok = o.Registry.Lookup(b)
	req.False(ok)
	req.True(connB.closed)
}

func TestOrchestrator_RelayOffer(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	c, connC := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	joinRoom(o, c, "r2", "host")
	connA.drain(t)
	connB.drain(t)
	connC.drain(t)

	before := testutil.ToFloat64(metricRelayed.WithLabelValues("offer"))

	// When A sends an offer carrying a stray target
	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{"sdp":"x"},"target":"`+string(c)+`"}`))

	// Then only B receives it, stamped with A as sender and no target
	msgs := connB.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypeOffer, msgs[0].Type)
	req.JSONEq(`{"sdp":"x"}`, string(msgs[0].Payload))
	req.Equal(a, msgs[0].Sender)
	req.Empty(msgs[0].Target)

	req.Empty(connA.drain(t))
	req.Empty(connC.drain(t))
	req.Equal(before+1, testutil.ToFloat64(metricRelayed.WithLabelValues("offer")))
}

func TestOrchestrator_RelayAllNegotiationTypes(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "")
	joinRoom(o, b, "r1", "")
	connA.drain(t)
	connB.drain(t)

	for _, typ := range []string{"answer", "ice-candidate", "hangup"} {
		o.OnMessage(b, core.Frame(`{"type":"`+typ+`","payload":{"k":1}}`))
		msgs := connA.drain(t)
		req.Len(msgs, 1, typ)
		req.Equal(core.MessageType(typ), msgs[0].Type)
		req.Equal(b, msgs[0].Sender)
		req.JSONEq(`{"k":1}`, string(msgs[0].Payload))
	}
}

func TestOrchestrator_RelayKeepsExtraFields(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	// When A sends a candidate with a field outside the envelope
	o.OnMessage(a, core.Frame(`{"type":"ice-candidate","payload":{"c":1},"candidate":{"sdpMid":"0"}}`))

	// Then B gets every field, stamped with A as sender
	frames := connB.raw()
	req.Len(frames, 1)
	req.JSONEq(`{"type":"ice-candidate","payload":{"c":1},"candidate":{"sdpMid":"0"},"sender":"`+string(a)+`"}`, frames[0])
}

func TestOrchestrator_RelayOverwritesSpoofedSender(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{"sdp":"x"},"sender":42}`))

	frames := connB.raw()
	req.Len(frames, 1)
	req.JSONEq(`{"type":"offer","payload":{"sdp":"x"},"sender":"`+string(a)+`"}`, frames[0])
}

func TestOrchestrator_DropPolicyKeepsStalledPeer(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	o.Policy = app.DropPolicy{}
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	connB.mu.Lock()
	connB.sendErr = core.ErrBackpressure
	connB.mu.Unlock()

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{}}`))

	// Then the frame is lost but B stays connected and in the room
	req.False(connB.closed)
	req.Empty(connA.drain(t))
	members, _ := o.Rooms.Members("r1")
	req.Equal([]domain.SessionID{a, b}, members)
}

func TestOrchestrator_RelayBeforeJoinIsDropped(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	_, connB := connect(t, o)

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{"sdp":"x"}}`))

	req.Empty(connA.drain(t))
	req.Empty(connB.drain(t))
	req.False(connA.closed)
}

func TestOrchestrator_RelayAloneIsDropped(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	joinRoom(o, a, "r1", "host")
	connA.drain(t)

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{}}`))

	req.Empty(connA.drain(t))
}

func TestOrchestrator_RelayToClosedPeerReportsError(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	// Given B's transport died but its close has not been processed yet
	connB.Close()

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{"sdp":"x"}}`))

	msgs := connA.drain(t)
	req.Len(msgs, 1)
	req.Equal("peer "+string(b)+" not found or offline", errorMessage(t, msgs[0]))
}

func TestOrchestrator_BackpressureKicksPeer(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	connB.mu.Lock()
	connB.sendErr = core.ErrBackpressure
	connB.mu.Unlock()

	o.OnMessage(a, core.Frame(`{"type":"offer","payload":{}}`))

	// Then the stalled peer is closed; the sender gets nothing
	req.True(connB.closed)
	req.Empty(connA.drain(t))
}

func TestOrchestrator_RejoinSameRoomIsNoop(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, connB := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	connA.drain(t)
	connB.drain(t)

	// When B re-sends the identical join
	joinRoom(o, b, "r1", "guest")

	// Then nobody is notified and membership is unchanged
	req.Empty(connA.drain(t))
	req.Empty(connB.drain(t))
	members, _ := o.Rooms.Members("r1")
	req.Equal([]domain.SessionID{a, b}, members)
}

func TestOrchestrator_JoinFullRoom(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, _ := connect(t, o)
	b, _ := connect(t, o)
	c, connC := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")

	joinRoom(o, c, "r1", "guest")

	msgs := connC.drain(t)
	req.Len(msgs, 1)
	req.Equal("room r1 is full", errorMessage(t, msgs[0]))

	members, _ := o.Rooms.Members("r1")
	req.Equal([]domain.SessionID{a, b}, members)
	sess, _ := o.Registry.Lookup(c)
	req.False(sess.InRoom())
}

func TestOrchestrator_RoomIDIsOpaque(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, _ := connect(t, o)
	b, _ := connect(t, o)
	c, connC := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")

	// When a third peer joins an id differing only by whitespace
	joinRoom(o, c, " r1 ", "guest")

	// Then it lands in its own room
	msgs := connC.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypeWaitingForPeer, msgs[0].Type)
	members, ok := o.Rooms.Members(" r1 ")
	req.True(ok)
	req.Equal([]domain.SessionID{c}, members)
}

func TestOrchestrator_JoinDifferentRoomIsRejected(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	joinRoom(o, a, "r1", "host")
	connA.drain(t)

	joinRoom(o, a, "r2", "host")

	msgs := connA.drain(t)
	req.Len(msgs, 1)
	req.Equal("already in room r1", errorMessage(t, msgs[0]))

	sess, _ := o.Registry.Lookup(a)
	req.Equal(domain.RoomID("r1"), sess.Room)
	_, ok := o.Rooms.Members("r2")
	req.False(ok)
}

func TestOrchestrator_MalformedInputKeepsConnection(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)

	for _, raw := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"bogus"}`,
		`{"type":"join-room"}`,
		`{"type":"join-room","payload":{"role":"host"}}`,
		`{"type":"join-room","payload":"r1"}`,
	} {
		o.OnMessage(a, core.Frame(raw))
	}

	req.Empty(connA.drain(t))
	req.False(connA.closed)
	sess, ok := o.Registry.Lookup(a)
	req.True(ok)
	req.False(sess.InRoom())
}

func TestOrchestrator_RoleDefaultsToUnknown(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, _ := connect(t, o)
	b, connB := connect(t, o)
	o.OnMessage(a, core.Frame(`{"type":"join-room","payload":{"roomId":"r1"}}`))
	joinRoom(o, b, "r1", "guest")

	msgs := connB.drain(t)
	req.Len(msgs, 1)
	req.JSONEq(`{"peerId":"`+string(a)+`","peerRole":"unknown"}`, string(msgs[0].Payload))
}

func TestOrchestrator_DisconnectSoleOccupantDeletesRoom(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	joinRoom(o, a, "r1", "host")

	o.OnDisconnect(a)

	_, ok := o.Rooms.Members("r1")
	req.False(ok)
	req.Zero(o.Rooms.Count())
	req.Zero(o.Registry.Count())
	req.True(connA.closed)
	req.Zero(testutil.ToFloat64(metricRoomsActive))

	// A second close/error event for the same session is harmless
	o.OnDisconnect(a)
	req.Equal(1, connA.closeCnt)
}

func TestOrchestrator_DisconnectWithoutRoom(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, _ := connect(t, o)
	_, connB := connect(t, o)

	o.OnDisconnect(a)

	req.Empty(connB.drain(t))
	req.Equal(1, o.Registry.Count())
}

func TestOrchestrator_RoomFreedSlotCanBeTaken(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()
	a, connA := connect(t, o)
	b, _ := connect(t, o)
	c, connC := connect(t, o)
	joinRoom(o, a, "r1", "host")
	joinRoom(o, b, "r1", "guest")
	o.OnDisconnect(b)
	connA.drain(t)

	joinRoom(o, c, "r1", "guest")

	msgs := connC.drain(t)
	req.Len(msgs, 1)
	req.Equal(core.TypePeerJoined, msgs[0].Type)
	msgs = connA.drain(t)
	req.Len(msgs, 1)
	req.JSONEq(`{"peerId":"`+string(c)+`","peerRole":"guest"}`, string(msgs[0].Payload))
}

func TestOrchestrator_ConcurrentJoinsRespectCapacity(t *testing.T) {
	req := require.New(t)
	o := newOrchestrator()

	sids := make([]domain.SessionID, 20)
	for i := range sids {
		sids[i], _ = connect(t, o)
	}

	var wg sync.WaitGroup
	for _, sid := range sids {
		wg.Add(1)
		go func(sid domain.SessionID) {
			defer wg.Done()
			joinRoom(o, sid, "busy", "peer")
		}(sid)
	}
	wg.Wait()

	members, ok := o.Rooms.Members("busy")
	req.True(ok)
	req.Len(members, domain.RoomCapacity)

	inRoom := 0
	for _, sid := range sids {
		sess, _ := o.Registry.Lookup(sid)
		if sess.InRoom() {
			inRoom++
			req.Contains(members, sid)
		}
	}
	req.Equal(domain.RoomCapacity, inRoom)
}
