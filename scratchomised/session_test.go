package scratchomised

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSessionBackoffSequence(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Connect(testCtx(t), DefaultTarget()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	want := []time.Duration{
		2 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, d := range want {
		h.dialer.waitCall(t)
		h.dialer.fail(errors.New("connection refused"))
		timer := h.sched.next(t)
		if timer.d != d {
			t.Fatalf("retry %d: delay %s, want %s", i+1, timer.d, d)
		}
		waitFor(t, "backoff", func() bool { return h.s.State() == StateBackoff })
		assert.Equal(t, h.s.Attempts(), i+1)
		timer.fire()
	}

	h.dialer.waitCall(t)
	h.dialer.fail(errors.New("connection refused"))
	h.errorWithCode(t, ErrorRetriesExhausted)
	waitFor(t, "idle", func() bool { return h.s.State() == StateIdle })
	h.sched.none(t)
	h.dialer.noCall(t)
	assert.Equal(t, h.s.IsConnected(), false)
}

func TestSessionCleanCloseDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)

	grace := h.sched.next(t)
	assert.Equal(t, grace.d, DefaultConfig().HandshakeGrace)

	conn.peerClose(&CloseError{Code: StatusNormalClosure})
	waitFor(t, "idle", func() bool { return h.s.State() == StateIdle })

	assert.Equal(t, grace.isStopped(), true)
	h.sched.none(t)
	h.dialer.noCall(t)
	assert.Equal(t, h.s.IsConnected(), false)
	assert.Equal(t, h.s.Attempts(), 0)
}

func TestSessionAbruptCloseRetriesAfterFloor(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)
	h.sched.next(t) // grace

	conn.peerClose(&CloseError{Code: StatusAbnormalClosure, Err: io.ErrUnexpectedEOF})
	h.errorWithCode(t, ErrorDisconnected)
	retry := h.sched.next(t)
	assert.Equal(t, retry.d, 2*time.Second)
	waitFor(t, "backoff", func() bool { return h.s.State() == StateBackoff })
	assert.Equal(t, h.s.Attempts(), 1)

	retry.fire()
	h.dialer.waitCall(t)
	again := newFakeConn()
	h.dialer.succeed(again)
	waitFor(t, "reopen", h.s.IsConnected)
	assert.Equal(t, h.s.Attempts(), 0)
}

func TestSessionPeerCloseWithOtherCodeRetries(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)
	h.sched.next(t)

	conn.peerClose(&CloseError{Code: StatusGoingAway, Reason: "restarting"})
	retry := h.sched.next(t)
	assert.Equal(t, retry.d, 2*time.Second)
}

func TestSessionSendsClientReadyAfterGrace(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)

	select {
	case b := <-conn.written:
		t.Fatalf("wrote %s before the grace period", b)
	default:
	}
	h.sched.next(t).fire()
	env := conn.nextWritten(t)
	assert.Equal(t, env.Action, ActionClientReady)
}

func TestSessionGraceTimerIgnoredAfterDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)
	grace := h.sched.next(t)

	if err := h.s.Reset(testCtx(t)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	// the callback runs even though the timer was stopped
	grace.f()
	time.Sleep(20 * time.Millisecond)
	select {
	case b := <-conn.written:
		t.Fatalf("stale grace timer wrote %s", b)
	default:
	}
}

func TestSessionSendNotConnected(t *testing.T) {
	h := newHarness(t)
	err := h.s.Send(ActionTestAck, nil)
	if !errors.Is(err, NewError(ErrorNotConnected, "")) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	assert.Equal(t, h.s.State(), StateIdle)

	err = h.s.SetLight("light-1", true)
	assert.Equal(t, CodeOf(err), ErrorNotConnected)
	assert.Equal(t, h.s.State(), StateIdle)
}

func TestSessionRepliesToTestAndWelcome(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)

	conn.frames <- []byte(`{"action":"welcome","args":{}}`)
	assert.Equal(t, conn.nextWritten(t).Action, ActionWelcomeAck)
	conn.frames <- []byte(`{"action":"test","args":{"message":"ping"}}`)
	assert.Equal(t, conn.nextWritten(t).Action, ActionTestAck)
}

func TestSessionObjectsAndClicks(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	events := make(chan ObjectsEvent, 4)
	clicks := make(chan ClickEvent, 4)
	h.s.OnObjects(func(ev ObjectsEvent) { events <- ev })
	h.s.OnClick(func(ev ClickEvent) { clicks <- ev })
	h.open(t, conn)
	before := h.s.MenuVersion()

	conn.frames <- []byte(`{"action":"update_objects","args":{"objects":[
		{"id":"l1","name":"Kitchen lamp","color":16776960,"__scratchomisedClasses":["com.eteks.sweethome3d.model.HomeLight"]},
		{"id":"s1","name":"Hall switch"}]}}`)
	ev := <-events
	assert.Equal(t, ev.Count, 2)
	assert.Equal(t, h.s.ObjectCount(), 2)
	assert.Equal(t, h.s.MenuVersion(), before+1)
	assert.Equal(t, h.s.IsLit("l1"), true)
	assert.Equal(t, h.s.Objects().LightsMenu(), Menu{{Text: "Kitchen lamp", Value: "l1"}})

	conn.frames <- []byte(`{"action":"object_clicked","args":{"object_id":"s1"}}`)
	assert.Equal(t, (<-clicks).ObjectID, "s1")
	assert.Equal(t, h.s.ConsumeClick("s1"), true)
	assert.Equal(t, h.s.ConsumeClick("s1"), false)
}

func TestSessionResetThenConnect(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)
	h.sched.next(t)

	conn.frames <- []byte(`{"action":"update_objects","args":{"objects":[{"id":"a","name":"A"}]}}`)
	conn.frames <- []byte(`{"action":"object_clicked","args":{"object_id":"a"}}`)
	waitFor(t, "click", func() bool { return len(h.s.Clicks().Pending()) == 1 })
	version := h.s.MenuVersion()

	if err := h.s.Reset(testCtx(t)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	assert.Equal(t, conn.waitClosed(t), StatusNormalClosure)
	assert.Equal(t, h.s.State(), StateIdle)
	assert.Equal(t, h.s.ObjectCount(), 0)
	assert.Equal(t, h.s.ConsumeClick("a"), false)
	assert.Equal(t, h.s.Attempts(), 0)
	if h.s.MenuVersion() <= version {
		t.Fatalf("menu version did not move: %d", h.s.MenuVersion())
	}
	assert.Equal(t, h.s.Target(), DefaultTarget())

	other := Target{Host: "10.0.0.7", Port: 6000, Scheme: SchemeSecure}
	if err := h.s.Connect(testCtx(t), other); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	assert.Equal(t, h.dialer.waitCall(t), other)
	assert.Equal(t, h.s.State(), StateConnecting)
	assert.Equal(t, h.s.Attempts(), 0)
	assert.Equal(t, h.s.Host(), "10.0.0.7")
	assert.Equal(t, h.s.Port(), 6000)
	assert.Equal(t, h.s.Scheme(), SchemeSecure)
}

func TestSessionResetCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Connect(testCtx(t), DefaultTarget()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.dialer.waitCall(t)
	h.dialer.fail(errors.New("refused"))
	retry := h.sched.next(t)

	if err := h.s.Reset(testCtx(t)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	assert.Equal(t, retry.isStopped(), true)

	retry.f()
	h.dialer.noCall(t)
	assert.Equal(t, h.s.State(), StateIdle)
}

func TestSessionReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t)
	first := newFakeConn()
	h.open(t, first)

	if err := h.s.Reconnect(testCtx(t)); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	first.waitClosed(t)
	h.dialer.waitCall(t)
	second := newFakeConn()
	h.dialer.succeed(second)
	waitFor(t, "open", h.s.IsConnected)

	// frames from the abandoned conn are never dispatched
	first.frames <- []byte(`{"action":"update_objects","args":{"objects":[{"id":"x"}]}}`)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, h.s.ObjectCount(), 0)
}

func TestSessionStateEvents(t *testing.T) {
	h := newHarness(t)
	states := make(chan StateEvent, 16)
	h.s.OnStateChanged(func(ev StateEvent) { states <- ev })
	h.open(t, newFakeConn())

	ev := <-states
	assert.Equal(t, ev.OldState, StateIdle)
	assert.Equal(t, ev.NewState, StateConnecting)
	if len(ev.DialID) != 26 {
		t.Fatalf("dial id %q is not a ULID", ev.DialID)
	}
	open := <-states
	assert.Equal(t, open.NewState, StateOpen)
	assert.Equal(t, open.DialID, ev.DialID)
}

func TestSessionSurvivesPanickingCallback(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.s.OnObjects(func(ObjectsEvent) { panic("boom") })
	h.open(t, conn)

	conn.frames <- []byte(`{"action":"update_objects","args":{"objects":[{"id":"a"}]}}`)
	conn.frames <- []byte(`{"action":"welcome"}`)
	assert.Equal(t, conn.nextWritten(t).Action, ActionWelcomeAck)
	assert.Equal(t, h.s.ObjectCount(), 1)
}

func TestSessionBadFrameKeepsConnection(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.open(t, conn)

	conn.frames <- []byte(`not json`)
	h.errorWithCode(t, ErrorSerialization)
	assert.Equal(t, h.s.IsConnected(), true)
}

func TestSessionClosed(t *testing.T) {
	s, err := NewSession(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	_ = s.Close()
	_ = s.Close()
	err = s.Connect(testCtx(t), DefaultTarget())
	assert.Equal(t, CodeOf(err), ErrorClosed)
}

func TestSessionConnectRejectsBadTarget(t *testing.T) {
	h := newHarness(t)
	err := h.s.Connect(testCtx(t), Target{Host: "", Port: 1, Scheme: SchemePlain})
	assert.Equal(t, CodeOf(err), ErrorInvalidConfig)
	h.dialer.noCall(t)
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendQueueSize = 0
	_, err := NewSession(cfg)
	assert.Equal(t, CodeOf(err), ErrorInvalidConfig)
}
