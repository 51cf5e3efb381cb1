// Package scratchomised keeps a live websocket link to a home-design
// application and mirrors the scene objects it publishes.
//
// A Session owns one connection at a time. All state changes happen on a
// single event-loop goroutine fed by commands (Connect, Reconnect, Reset),
// transport events and timers, so frames are handled in receipt order and
// a stale timer or socket can never revive a connection that was torn down.
package scratchomised

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

type eventKind int

const (
	evConnect eventKind = iota
	evReconnect
	evReset
	evShutdown
	evDialed
	evDialFailed
	evFrame
	evClosed
	evRetry
	evGrace
)

type event struct {
	kind   eventKind
	gen    uint64
	target Target
	conn   Conn
	data   []byte
	err    error
	done   chan struct{}
}

// link is one dial and, once it succeeds, the connection it produced.
type link struct {
	gen     uint64
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	conn    Conn
	writeCh chan []byte
}

// Session is the connection manager. Create it with NewSession.
type Session struct {
	cfg        Config
	store      *ObjectStore
	clicks     *ClickLedger
	dispatcher *Dispatcher
	inbox      *mailbox[event]
	stopped    chan struct{}
	menu       atomic.Uint64
	sched      scheduler

	mu        sync.Mutex
	logger    Logger
	dialer    Dialer
	state     ConnectionState
	target    Target
	attempts  int
	live      *link
	closed    bool
	onState   func(StateEvent)
	onError   func(error)
	onObjects func(ObjectsEvent)
	onClick   func(ClickEvent)

	// owned by the loop goroutine
	wants     bool
	gen       uint64
	cur       *link
	retry     *retryPolicy
	stopRetry func() bool
	stopGrace func() bool
}

// NewSession validates cfg and starts the (idle) event loop.
// Nothing is dialed until Connect or Reconnect.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		store:   NewObjectStore(),
		clicks:  NewClickLedger(),
		inbox:   newMailbox[event](),
		stopped: make(chan struct{}),
		sched:   timeScheduler{},
		logger:  noopLogger{},
		dialer:  wsDialer{cfg: cfg},
		target:  cfg.Target,
		retry:   newRetryPolicy(cfg),
	}
	s.dispatcher = NewDispatcher(s.store, s.clicks, loggerRef{s})
	s.dispatcher.SetReply(func(action string) { _ = s.Send(action, nil) })
	s.dispatcher.SetOnObjects(func(ev ObjectsEvent) {
		s.menu.Add(1)
		s.mu.Lock()
		fn := s.onObjects
		s.mu.Unlock()
		if fn != nil {
			s.safely("objects callback", func() { fn(ev) })
		}
	})
	s.dispatcher.SetOnClick(func(ev ClickEvent) {
		s.mu.Lock()
		fn := s.onClick
		s.mu.Unlock()
		if fn != nil {
			s.safely("click callback", func() { fn(ev) })
		}
	})
	s.dispatcher.SetOnError(s.fireError)

	go s.run()
	return s, nil
}

// SetLogger overrides logger (optional).
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// SetDialer replaces the websocket dialer. It applies to the next dial.
func (s *Session) SetDialer(d Dialer) {
	if d == nil {
		return
	}
	s.mu.Lock()
	s.dialer = d
	s.mu.Unlock()
}

// OnStateChanged registers callback for state transitions.
func (s *Session) OnStateChanged(fn func(StateEvent)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnError registers callback for dropped frames and connection failures.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnObjects registers callback for wholesale refreshes.
func (s *Session) OnObjects(fn func(ObjectsEvent)) {
	s.mu.Lock()
	s.onObjects = fn
	s.mu.Unlock()
}

// OnClick registers callback for clicks. The click is recorded in the
// ledger whether or not a callback is set.
func (s *Session) OnClick(fn func(ClickEvent)) {
	s.mu.Lock()
	s.onClick = fn
	s.mu.Unlock()
}

// Connect replaces the target and starts a fresh connection cycle with
// automatic reconnection enabled.
func (s *Session) Connect(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return s.command(ctx, event{kind: evConnect, target: target})
}

// Reconnect restarts the connection cycle against the current target,
// clearing the retry counters.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.command(ctx, event{kind: evReconnect})
}

// Reset closes the connection, cancels pending timers, clears objects and
// clicks and disables reconnection. The target is kept.
func (s *Session) Reset(ctx context.Context) error {
	return s.command(ctx, event{kind: evReset})
}

// Close resets the session and stops its event loop. The session cannot be
// used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inbox.push(event{kind: evShutdown})
	<-s.stopped
	return nil
}

// Send writes one envelope if the connection is open. Otherwise the message
// is dropped, logged and an ErrorNotConnected error is returned; the session
// state is left alone either way.
func (s *Session) Send(action string, args any) error {
	s.mu.Lock()
	l, state := s.live, s.state
	s.mu.Unlock()
	if l == nil || state != StateOpen {
		s.log().Warn("cannot send, not connected", map[string]any{"action": action, "state": state.String()})
		return NewError(ErrorNotConnected, "cannot send "+action+" while "+state.String())
	}
	data, err := Encode(action, args)
	if err != nil {
		s.log().Error("cannot encode message", map[string]any{"action": action, "error": err.Error()})
		return err
	}
	select {
	case l.writeCh <- data:
		s.log().Debug("message queued", map[string]any{"action": action, "size": len(data)})
		return nil
	default:
		s.log().Warn("send queue full, message dropped", map[string]any{"action": action})
		return NewError(ErrorConnection, "send queue full, dropped "+action)
	}
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the connection is open.
func (s *Session) IsConnected() bool {
	return s.State() == StateOpen
}

func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) Host() string   { return s.Target().Host }
func (s *Session) Port() int      { return s.Target().Port }
func (s *Session) Scheme() Scheme { return s.Target().Scheme }

// Attempts is the number of failed attempts since the last open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Objects exposes the mirrored objects for queries.
func (s *Session) Objects() *ObjectStore { return s.store }

func (s *Session) ObjectCount() int { return s.store.Len() }

// Clicks exposes the click ledger.
func (s *Session) Clicks() *ClickLedger { return s.clicks }

// ConsumeClick reports whether id was clicked since the last call for id.
func (s *Session) ConsumeClick(id string) bool { return s.clicks.Consume(id) }

// MenuVersion grows whenever selectable objects may have changed.
func (s *Session) MenuVersion() uint64 { return s.menu.Load() }

func (s *Session) command(ctx context.Context, ev event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NewError(ErrorClosed, "session closed")
	}
	ev.done = make(chan struct{})
	if !s.inbox.push(ev) {
		return NewError(ErrorClosed, "session closed")
	}
	select {
	case <-ev.done:
		return nil
	case <-s.stopped:
		return NewError(ErrorClosed, "session closed")
	case <-ctx.Done():
		return WrapError(ErrorTimeout, "waiting for session", ctx.Err())
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		ev, ok := s.inbox.pop()
		if !ok {
			return
		}
		stop := s.handle(ev)
		if ev.done != nil {
			close(ev.done)
		}
		if stop {
			s.inbox.close()
			return
		}
	}
}

func (s *Session) handle(ev event) (stop bool) {
	switch ev.kind {
	case evConnect:
		s.mu.Lock()
		s.target = ev.target
		s.mu.Unlock()
		s.start("connect requested")
	case evReconnect:
		s.start("reconnect requested")
	case evReset:
		s.reset()
	case evShutdown:
		s.reset()
		return true
	case evDialed:
		s.opened(ev)
	case evDialFailed, evClosed:
		s.lost(ev)
	case evFrame:
		if s.current(ev.gen) && s.cur.conn != nil {
			s.dispatcher.Dispatch(ev.data)
		}
	case evRetry:
		s.stopRetry = nil
		if ev.gen == s.gen && s.wants && s.cur == nil {
			s.dial()
		}
	case evGrace:
		s.stopGrace = nil
		if s.current(ev.gen) && s.cur.conn != nil && s.State() == StateOpen {
			_ = s.Send(ActionClientReady, nil)
		}
	}
	return false
}

func (s *Session) current(gen uint64) bool {
	return s.cur != nil && s.cur.gen == gen
}

func (s *Session) start(reason string) {
	s.wants = true
	s.setAttempts(0)
	s.retry.reset()
	s.stopTimers()
	s.teardown(reason)
	s.dial()
}

func (s *Session) reset() {
	s.wants = false
	s.stopTimers()
	s.teardown("reset requested")
	s.store.Clear()
	s.clicks.Clear()
	s.setAttempts(0)
	s.retry.reset()
	s.menu.Add(1)
	s.transition(StateIdle, StateEvent{})
	s.log().Info("session reset", map[string]any{"menu_version": s.menu.Load()})
}

func (s *Session) dial() {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{gen: s.gen, id: ulid.Make().String(), ctx: ctx, cancel: cancel}
	s.cur = l

	s.mu.Lock()
	target, dialer, attempts := s.target, s.dialer, s.attempts
	s.mu.Unlock()

	s.transition(StateConnecting, StateEvent{DialID: l.id})
	s.log().Info("connecting", map[string]any{
		"url": target.URL(), "subprotocol": s.cfg.Subprotocol, "dial": l.id, "attempt": attempts,
	})

	go func() {
		conn, err := dialer.Dial(ctx, target, s.cfg.Subprotocol)
		if err != nil {
			s.inbox.push(event{kind: evDialFailed, gen: l.gen, err: err})
			return
		}
		if !s.inbox.push(event{kind: evDialed, gen: l.gen, conn: conn}) {
			_ = conn.Close(StatusGoingAway, "session closed")
		}
	}()
}

func (s *Session) opened(ev event) {
	if !s.current(ev.gen) || s.cur.conn != nil {
		go func() { _ = ev.conn.Close(StatusNormalClosure, "superseded") }()
		return
	}
	l := s.cur
	l.conn = ev.conn
	l.writeCh = make(chan []byte, s.cfg.SendQueueSize)
	go s.readLoop(l)
	go s.writeLoop(l)

	s.setAttempts(0)
	s.retry.reset()
	s.mu.Lock()
	s.live = l
	s.mu.Unlock()
	s.transition(StateOpen, StateEvent{DialID: l.id})
	s.log().Info("connected", map[string]any{"dial": l.id})

	gen := l.gen
	s.stopGrace = s.sched.AfterFunc(s.cfg.HandshakeGrace, func() {
		s.inbox.push(event{kind: evGrace, gen: gen})
	})
}

func (s *Session) lost(ev event) {
	if !s.current(ev.gen) {
		return
	}
	l := s.cur
	s.drop(l, "connection lost")
	s.stopGrace = stopTimer(s.stopGrace)

	var ce *CloseError
	clean := ev.kind == evClosed && errors.As(ev.err, &ce) && ce.Code == StatusNormalClosure && ce.Err == nil
	code := closeCode(ev.err)
	fields := map[string]any{"dial": l.id, "code": int(code)}
	if ev.err != nil {
		fields["error"] = ev.err.Error()
	}

	if !s.wants {
		s.transition(StateIdle, StateEvent{DialID: l.id})
		return
	}
	if clean {
		s.wants = false
		s.log().Info("clean close, not reconnecting", fields)
		s.transition(StateIdle, StateEvent{DialID: l.id})
		return
	}

	var cause error
	if ev.kind == evDialFailed {
		cause = ev.err
		if CodeOf(cause) == ErrorUnknown {
			cause = WrapError(ErrorConnection, "dial failed", ev.err)
		}
	} else {
		cause = WrapError(ErrorDisconnected, "connection lost", ev.err)
	}
	s.log().Warn("disconnected", fields)
	s.fireError(cause)

	attempts := s.Attempts()
	if attempts >= s.cfg.MaxAttempts {
		s.wants = false
		exhausted := WrapError(ErrorRetriesExhausted, fmt.Sprintf("gave up after %d attempts", attempts), cause)
		s.log().Error("max reconnection attempts reached", map[string]any{"attempts": attempts})
		s.transition(StateIdle, StateEvent{DialID: l.id, Error: exhausted})
		s.fireError(exhausted)
		return
	}

	attempts++
	s.setAttempts(attempts)
	delay := s.retry.next(attempts, code != StatusNormalClosure)
	s.log().Info("reconnecting", map[string]any{
		"delay": delay.String(), "attempt": attempts, "max_attempts": s.cfg.MaxAttempts,
	})
	s.transition(StateBackoff, StateEvent{DialID: l.id, Delay: delay, Error: cause})

	gen := s.gen
	s.stopRetry = s.sched.AfterFunc(delay, func() {
		s.inbox.push(event{kind: evRetry, gen: gen})
	})
}

// teardown abandons the current dial or connection, if any.
func (s *Session) teardown(reason string) {
	l := s.cur
	if l == nil {
		return
	}
	if l.conn != nil {
		s.transition(StateClosing, StateEvent{DialID: l.id})
	}
	s.drop(l, reason)
}

// drop detaches l so none of its events are acted on, then closes it in the
// background.
func (s *Session) drop(l *link, reason string) {
	s.cur = nil
	s.mu.Lock()
	if s.live == l {
		s.live = nil
	}
	s.mu.Unlock()
	if l.conn == nil {
		l.cancel()
		return
	}
	go func() {
		_ = l.conn.Close(StatusNormalClosure, reason)
		l.cancel()
	}()
}

func (s *Session) stopTimers() {
	s.stopRetry = stopTimer(s.stopRetry)
	s.stopGrace = stopTimer(s.stopGrace)
}

func stopTimer(stop func() bool) func() bool {
	if stop != nil {
		stop()
	}
	return nil
}

func (s *Session) readLoop(l *link) {
	for {
		data, err := l.conn.Read(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				s.inbox.push(event{kind: evClosed, gen: l.gen, err: err})
			}
			return
		}
		s.inbox.push(event{kind: evFrame, gen: l.gen, data: data})
	}
}

func (s *Session) writeLoop(l *link) {
	for {
		select {
		case data := <-l.writeCh:
			if err := l.conn.Write(l.ctx, data); err != nil {
				if l.ctx.Err() == nil {
					s.inbox.push(event{kind: evClosed, gen: l.gen, err: &CloseError{Code: StatusAbnormalClosure, Err: err}})
				}
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (s *Session) transition(next ConnectionState, ev StateEvent) {
	s.mu.Lock()
	old := s.state
	s.state = next
	fn := s.onState
	ev.Attempt = s.attempts
	s.mu.Unlock()
	if old == next {
		return
	}
	ev.OldState, ev.NewState = old, next
	s.log().Debug("state changed", map[string]any{"from": old.String(), "to": next.String()})
	if fn != nil {
		s.safely("state callback", func() { fn(ev) })
	}
}

func (s *Session) setAttempts(n int) {
	s.mu.Lock()
	s.attempts = n
	s.mu.Unlock()
}

func (s *Session) fireError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil && err != nil {
		s.safely("error callback", func() { fn(err) })
	}
}

// safely keeps a panicking callback from taking the event loop down.
func (s *Session) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error(what+" panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	fn()
}

func (s *Session) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// loggerRef lets the dispatcher follow SetLogger.
type loggerRef struct{ s *Session }

func (r loggerRef) Debug(msg string, f map[string]any) { r.s.log().Debug(msg, f) }
func (r loggerRef) Info(msg string, f map[string]any)  { r.s.log().Info(msg, f) }
func (r loggerRef) Warn(msg string, f map[string]any)  { r.s.log().Warn(msg, f) }
func (r loggerRef) Error(msg string, f map[string]any) { r.s.log().Error(msg, f) }

// waitState blocks until the session reaches want or ctx ends.
func (s *Session) waitState(ctx context.Context, want ConnectionState, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		if s.State() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return WrapError(ErrorTimeout, "waiting for "+want.String(), ctx.Err())
		case <-t.C:
		}
	}
}

// WaitConnected blocks until the connection is open or ctx ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	return s.waitState(ctx, StateOpen, 10*time.Millisecond)
}
