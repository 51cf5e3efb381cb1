package scratchomised

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	frames  chan []byte
	closeCh chan error
	written chan []byte

	once      sync.Once
	done      chan struct{}
	mu        sync.Mutex
	closeCode StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		closeCh: make(chan error, 1),
		written: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.closeCh:
		return nil, err
	case <-c.done:
		return nil, &CloseError{Code: StatusNormalClosure}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errors.New("write on closed conn")
	default:
	}
	select {
	case c.written <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(code StatusCode, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// peerClose simulates the peer ending the connection.
func (c *fakeConn) peerClose(err error) { c.closeCh <- err }

func (c *fakeConn) waitClosed(t *testing.T) StatusCode {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("conn was not closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// nextWritten decodes the next frame the session wrote.
func (c *fakeConn) nextWritten(t *testing.T) Envelope {
	t.Helper()
	select {
	case b := <-c.written:
		env, err := Decode(b)
		if err != nil {
			t.Fatalf("session wrote bad frame %q: %v", b, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing written")
	}
	return Envelope{}
}

type dialResult struct {
	conn Conn
	err  error
}

type fakeDialer struct {
	calls   chan Target
	results chan dialResult
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{calls: make(chan Target, 32), results: make(chan dialResult, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, target Target, subprotocol string) (Conn, error) {
	d.calls <- target
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) waitCall(t *testing.T) Target {
	t.Helper()
	select {
	case tg := <-d.calls:
		return tg
	case <-time.After(2 * time.Second):
		t.Fatalf("no dial")
	}
	return Target{}
}

func (d *fakeDialer) noCall(t *testing.T) {
	t.Helper()
	select {
	case tg := <-d.calls:
		t.Fatalf("unexpected dial to %s", tg)
	case <-time.After(50 * time.Millisecond):
	}
}

func (d *fakeDialer) succeed(c *fakeConn) { d.results <- dialResult{conn: c} }
func (d *fakeDialer) fail(err error)     { d.results <- dialResult{err: err} }

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (ft *fakeTimer) fire() {
	ft.mu.Lock()
	if ft.stopped || ft.fired {
		ft.mu.Unlock()
		return
	}
	ft.fired = true
	ft.mu.Unlock()
	ft.f()
}

func (ft *fakeTimer) isStopped() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stopped
}

type fakeScheduler struct {
	added chan *fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{added: make(chan *fakeTimer, 64)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	ft := &fakeTimer{d: d, f: f}
	s.added <- ft
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		was := !ft.stopped && !ft.fired
		ft.stopped = true
		return was
	}
}

func (s *fakeScheduler) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case ft := <-s.added:
		return ft
	case <-time.After(2 * time.Second):
		t.Fatalf("no timer scheduled")
	}
	return nil
}

func (s *fakeScheduler) none(t *testing.T) {
	t.Helper()
	select {
	case ft := <-s.added:
		t.Fatalf("unexpected timer for %s", ft.d)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	s      *Session
	dialer *fakeDialer
	sched  *fakeScheduler
	errs   chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := NewSession(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h := &harness{s: s, dialer: newFakeDialer(), sched: newFakeScheduler(), errs: make(chan error, 64)}
	s.sched = h.sched
	s.SetDialer(h.dialer)
	s.OnError(func(err error) { h.errs <- err })
	t.Cleanup(func() { _ = s.Close() })
	return h
}

// open connects and drives the session to StateOpen with conn.
func (h *harness) open(t *testing.T, conn *fakeConn) {
	t.Helper()
	if err := h.s.Connect(testCtx(t), DefaultTarget()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.dialer.waitCall(t)
	h.dialer.succeed(conn)
	waitFor(t, "open", h.s.IsConnected)
}

func (h *harness) errorWithCode(t *testing.T, code ErrorCode) error {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-h.errs:
			if CodeOf(err) == code {
				return err
			}
		case <-deadline:
			t.Fatalf("no %s error reported", code)
			return nil
		}
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
