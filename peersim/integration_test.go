package peersim_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/scratchomised/scratchomised-sdk-go/peersim"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised/rest"
)

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]any) {}
func (nopLogger) Info(string, map[string]any)  {}
func (nopLogger) Warn(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}

type fixture struct {
	sim     *peersim.Server
	srv     *httptest.Server
	api     *rest.Client
	session *scratchomised.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := peersim.New(peersim.DefaultCatalog())
	sim.SetLogger(nopLogger{})
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	cfg := scratchomised.DefaultConfig()
	cfg.Target = scratchomised.Target{Host: u.Hostname(), Port: port, Scheme: scratchomised.SchemePlain}

	s, err := scratchomised.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{sim: sim, srv: srv, api: rest.NewClient(srv.URL + "/api"), session: s}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.session.Connect(ctx, f.session.Target()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.session.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
	eventually(t, "objects", func() bool { return f.session.ObjectCount() == len(peersim.DefaultCatalog().Objects) })
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionAgainstSimulator(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	assert.Equal(t, f.session.Objects().LightsMenu(), scratchomised.Menu{
		{Text: "Kitchen light", Value: "light-kitchen"},
		{Text: "Living room lamp", Value: "light-living"},
	})
	assert.Equal(t, len(f.session.Objects().SwitchesMenu()), 2)
	assert.Equal(t, f.session.IsLit("light-living"), true)
	assert.Equal(t, f.session.IsLit("light-kitchen"), false)

	// light on through define_property, observed through the next refresh
	if err := f.session.SetLightState("light-kitchen", "on"); err != nil {
		t.Fatalf("SetLightState: %v", err)
	}
	eventually(t, "light on", func() bool { return f.session.IsLit("light-kitchen") })

	if err := f.session.SetLight("light-kitchen", false); err != nil {
		t.Fatalf("SetLight: %v", err)
	}
	eventually(t, "light off", func() bool { return !f.session.IsLit("light-kitchen") })

	n, err := f.api.Click(ctx, "switch-kitchen")
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	assert.Equal(t, n, 1)
	eventually(t, "click", func() bool { return f.session.ConsumeClick("switch-kitchen") })
	assert.Equal(t, f.session.ConsumeClick("switch-kitchen"), false)

	added, err := f.api.AddObject(ctx, rest.Object{"name": "Garden light", scratchomised.ClassesKey: []any{scratchomised.LightClass}})
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	eventually(t, "new light", func() bool { _, ok := f.session.Objects().Get(added.ID()); return ok })
	assert.Equal(t, len(f.session.Objects().LightsMenu()), 3)

	clients, err := f.api.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	assert.Equal(t, len(clients), 1)
	assert.Equal(t, clients[0].Ready, true)
}

func TestSimulatorCleanCloseEndsSession(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	if _, err := f.api.CloseClients(context.Background(), 1000, "bye"); err != nil {
		t.Fatalf("CloseClients: %v", err)
	}
	eventually(t, "idle", func() bool { return f.session.State() == scratchomised.StateIdle })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, f.session.State(), scratchomised.StateIdle)
	assert.Equal(t, f.session.Attempts(), 0)
}

func TestSimulatorDropStartsBackoff(t *testing.T) {
	f := newFixture(t)
	errs := make(chan error, 8)
	f.session.OnError(func(err error) { errs <- err })
	f.connect(t)

	if _, err := f.api.DropClients(context.Background()); err != nil {
		t.Fatalf("DropClients: %v", err)
	}
	eventually(t, "backoff", func() bool { return f.session.State() == scratchomised.StateBackoff })
	assert.Equal(t, f.session.Attempts(), 1)
	assert.Equal(t, scratchomised.IsConnectionError(<-errs), true)

	// reconnect skips the pending delay
	if err := f.session.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	eventually(t, "reopen", f.session.IsConnected)
	assert.Equal(t, f.session.Attempts(), 0)
}

func TestSimulatorTestFrameIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	n, err := f.api.SendTest(context.Background(), "ping")
	if err != nil {
		t.Fatalf("SendTest: %v", err)
	}
	assert.Equal(t, n, 1)
	assert.Equal(t, f.session.IsConnected(), true)
}

func TestSimulatorRejectsMissingSubprotocol(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)

	dialer := websocket.Dialer{Subprotocols: []string{scratchomised.Subprotocol}}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial with subprotocol: %v", err)
	}
	defer conn.Close()
	assert.Equal(t, conn.Subprotocol(), scratchomised.Subprotocol)

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	env, err := scratchomised.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, env.Action, scratchomised.ActionWelcome)
}

func TestControlAPIErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.api.Click(ctx, "missing")
	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	assert.Equal(t, apiErr.Status, http.StatusNotFound)

	_, err = f.api.SetProperty(ctx, "sofa", "id", "x")
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	assert.Equal(t, apiErr.Status, http.StatusBadRequest)

	obj, err := f.api.SetProperty(ctx, "sofa", "width", "250")
	if err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	assert.Equal(t, obj["width"], float64(250))

	if err := f.api.RemoveObject(ctx, "sofa"); err != nil {
		t.Fatalf("RemoveObject: %v", err)
	}
	objects, err := f.api.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	assert.Equal(t, len(objects), len(peersim.DefaultCatalog().Objects)-1)
}
