// Package peersim simulates the home-design side of the link: a websocket
// endpoint speaking the scratchomised protocol plus a small JSON control
// API for driving it from tests, demos and the command line.
package peersim

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised/rest"
)

var (
	ErrUnknownObject    = errors.New("unknown object")
	ErrReadOnlyProperty = errors.New("read-only property")
	ErrBadValue         = errors.New("bad property value")
)

const (
	writeWait   = 10 * time.Second
	closeWait   = time.Second
	sendBufSize = 32
)

// Server holds the simulated scene and the connected clients.
type Server struct {
	subprotocol string
	upgrader    websocket.Upgrader
	router      *mux.Router

	mu      sync.Mutex
	logger  scratchomised.Logger
	objects map[string]rest.Object
	order   []string
	clients map[string]*client
}

type client struct {
	id          string
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	ready       bool // guarded by Server.mu
	send        chan []byte
	done        chan struct{}
	doneOnce    sync.Once
}

func (c *client) stop() { c.doneOnce.Do(func() { close(c.done) }) }

// New creates a simulator seeded with cat.
func New(cat Catalog) *Server {
	s := &Server{
		subprotocol: scratchomised.Subprotocol,
		logger:      scratchomised.GlogLogger{Prefix: "peersim: "},
		objects:     map[string]rest.Object{},
		clients:     map[string]*client{},
	}
	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{s.subprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	for _, obj := range cat.Objects {
		s.put(obj)
	}
	s.router = s.routes()
	return s
}

// SetLogger overrides logger (optional).
func (s *Server) SetLogger(l scratchomised.Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

func (s *Server) log() scratchomised.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Handler serves the websocket endpoint at / and the control API under /api.
func (s *Server) Handler() http.Handler { return s.router }

// Objects returns copies of the catalogue in publication order.
func (s *Server) Objects() []rest.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddObject stores obj, assigning an id when it has none, and republishes.
func (s *Server) AddObject(obj rest.Object) rest.Object {
	obj = copyObject(obj)
	if obj.ID() == "" {
		obj["id"] = uuid.NewString()
	}
	s.mu.Lock()
	s.put(obj)
	s.mu.Unlock()
	s.publish()
	return copyObject(obj)
}

// RemoveObject deletes id and republishes.
func (s *Server) RemoveObject(id string) error {
	s.mu.Lock()
	if _, ok := s.objects[id]; !ok {
		s.mu.Unlock()
		return ErrUnknownObject
	}
	delete(s.objects, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.mu.Unlock()
	s.publish()
	return nil
}

// SetProperty applies a define_property to the scene and republishes.
func (s *Server) SetProperty(id, property, value string) (rest.Object, error) {
	if property == "id" || property == scratchomised.ClassesKey {
		return nil, ErrReadOnlyProperty
	}
	v, unset, err := parseValue(value)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownObject
	}
	if unset {
		delete(obj, property)
	} else {
		obj[property] = v
	}
	out := copyObject(obj)
	s.mu.Unlock()

	s.log().Info("property set", map[string]any{"object": id, "property": property, "value": value})
	s.publish()
	return out, nil
}

// Click reports a click on id to every client and returns how many got it.
func (s *Server) Click(id string) (int, error) {
	s.mu.Lock()
	_, ok := s.objects[id]
	s.mu.Unlock()
	if !ok {
		return 0, ErrUnknownObject
	}
	return s.broadcast(scratchomised.ActionObjectClicked, map[string]any{"object_id": id}, false), nil
}

// SendTest sends a test frame to every client.
func (s *Server) SendTest(message string) int {
	return s.broadcast(scratchomised.ActionTest, map[string]any{"message": message}, false)
}

// Clients lists the connected clients, oldest first.
func (s *Server) Clients() []rest.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rest.ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, rest.ClientInfo{ID: c.id, Remote: c.remote, Ready: c.ready, ConnectedAt: c.connectedAt})
	}
	slices.SortFunc(out, func(a, b rest.ClientInfo) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return out
}

// CloseAll sends a close frame with code to every client.
func (s *Server) CloseAll(code int, reason string) int {
	clients := s.clientList()
	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range clients {
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			s.log().Warn("close frame failed", map[string]any{"client": c.id, "error": err.Error()})
		}
		conn := c.conn
		time.AfterFunc(closeWait, func() { _ = conn.Close() })
	}
	return len(clients)
}

// DropAll cuts every client's TCP connection without a close frame.
func (s *Server) DropAll() int {
	clients := s.clientList()
	for _, c := range clients {
		_ = c.conn.UnderlyingConn().Close()
	}
	return len(clients)
}

// Close says goodbye to every client.
func (s *Server) Close() {
	s.CloseAll(websocket.CloseGoingAway, "simulator shutting down")
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !slices.Contains(websocket.Subprotocols(r), s.subprotocol) {
		s.log().Warn("rejecting client without subprotocol", map[string]any{"remote": r.RemoteAddr})
		http.Error(w, "subprotocol "+s.subprotocol+" required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("upgrade failed", map[string]any{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}
	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      r.RemoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBufSize),
		done:        make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log().Info("client connected", map[string]any{"client": c.id, "remote": c.remote})

	go s.writePump(c)
	s.sendTo(c, scratchomised.ActionWelcome, map[string]any{"message": "welcome"})
	s.readPump(c)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.stop()
	_ = conn.Close()
	s.log().Info("client disconnected", map[string]any{"client": c.id})
}

func (s *Server) readPump(c *client) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log().Debug("read ended", map[string]any{"client": c.id, "error": err.Error()})
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handle(c, data)
	}
}

func (s *Server) writePump(c *client) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log().Warn("write failed", map[string]any{"client": c.id, "error": err.Error()})
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handle(c *client, data []byte) {
	env, err := scratchomised.Decode(data)
	if err != nil {
		s.log().Warn("unparsable frame", map[string]any{"client": c.id, "error": err.Error()})
		return
	}
	switch env.Action {
	case scratchomised.ActionClientReady:
		s.mu.Lock()
		c.ready = true
		objects := s.snapshotLocked()
		s.mu.Unlock()
		s.log().Info("client ready, sending objects", map[string]any{"client": c.id, "count": len(objects)})
		s.sendTo(c, scratchomised.ActionUpdateObjects, map[string]any{"objects": objects})
	case scratchomised.ActionTestAck, scratchomised.ActionWelcomeAck:
		s.log().Info("acknowledged", map[string]any{"client": c.id, "action": env.Action})
	case scratchomised.ActionDefineProperty:
		var args scratchomised.DefinePropertyArgs
		b, _ := json.Marshal(env.Args)
		if err := json.Unmarshal(b, &args); err != nil {
			s.log().Warn("bad define_property", map[string]any{"client": c.id, "error": err.Error()})
			return
		}
		if _, err := s.SetProperty(args.Object, args.Property, args.Value); err != nil {
			s.log().Warn("define_property rejected", map[string]any{
				"client": c.id, "object": args.Object, "property": args.Property, "error": err.Error(),
			})
		}
	default:
		s.log().Warn("unknown action", map[string]any{"client": c.id, "action": env.Action})
	}
}

// publish sends the catalogue to every ready client.
func (s *Server) publish() {
	s.mu.Lock()
	objects := s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(scratchomised.ActionUpdateObjects, map[string]any{"objects": objects}, true)
}

func (s *Server) broadcast(action string, args any, readyOnly bool) int {
	frame, err := scratchomised.Encode(action, args)
	if err != nil {
		s.log().Error("encode failed", map[string]any{"action": action, "error": err.Error()})
		return 0
	}
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !readyOnly || c.ready {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	n := 0
	for _, c := range targets {
		if s.enqueue(c, frame) {
			n++
		}
	}
	return n
}

func (s *Server) sendTo(c *client, action string, args any) {
	frame, err := scratchomised.Encode(action, args)
	if err != nil {
		s.log().Error("encode failed", map[string]any{"action": action, "error": err.Error()})
		return
	}
	s.enqueue(c, frame)
}

func (s *Server) enqueue(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		s.log().Warn("client send buffer full, dropping frame", map[string]any{"client": c.id})
		return false
	}
}

func (s *Server) clientList() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// put stores obj; the caller holds mu or owns s exclusively.
func (s *Server) put(obj rest.Object) {
	id := obj.ID()
	if _, ok := s.objects[id]; !ok {
		s.order = append(s.order, id)
	}
	s.objects[id] = copyObject(obj)
}

func (s *Server) snapshotLocked() []rest.Object {
	out := make([]rest.Object, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyObject(s.objects[id]))
	}
	return out
}

func copyObject(obj rest.Object) rest.Object {
	out := make(rest.Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
