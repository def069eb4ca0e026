// Package transport implements the symmetric, connection-oriented RPC
// layer from spec.md §4.4: a single websocket connection per peer,
// carrying the three remote methods (report, message, hasEvent) with
// in-order, message-framed delivery and at-most-one pending reply per
// outgoing call.
//
// Grounded on the teacher's router/websocket package (gorilla/websocket
// upgrade + per-connection read loop dispatching typed envelopes), with
// JSON framing switched to goccy/go-json as the teacher's go.mod already
// carries it for exactly this purpose.
package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hookbus/hookbus/internal/hookerr"
)

// ReportDescriptor is the payload of the "report" method a client sends
// immediately after connecting (spec.md §4.4).
type ReportDescriptor struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Version       string   `json:"version"`
	InitialTopics []string `json:"initial_topics"`
}

// ReportAck is the broker's reply to "report".
type ReportAck struct {
	AssignedName   string `json:"assigned_name"`
	AssignedID     string `json:"assigned_id"`
	ServerVersion  string `json:"server_version"`
}

// Handler is the set of remote methods a Conn dispatches incoming calls
// to. The server installs a Handler per connection (bound to that
// peer's registry record); the client installs one that delegates to
// its own emitter/tree (spec.md §4.5.3 step 1).
type Handler interface {
	HandleReport(ctx context.Context, desc ReportDescriptor) (ReportAck, error)
	HandleMessage(ctx context.Context, topic string, data interface{}) (interface{}, error)
	HandleHasEvent(ctx context.Context, topicParts []string) (bool, error)
}

// UnsupportedHandler can be embedded by handlers that only need to
// implement a subset of Handler (e.g. a client never receives
// "report").
type UnsupportedHandler struct{}

func (UnsupportedHandler) HandleReport(context.Context, ReportDescriptor) (ReportAck, error) {
	return ReportAck{}, errors.New("transport: report not supported on this peer")
}

func (UnsupportedHandler) HandleMessage(context.Context, string, interface{}) (interface{}, error) {
	return nil, errors.New("transport: message not supported on this peer")
}

func (UnsupportedHandler) HandleHasEvent(context.Context, []string) (bool, error) {
	return false, errors.New("transport: hasEvent not supported on this peer")
}

// Conn is one bidirectional RPC connection between two peers.
type Conn struct {
	ws      *websocket.Conn
	handler Handler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	endOnce sync.Once
	endFns  []func(error)
	closed  atomic.Bool
}

func newConn(ws *websocket.Conn, handler Handler) *Conn {
	return &Conn{
		ws:      ws,
		handler: handler,
		pending: make(map[string]chan envelope),
	}
}

// OnEnd registers a callback invoked exactly once when the connection
// terminates, for any reason (spec.md §3 invariant: "the connection's
// end event must drop the PeerRecord").
func (c *Conn) OnEnd(fn func(err error)) {
	c.endFns = append(c.endFns, fn)
}

// RemoteAddr returns the remote network address of the underlying
// socket.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Close terminates the connection from this side.
func (c *Conn) Close() error {
	err := c.ws.Close()
	c.fireEnd(nil)
	return err
}

func (c *Conn) fireEnd(err error) {
	c.endOnce.Do(func() {
		c.closed.Store(true)
		for _, fn := range c.endFns {
			fn(err)
		}
	})
}

// serve runs the read loop until the connection closes. Must be started
// in its own goroutine by the caller (Dial/Listen's accept handler).
func (c *Conn) serve() {
	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.fireEnd(hookerr.Wrap(err))
			c.drainPending()
			return
		}
		if env.Reply {
			c.deliverReply(env)
			continue
		}
		go c.dispatch(env)
	}
}

func (c *Conn) drainPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) deliverReply(env envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		// Late reply for a call we've already given up on (timed out,
		// or the connection that originated it is gone) — drop it
		// silently rather than crash, per spec.md §4.4.
		return
	}
	ch <- env
}

func (c *Conn) dispatch(env envelope) {
	if c.handler == nil {
		// No handler installed on this side: the call is dropped unanswered.
		log.WithField("method", env.Method).Debug("hookbus: no handler installed, dropping call")
		return
	}
	ctx := context.Background()
	var result interface{}
	var err error

	switch env.Method {
	case "report":
		var desc ReportDescriptor
		if decErr := decodeInto(env.Params, &desc); decErr != nil {
			err = decErr
			break
		}
		result, err = c.handler.HandleReport(ctx, desc)
	case "message":
		var params messageParams
		if decErr := decodeInto(env.Params, &params); decErr != nil {
			err = decErr
			break
		}
		result, err = c.handler.HandleMessage(ctx, params.Topic, params.Data)
	case "hasEvent":
		var params hasEventParams
		if decErr := decodeInto(env.Params, &params); decErr != nil {
			err = decErr
			break
		}
		result, err = c.handler.HandleHasEvent(ctx, params.TopicParts)
	default:
		err = errors.Errorf("transport: unknown method %q", env.Method)
	}

	if env.ID == "" {
		// Fire-and-forget call (no reply expected), nothing to send back.
		if err != nil {
			log.WithField("method", env.Method).WithError(err).Debug("hookbus: handler error on fire-and-forget call")
		}
		return
	}

	reply := envelope{ID: env.ID, Reply: true}
	if err != nil {
		reply.ErrMsg = err.Error()
	} else if raw, encErr := encodeParams(result); encErr != nil {
		reply.ErrMsg = encErr.Error()
	} else {
		reply.Result = raw
	}
	if writeErr := c.write(reply); writeErr != nil {
		log.WithError(writeErr).Debug("hookbus: failed to write rpc reply")
	}
}

type messageParams struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

type hasEventParams struct {
	TopicParts []string `json:"topic_parts"`
}

func (c *Conn) write(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// call issues a request and blocks until the matching reply arrives, the
// context is canceled, or the connection ends.
func (c *Conn) call(ctx context.Context, method string, params interface{}, withReply bool) (envelope, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return envelope{}, err
	}
	env := envelope{Method: method, Params: raw}
	if !withReply {
		return envelope{}, c.write(env)
	}

	env.ID = uuid.NewString()
	ch := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[env.ID] = ch
	c.pendingMu.Unlock()

	if err := c.write(env); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		return envelope{}, hookerr.Wrap(err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return envelope{}, hookerr.Wrap(errors.New("connection closed before reply"))
		}
		if reply.ErrMsg != "" {
			return envelope{}, errors.New(reply.ErrMsg)
		}
		return reply, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		return envelope{}, ctx.Err()
	}
}

// Report issues the client->server "report" call (spec.md §4.5.3 step
// 2).
func (c *Conn) Report(ctx context.Context, desc ReportDescriptor) (ReportAck, error) {
	reply, err := c.call(ctx, "report", desc, true)
	if err != nil {
		return ReportAck{}, err
	}
	var ack ReportAck
	if err := decodeInto(reply.Result, &ack); err != nil {
		return ReportAck{}, err
	}
	return ack, nil
}

// Message delivers topic/data to the remote side. If wantReply is true the
// call blocks for the remote handler's single response; otherwise it is
// fire-and-forget (spec.md §4.4: "reply is an optional callback").
func (c *Conn) Message(ctx context.Context, topic string, data interface{}, wantReply bool) (interface{}, error) {
	reply, err := c.call(ctx, "message", messageParams{Topic: topic, Data: data}, wantReply)
	if err != nil || !wantReply {
		return nil, err
	}
	var result interface{}
	if err := decodeInto(reply.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// HasEvent issues the server->client "hasEvent" test (spec.md §4.4).
func (c *Conn) HasEvent(ctx context.Context, topicParts []string) (bool, error) {
	reply, err := c.call(ctx, "hasEvent", hasEventParams{TopicParts: topicParts}, true)
	if err != nil {
		return false, err
	}
	var matched bool
	if err := decodeInto(reply.Result, &matched); err != nil {
		return false, err
	}
	return matched, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Listener binds an RPC endpoint and invokes accept for every
// established connection (spec.md §4.5.2 steps 3-4).
type Listener struct {
	ln         net.Listener
	httpServer *http.Server
}

// Listen binds host:port (or, when socket is non-empty, the local unix
// socket path instead) and begins serving websocket upgrades in the
// background. Returns a *hookerr.BindError if the address is already in
// use, so the hook runtime can fall back to Dial (spec.md §4.5.1,
// §6 "hook-socket: optional path"); any other listen failure is returned
// as a *hookerr.TransportError.
func Listen(host string, port int, socket string, accept func(*Conn)) (*Listener, error) {
	network, addr := "tcp", net.JoinHostPort(host, itoa(port))
	if socket != "" {
		network, addr = "unix", socket
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, &hookerr.BindError{Host: host, Port: port, Err: err}
		}
		return nil, hookerr.Wrap(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := newConn(ws, nil)
		accept(c)
		go c.serve()
	})

	srv := &http.Server{Handler: mux}
	l := &Listener{ln: ln, httpServer: srv}
	go func() {
		_ = srv.Serve(ln)
	}()
	return l, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.httpServer.Close()
}

// Addr returns the bound listener address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Dial opens an RPC connection to host:port (or, when socket is
// non-empty, the local unix socket path instead) and starts its read
// loop. handler is installed to answer incoming "message"/"hasEvent"
// calls from the broker (spec.md §4.5.3 step 1).
func Dial(ctx context.Context, host string, port int, socket string, handler Handler) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	u := "ws://" + net.JoinHostPort(host, itoa(port)) + "/"
	if socket != "" {
		u = "ws://unix/"
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
	}
	ws, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, hookerr.Wrap(err)
	}
	c := newConn(ws, handler)
	go c.serve()
	return c, nil
}

// SetHandler installs the handler a server-side Conn dispatches
// incoming calls to, once the caller has built one bound to the new
// peer's registry record (the handler isn't known at accept time,
// unlike the client's, which is supplied up front to Dial).
func (c *Conn) SetHandler(h Handler) { c.handler = h }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
