package hook

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/hookbus/hookbus/internal/emitter"
	"github.com/hookbus/hookbus/internal/hookerr"
	"github.com/hookbus/hookbus/internal/registry"
	"github.com/hookbus/hookbus/internal/resolve"
	"github.com/hookbus/hookbus/internal/semver"
	"github.com/hookbus/hookbus/internal/transport"
	"github.com/hookbus/hookbus/metrics"
	"github.com/hookbus/hookbus/system"
)

// metricsReconcileInterval is how often a broker recomputes its gauges
// from the registry directly, as a self-healing backstop against any
// update that might be missed by the mutation-driven metrics calls
// scattered through acceptPeer/handleMetaEvent.
const metricsReconcileInterval = 30 * time.Second

// PeerDisconnected is the payload of hook::disconnected (spec.md §6,
// supplemented per SPEC_FULL §12).
type PeerDisconnected struct {
	Name      string
	SessionID string
}

// Start attempts Listen; on a bind-in-use error it falls back to
// Connect with the same options (spec.md §4.5.1). Any other error is
// reported as an error::* event and returned to the caller. Concurrent
// calls to Start on the same Hook are rejected rather than racing each
// other into the listen-or-connect fallback.
func (h *Hook) Start(ctx context.Context) error {
	if err := h.startLock.Acquire(); err != nil {
		return err
	}

	err := h.listen(ctx)
	if err == nil {
		return nil
	}
	if hookerr.IsBindError(err) {
		log.WithField("host", h.host).WithField("port", h.port).Debug("hookbus: bind in use, falling back to client role")
		if cerr := h.connect(ctx); cerr != nil {
			h.startLock.Release()
			return cerr
		}
		return nil
	}
	h.startLock.Release()
	h.reportStartError(err)
	return err
}

func (h *Hook) reportStartError(err error) {
	topic := "error::unknown"
	switch {
	case hookerr.IsBindError(err):
		topic = "error::bind"
	case hookerr.IsResolveError(err):
		topic = "error::resolve"
	}
	h.Emit(topic, err, nil)
}

// listen resolves the configured host, binds the RPC transport, and
// establishes this hook as the broker (spec.md §4.5.2).
func (h *Hook) listen(ctx context.Context) error {
	addr, err := resolve.First(ctx, h.host)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.role = RoleListening
	h.mu.Unlock()

	reg := registry.New(h.name)

	ln, err := transport.Listen(addr.String(), h.port, h.socket, func(c *transport.Conn) {
		h.acceptPeer(c)
	})
	if err != nil {
		h.mu.Lock()
		h.role = RoleUnstarted
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	h.registry = reg
	h.listener = ln
	h.role = RoleServer
	h.mu.Unlock()

	h.emitter.OnAny(h.broadcastIntercept)

	reg.SeedSelfSubscriptions(h.emitter.Enumerate())
	metrics.SetConnectedPeers(len(reg.Peers()))

	system.Every(ctx, metricsReconcileInterval, func(time.Time) {
		// Pushed onto the single dispatcher rather than read directly from
		// the ticker's own goroutine: current.Peers() walks the same maps
		// serverPeerHandler mutates, and the registry is documented as
		// single-writer (spec.md §5).
		h.pool.Submit(func() {
			h.mu.Lock()
			current := h.registry
			h.mu.Unlock()
			if current == nil {
				return
			}
			metrics.SetConnectedPeers(len(current.Peers()))
			metrics.SetSubscriptionTableSize(subscriptionTableSize(current))
		})
	})

	h.Emit("hook::listening", h.port, nil)
	h.Emit("hook::started", h.port, nil)
	h.startChildrenThenReady()
	return nil
}

// acceptPeer is invoked for every inbound connection once the broker is
// listening (spec.md §4.5.2 step 4). New connections are checked
// against acceptLimiter first: a peer that connects, crashes, and
// reconnects in a tight loop (or an abusive flood of connections) would
// otherwise pile up PeerRecords and dispatcher work without bound.
func (h *Hook) acceptPeer(c *transport.Conn) {
	if !h.acceptLimiter.Try() {
		log.Debug("hookbus: rejecting connection, accept rate exceeded")
		_ = c.Close()
		return
	}

	sessionID := uuid.NewString()
	handler := &serverPeerHandler{hook: h, sessionID: sessionID, conn: c}
	c.SetHandler(handler)

	c.OnEnd(func(err error) {
		// Pushed onto the single dispatcher, same as the RPC handlers:
		// reg.Remove/reg.Peers() mutate and read the maps those handlers
		// also touch, and OnEnd fires from whichever connection's read
		// loop is terminating, concurrently with every other peer's.
		// After Stop the pool is closed and the registry already dropped.
		if h.pool.Stopped() {
			return
		}
		h.pool.Submit(func() {
			h.mu.Lock()
			reg := h.registry
			h.mu.Unlock()
			if reg == nil {
				return
			}
			name := reg.Remove(sessionID)
			if name == "" {
				return
			}
			metrics.SetConnectedPeers(len(reg.Peers()))
			h.Emit("hook::disconnected", PeerDisconnected{Name: name, SessionID: sessionID}, nil)
		})
	})
}

// connect opens an RPC connection to the configured broker and
// establishes this hook as a client (spec.md §4.5.3).
func (h *Hook) connect(ctx context.Context) error {
	h.mu.Lock()
	h.role = RoleConnecting
	h.mu.Unlock()

	clientHandler := &clientPeerHandler{hook: h}
	conn, err := transport.Dial(ctx, h.host, h.port, h.socket, clientHandler)
	if err != nil {
		h.mu.Lock()
		h.role = RoleUnstarted
		h.mu.Unlock()
		h.reportStartError(err)
		return err
	}

	ack, err := conn.Report(ctx, transport.ReportDescriptor{
		Name:          h.name,
		Type:          h.typ,
		Version:       h.version,
		InitialTopics: h.emitter.Enumerate(),
	})
	if err != nil {
		conn.Close()
		h.mu.Lock()
		h.role = RoleUnstarted
		h.mu.Unlock()
		h.reportStartError(err)
		return err
	}

	if semver.StrictNeq(h.version, ack.ServerVersion) {
		conn.Close()
		h.mu.Lock()
		h.role = RoleUnstarted
		h.mu.Unlock()
		verr := &hookerr.VersionMismatchError{Local: h.version, Remote: ack.ServerVersion}
		h.reportStartError(verr)
		return verr
	}

	h.mu.Lock()
	h.name = ack.AssignedName
	h.broker = conn
	h.brokerPeer = &connPeer{conn: conn}
	h.role = RoleClient
	h.mu.Unlock()

	conn.OnEnd(func(err error) {
		h.mu.Lock()
		if h.role == RoleClient {
			h.role = RoleStopped
		}
		h.mu.Unlock()
		h.Emit("connection::end", err, nil)
	})

	h.Emit("connection::open", nil, nil)
	h.Emit("hook::connected", h.port, nil)
	h.Emit("hook::started", h.port, nil)
	h.startChildrenThenReady()
	return nil
}

// startChildrenThenReady implements spec.md §4.5.4: spawn configured
// children via the external spawner and wait for children::ready before
// emitting hook::ready; with no children configured (or no spawner
// wired in) hook::ready fires immediately.
func (h *Hook) startChildrenThenReady() {
	h.mu.Lock()
	children := h.children
	spawner := h.spawner
	h.mu.Unlock()

	if len(children) == 0 || spawner == nil {
		h.Emit("hook::ready", nil, nil)
		return
	}

	h.Once("children::ready", func(data interface{}, reply emitter.Reply) {
		h.Emit("hook::ready", nil, nil)
	})
	for _, spec := range children {
		if spec.Name == "" {
			spec.Name = "child-" + system.RandomString(6)
		}
		if err := spawner.Spawn(spec); err != nil {
			log.WithField("child", spec.Name).WithError(err).Warn("hookbus: failed to spawn child hook")
		}
	}
}

// Stop ends whichever role this hook currently holds (spec.md §4.5.7).
func (h *Hook) Stop() error {
	h.mu.Lock()
	role := h.role
	ln := h.listener
	broker := h.broker
	h.mu.Unlock()

	switch role {
	case RoleServer:
		if ln != nil {
			_ = ln.Close()
		}
		h.mu.Lock()
		h.listener = nil
		h.registry = nil
		h.role = RoleStopped
		h.mu.Unlock()
		h.pool.StopWait()
		h.startLock.Release()
		return nil
	case RoleClient:
		if broker != nil {
			_ = broker.Close()
		}
		h.mu.Lock()
		h.broker = nil
		h.brokerPeer = nil
		h.role = RoleStopped
		h.mu.Unlock()
		h.pool.StopWait()
		h.startLock.Release()
		return nil
	default:
		return hookerr.NothingToStop
	}
}

// Kill either asks the external supervisor to stop a named child, or,
// with no target, refuses on the broker and turns a client into a
// silent husk (spec.md §4.5.7).
func (h *Hook) Kill(target string) error {
	if target != "" {
		h.mu.Lock()
		spawner := h.spawner
		h.mu.Unlock()
		if spawner == nil {
			return &hookerr.NothingToKill{Name: target}
		}
		return spawner.Stop(target)
	}

	h.mu.Lock()
	role := h.role
	broker := h.broker
	h.mu.Unlock()

	if role == RoleServer {
		return hookerr.CannotKillServer
	}

	if broker != nil {
		_ = broker.Close()
	}
	for _, pattern := range h.emitter.Enumerate() {
		h.emitter.RemoveAll(pattern)
	}
	h.mu.Lock()
	h.broker = nil
	h.brokerPeer = nil
	h.mu.Unlock()
	h.killed.Store(true)
	return nil
}

func remoteHostPort(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
