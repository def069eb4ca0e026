// Package hook implements the central runtime from spec.md §3/§4.5: the
// process-local singleton that owns the lifecycle (start ->
// listen-or-connect -> ready -> stop/kill), role resolution on bind
// contention, name uniquification, the shared emit pipeline, and the
// broker-only broadcast intercept.
//
// Grounded on wings' server/server.go (struct shape, mutex-guarded
// lifecycle, role-like state machine) and events/pool.go (the
// single-worker gammazero/workerpool used here as the serialized
// per-hook dispatcher called for in spec.md §5).
package hook

import (
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/hookbus/hookbus/internal/aux"
	"github.com/hookbus/hookbus/internal/emitter"
	"github.com/hookbus/hookbus/internal/registry"
	"github.com/hookbus/hookbus/internal/transport"
	"github.com/hookbus/hookbus/system"
)

// acceptRateLimit/acceptRateWindow bound how many new connections a
// broker will accept per window before it starts closing them outright
// (hook_lifecycle.go's acceptPeer), guarding against a reconnect storm
// from a crash-looping peer.
const (
	acceptRateLimit  = 50
	acceptRateWindow = time.Second
)

// Role is the hook's current position in the {unstarted, listening,
// connecting, server, client, stopped} state machine from spec.md §9
// ("Coroutine/control-flow shape").
type Role int

const (
	RoleUnstarted Role = iota
	RoleListening
	RoleConnecting
	RoleServer
	RoleClient
	RoleStopped
)

func (r Role) String() string {
	switch r {
	case RoleUnstarted:
		return "unstarted"
	case RoleListening:
		return "listening"
	case RoleConnecting:
		return "connecting"
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	case RoleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ChildSpec describes one child hook the external spawner should start
// (spec.md §6 "hooks: sequence of child-hook specifications").
type ChildSpec struct {
	Name string
	Type string
	Args map[string]interface{}
}

// Spawner is the external collaborator that starts and stops child hook
// processes (spec.md §1 non-goal: "child-process spawning and
// supervision...is external; the core exposes hooks for them but does
// not implement them").
type Spawner interface {
	Spawn(spec ChildSpec) error
	Stop(name string) error
}

// Options is the already-materialized configuration object a Hook is
// constructed from (spec.md §1: "the core accepts an already-materialized
// configuration object"; spec.md §6 lists the recognized keys this
// mirrors). `EventMap` is supplied here rather than read from a
// serialized configuration file since its values are in-process handler
// functions.
type Options struct {
	Name    string
	Type    string
	Version string

	Host   string
	Port   int
	Socket string

	Debug bool
	Quiet bool

	Transports []aux.Configured
	EventMap   map[string]emitter.Listener
	Children   []ChildSpec
	Spawner    Spawner
}

// Hook is a process-local singleton participating in the bus, either as
// the broker (role=RoleServer) owning the registry and listening
// socket, or as a client (role=RoleClient) connected to one (spec.md
// §3 "Hook instance").
type Hook struct {
	mu sync.Mutex

	name    string
	typ     string
	version string

	host   string
	port   int
	socket string

	debug bool
	quiet bool

	role   Role
	killed *system.AtomicBool

	// startLock guards against overlapping Start calls racing each other
	// into the listen-or-connect fallback (spec.md §4.5.1).
	startLock *system.Locker

	emitter *emitter.Emitter

	registry *registry.Registry
	listener *transport.Listener

	broker     *transport.Conn
	brokerPeer *connPeer

	auxTransports []aux.Configured

	pool *workerpool.WorkerPool

	// acceptLimiter throttles inbound connection acceptance while acting
	// as broker (hook_lifecycle.go's acceptPeer).
	acceptLimiter *system.Rate

	spawner  Spawner
	children []ChildSpec
}

// New constructs an unstarted Hook from opts. The hook's eventMap
// listeners are installed immediately, matching spec.md §6 ("eventMap:
// installed via `on` at construction").
func New(opts Options) *Hook {
	h := &Hook{
		name:          system.FirstNotEmpty(opts.Name, "no-name"),
		typ:           system.FirstNotEmpty(opts.Type, "hook"),
		version:       opts.Version,
		host:          system.FirstNotEmpty(opts.Host, "127.0.0.1"),
		port:          opts.Port,
		socket:        opts.Socket,
		debug:         opts.Debug,
		quiet:         opts.Quiet,
		role:          RoleUnstarted,
		killed:        system.NewAtomicBool(false),
		startLock:     system.NewLocker(),
		emitter:       emitter.New(),
		auxTransports: opts.Transports,
		pool:          workerpool.New(1),
		acceptLimiter: system.NewRate(acceptRateLimit, acceptRateWindow),
		spawner:       opts.Spawner,
		children:      opts.Children,
	}
	if h.port == 0 {
		h.port = 5000
	}
	h.emitter.OnMeta(func(metaTopic, pattern string) {
		h.handleMetaEvent(metaTopic, pattern)
	})
	for pattern, fn := range opts.EventMap {
		h.emitter.On(pattern, fn)
	}
	return h
}

// Name returns the hook's current name. A client's name may have been
// rewritten by the broker at connect time (spec.md §3).
func (h *Hook) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

// Type returns the hook's opaque type string.
func (h *Hook) Type() string { return h.typ }

// Version returns the hook's semantic version string.
func (h *Hook) Version() string { return h.version }

// Role reports the hook's current position in the lifecycle state
// machine.
func (h *Hook) Role() Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

// On registers fn against pattern on this hook's local emitter.
func (h *Hook) On(pattern string, fn emitter.Listener) { h.emitter.On(pattern, fn) }

// Once registers fn to fire at most once against pattern.
func (h *Hook) Once(pattern string, fn emitter.Listener) { h.emitter.Once(pattern, fn) }

// Off removes a single registration of fn from pattern.
func (h *Hook) Off(pattern string, fn emitter.Listener) { h.emitter.Off(pattern, fn) }

// RemoveAll clears every listener bound at pattern.
func (h *Hook) RemoveAll(pattern string) { h.emitter.RemoveAll(pattern) }

// Listeners returns every listener matching topic.
func (h *Hook) Listeners(topic string) []emitter.Listener { return h.emitter.Listeners(topic) }

// HasListener reports whether any listener currently matches topic.
func (h *Hook) HasListener(topic string) bool { return h.emitter.HasListener(topic) }

// Enumerate returns every registered pattern string with at least one
// listener.
func (h *Hook) Enumerate() []string { return h.emitter.Enumerate() }

// Registry returns the server-side peer registry, or nil when this hook
// is not (or not currently) acting as broker.
func (h *Hook) Registry() *registry.Registry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry
}
