package hook

import (
	"context"

	"github.com/apex/log"

	"github.com/hookbus/hookbus/internal/aux"
	"github.com/hookbus/hookbus/internal/emitter"
	"github.com/hookbus/hookbus/internal/registry"
	"github.com/hookbus/hookbus/internal/topictree"
	"github.com/hookbus/hookbus/internal/transport"
	"github.com/hookbus/hookbus/metrics"
)

// ErrorContext is the payload of a synthesized `topic::error` event: the
// handler's reported error alongside the original emit data (spec.md
// §4.5.5 step 3, §7).
type ErrorContext struct {
	Err error
	Ctx interface{}
}

// ResultContext is the payload of a synthesized `topic::result` event.
type ResultContext struct {
	Result interface{}
	Ctx    interface{}
}

// connPeer adapts a *transport.Conn to registry.Peer's callback-style
// surface, so the registry and broadcast intercept never need to know
// about the transport package's blocking call convention.
type connPeer struct {
	conn *transport.Conn
}

func (p *connPeer) Message(topic string, data interface{}, reply func(err error, result interface{})) {
	go func() {
		result, err := p.conn.Message(context.Background(), topic, data, reply != nil)
		if reply != nil {
			reply(err, result)
		}
	}()
}

func (p *connPeer) HasEvent(topicParts []string, reply func(err error, matched bool)) {
	go func() {
		matched, err := p.conn.HasEvent(context.Background(), topicParts)
		reply(err, matched)
	}()
}

func (p *connPeer) Close() error { return p.conn.Close() }

// Emit is the central contract from spec.md §4.5.5. It never blocks the
// caller: the actual pipeline runs on this hook's single-worker
// dispatcher, matching the cooperative single-threaded scheduling model
// spec.md §5 requires implementations on parallel-thread platforms to
// synthesize.
func (h *Hook) Emit(topic string, data interface{}, cb emitter.Reply) {
	if h.killed.Load() {
		return
	}
	h.pool.Submit(func() {
		h.emitSerial(topic, data, cb)
	})
}

// runSync submits fn to this hook's single-worker dispatcher and blocks
// until it has run, so callers needing a synchronous result (the RPC
// handlers answering "report"/"message"/"hasEvent") still see their
// registry/emitter access serialized through the one dispatcher spec.md
// §5 requires, rather than racing the per-connection goroutine that
// delivered the call against every other connection's goroutine.
func (h *Hook) runSync(fn func()) {
	done := make(chan struct{})
	h.pool.Submit(func() {
		fn()
		close(done)
	})
	<-done
}

func (h *Hook) emitSerial(topic string, data interface{}, cb emitter.Reply) {
	if emitter.IsMeta(topic) {
		h.handleMetaEvent(topic, data)
		h.deliverLocalOnly(topic, data, cb)
		return
	}

	if !h.quiet {
		log.WithField("topic", topic).WithField("hook", h.Name()).Debug("hookbus: emit")
	}

	if fn, ok := data.(emitter.Reply); ok && cb == nil {
		cb = fn
		data = nil
	} else if cb == nil {
		originalData := data
		cb = h.syntheticCallback(topic, originalData)
	}

	h.mu.Lock()
	selfName := h.name
	brokerPeer := h.brokerPeer
	transports := h.auxTransports
	h.mu.Unlock()

	qualified := selfName + topictree.Delimiter + topic
	h.fanOutAux(transports, qualified, data, cb)

	if brokerPeer != nil {
		brokerPeer.Message(qualified, data, cb)
	}

	h.mu.Lock()
	e := h.emitter
	h.mu.Unlock()
	e.Emit(topic, data, cb)
	metrics.ObserveEmitLocal()
}

// syntheticCallback builds the per-emit reply synthesized when the
// caller supplies none (spec.md §4.5.5 step 3, §7).
func (h *Hook) syntheticCallback(topic string, originalData interface{}) emitter.Reply {
	return func(err error, result interface{}) {
		if err != nil {
			h.Emit(topic+"::error", ErrorContext{Err: err, Ctx: originalData}, nil)
			return
		}
		h.Emit(topic+"::result", ResultContext{Result: result, Ctx: originalData}, nil)
	}
}

func (h *Hook) fanOutAux(transports []aux.Configured, qualifiedTopic string, data interface{}, cb emitter.Reply) {
	for _, t := range transports {
		t := t
		go func() {
			err := t.Transport.Message(context.Background(), t.Options, qualifiedTopic, data)
			if err != nil {
				log.WithField("transport", t.Type).WithError(err).Debug("hookbus: aux transport message failed")
			}
			if cb != nil {
				cb(err, nil)
			}
		}()
	}
}

// deliverLocalOnly invokes only the listeners matching topic, bypassing
// the onAny broadcast intercept. Used for reserved meta-events, which
// must never re-enter the cross-peer broadcast path (spec.md §4.5.5
// step 1, §9).
func (h *Hook) deliverLocalOnly(topic string, data interface{}, cb emitter.Reply) {
	for _, l := range h.emitter.Listeners(topic) {
		l(data, cb)
	}
}

func subscriptionKindForTopic(topic string) (registry.SubscriptionKind, bool) {
	switch topic {
	case emitter.MetaListenerAdded:
		return registry.SubscriptionAdd, true
	case emitter.MetaListenerRemoved:
		return registry.SubscriptionRemove, true
	case emitter.MetaAllListenersRemoved:
		return registry.SubscriptionRemoveAll, true
	default:
		return 0, false
	}
}

// handleMetaEvent implements spec.md §4.5.5 step 1: a client forwards
// the meta-event to its broker so the broker's view of its
// subscriptions stays current; the broker applies the adjustment to its
// own self-record directly.
func (h *Hook) handleMetaEvent(topic string, data interface{}) {
	kind, ok := subscriptionKindForTopic(topic)
	if !ok {
		return
	}
	pattern, _ := data.(string)

	h.mu.Lock()
	role := h.role
	reg := h.registry
	selfName := h.name
	brokerPeer := h.brokerPeer
	h.mu.Unlock()

	switch role {
	case RoleServer:
		if reg != nil {
			reg.AdjustSubscription(selfName, kind, pattern)
			metrics.SetSubscriptionTableSize(subscriptionTableSize(reg))
		}
	case RoleClient:
		if brokerPeer != nil {
			brokerPeer.Message(topic, pattern, nil)
		}
	}
}

func subscriptionTableSize(reg *registry.Registry) int {
	total := 0
	for _, rec := range reg.Peers() {
		total += len(rec.Subscriptions())
	}
	return total
}

// deliverFromPeer handles a qualified topic arriving over the wire from
// a peer (either a client's forwarded message to the broker, or the
// broker's forwarded message to a client): it runs the logging hook, aux
// fan-out, and local delivery steps of the pipeline (spec.md §4.5.5
// steps 2, 4, 6) without re-qualifying the topic (it is already
// qualified) and without an upstream hop.
func (h *Hook) deliverFromPeer(qualifiedTopic string, data interface{}, cb emitter.Reply) {
	if !h.quiet {
		log.WithField("topic", qualifiedTopic).WithField("hook", h.Name()).Debug("hookbus: inbound peer message")
	}

	h.mu.Lock()
	transports := h.auxTransports
	e := h.emitter
	h.mu.Unlock()

	h.fanOutAux(transports, qualifiedTopic, data, cb)
	e.Emit(qualifiedTopic, data, cb)
	metrics.ObserveEmitLocal()
}

// broadcastIntercept is installed as the broker's onAny listener (spec.md
// §4.5.6): for every locally-emitted (or peer-delivered) event it fans
// out to every connected peer whose tree reports a matching listener,
// suppressing echo back to the origin.
func (h *Hook) broadcastIntercept(topic string, data interface{}, cb emitter.Reply) {
	h.mu.Lock()
	reg := h.registry
	selfName := h.name
	transports := h.auxTransports
	h.mu.Unlock()
	if reg == nil {
		return
	}

	parts := topictree.Split(topic)
	origin := selfName
	qualified := topic
	if len(parts) > 1 {
		origin = parts[0]
	} else {
		qualified = selfName + topictree.Delimiter + topic
		parts = append([]string{selfName}, parts...)
	}

	for _, p := range reg.Peers() {
		if p.Name == origin {
			continue
		}
		p := p
		p.Peer.HasEvent(parts, func(err error, matched bool) {
			metrics.ObserveEmitRouted(err == nil && matched)
			if err != nil || !matched {
				return
			}
			h.fanOutAux(transports, qualified, data, nil)
			p.Peer.Message(qualified, data, cb)
		})
	}
}
