// Package emitter implements the hierarchical event emitter described in
// spec.md §4.2: listener registration over wildcard topic patterns,
// local dispatch, a global "onAny" intercept, and the synthesized
// listener-added/listener-removed/all-listeners-removed meta-events that
// feed the subscription-sync protocol (spec.md §4.5.6).
//
// Grounded on the teacher's events.Bus (On/Off/Publish over a flat
// map[string][]Listener), generalized to route through a
// topictree.Tree so patterns may use "*"/"**".
package emitter

import (
	"github.com/hookbus/hookbus/internal/topictree"
)

// Reserved meta-event topics. These never re-enter the aux-transport or
// cross-peer broadcast path (spec.md §4.2, §9).
const (
	MetaListenerAdded       = "listener-added"
	MetaListenerRemoved     = "listener-removed"
	MetaAllListenersRemoved = "all-listeners-removed"
)

// IsMeta reports whether topic is one of the reserved meta-events.
func IsMeta(topic string) bool {
	switch topic {
	case MetaListenerAdded, MetaListenerRemoved, MetaAllListenersRemoved:
		return true
	default:
		return false
	}
}

// Reply is the optional callback passed to Emit and from there to every
// matching Listener and onAny intercept. Emit hands the same Reply to
// each of them, so it is invoked once per listener that calls it.
type Reply func(err error, result interface{})

// Listener receives the data for a matching emit plus an optional reply
// callback it may invoke to report success/failure back to the caller.
type Listener func(data interface{}, reply Reply)

// AnyListener is the "onAny" intercept signature: it receives the topic
// the event was published under in addition to the payload.
type AnyListener func(topic string, data interface{}, reply Reply)

// Emitter is a single hierarchical pub/sub bus. It is not safe for
// concurrent use; the hook runtime serializes access to it through its
// per-instance dispatcher (spec.md §5).
type Emitter struct {
	tree *topictree.Tree
	any  []AnyListener
	once map[string][]Listener // patterns registered via Once, tracked for auto-removal
	meta func(metaTopic, pattern string)
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{
		tree: topictree.New(),
		once: make(map[string][]Listener),
	}
}

// On registers fn against pattern. Emits a listener-added meta-event the
// first time any listener is registered at this exact pattern string.
// Registrations on the reserved meta topics themselves are not reported.
func (e *Emitter) On(pattern string, fn Listener) {
	first := e.tree.Add(pattern, topictree.Listener(fn))
	if first && !IsMeta(pattern) {
		e.emitMeta(MetaListenerAdded, pattern)
	}
}

// Once registers fn to run at most once against pattern, then
// auto-unregisters itself.
func (e *Emitter) Once(pattern string, fn Listener) {
	var wrapper Listener
	wrapper = func(data interface{}, reply Reply) {
		e.Off(pattern, wrapper)
		fn(data, reply)
	}
	e.once[pattern] = append(e.once[pattern], wrapper)
	e.On(pattern, wrapper)
}

// Off removes a single registration of fn from pattern. Emits
// listener-removed if found.
func (e *Emitter) Off(pattern string, fn Listener) {
	if e.tree.Remove(pattern, topictree.Listener(fn)) {
		e.emitMeta(MetaListenerRemoved, pattern)
	}
}

// RemoveAll clears every listener bound at pattern (or, if pattern is
// empty, this is a no-op; callers wanting a global wipe should iterate
// Enumerate()). Emits all-listeners-removed if anything was cleared.
func (e *Emitter) RemoveAll(pattern string) {
	if pattern == "" {
		return
	}
	if n := e.tree.RemoveAll(pattern); n > 0 {
		e.emitMeta(MetaAllListenersRemoved, pattern)
	}
}

// OnAny installs a global intercept invoked for every Emit call,
// regardless of topic. Used by the broker as the broadcast intercept
// (spec.md §4.5.6).
func (e *Emitter) OnAny(fn AnyListener) {
	e.any = append(e.any, fn)
}

// OnMeta installs fn to be called with every synthesized meta-event
// (its topic and pattern) after that meta topic's own listeners have
// run. The hook runtime uses it to feed the subscription-sync protocol.
func (e *Emitter) OnMeta(fn func(metaTopic, pattern string)) {
	e.meta = fn
}

// Listeners returns every listener whose pattern matches topic, honoring
// the precedence rules in spec.md §4.1.
func (e *Emitter) Listeners(topic string) []Listener {
	matched := e.tree.Match(topic)
	out := make([]Listener, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.(Listener))
	}
	return out
}

// HasListener reports whether any listener currently matches topic. Used
// by the RPC transport's hasEvent method (spec.md §4.4).
func (e *Emitter) HasListener(topic string) bool {
	return len(e.tree.Match(topic)) > 0
}

// Enumerate returns every registered pattern string with at least one
// listener (spec.md §4.1).
func (e *Emitter) Enumerate() []string {
	return e.tree.Enumerate()
}

// Emit invokes every listener matching topic, in the order Listeners
// would return, followed by the onAny intercepts (spec.md §5 ordering:
// listener invocation is stable within a class; onAny intercepts always
// see the event since the broadcast intercept must inspect it to decide
// on cross-peer fan-out).
func (e *Emitter) Emit(topic string, data interface{}, reply Reply) {
	for _, l := range e.Listeners(topic) {
		l(data, reply)
	}
	for _, a := range e.any {
		a(topic, data, reply)
	}
}

// emitMeta delivers a meta-event to the listeners of metaTopic and to the
// OnMeta hook only; onAny intercepts do not see it.
func (e *Emitter) emitMeta(metaTopic, pattern string) {
	for _, l := range e.Listeners(metaTopic) {
		l(pattern, nil)
	}
	if e.meta != nil {
		e.meta(metaTopic, pattern)
	}
}
