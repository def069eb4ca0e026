// Package registry implements the server-side peer registry from
// spec.md §3/§4.3: one PeerRecord per connected client, name
// uniquification, and the subscription multiset that the broadcast
// intercept (spec.md §4.5.6) consults before forwarding an event.
//
// Grounded on the teacher's general map+mutex ownership style (the
// single dispatcher goroutine per hook is the only writer — see
// internal/hook), with the typed-error idiom carried over from
// remote/errors.go via internal/hookerr.
package registry

// SubscriptionKind selects how AdjustSubscription mutates a peer's
// subscription multiset (spec.md §4.3).
type SubscriptionKind int

const (
	SubscriptionAdd SubscriptionKind = iota
	SubscriptionRemove
	SubscriptionRemoveAll
)

// Peer is the RPC-exported surface of a connected client that the
// broker needs in order to forward events to it (spec.md §4.4's
// "message" and "hasEvent" methods). Implemented by internal/hook's
// connPeer on top of an internal/transport connection.
type Peer interface {
	// Message delivers a qualified topic and payload to the peer,
	// invoking reply (if non-nil) exactly once with the peer's
	// response.
	Message(topic string, data interface{}, reply func(err error, result interface{}))
	// HasEvent asks the peer whether it has a listener matching the
	// given topic segments, reporting the answer to reply.
	HasEvent(topicParts []string, reply func(err error, matched bool))
	// Close tears down the underlying connection.
	Close() error
}

// Record is the server-side bookkeeping for one connected peer
// (spec.md §3 PeerRecord).
type Record struct {
	Name          string
	Type          string
	SessionID     string
	RemoteAddress string
	RemotePort    int
	Peer          Peer

	subscriptions map[string]int
}

// Subscriptions returns a read-only snapshot of the peer's current
// subscription multiset keyed by topic pattern.
func (r *Record) Subscriptions() map[string]int {
	out := make(map[string]int, len(r.subscriptions))
	for k, v := range r.subscriptions {
		out[k] = v
	}
	return out
}

// HasSubscription reports whether pattern currently has a positive
// count in the peer's subscription multiset.
func (r *Record) HasSubscription(pattern string) bool {
	return r.subscriptions[pattern] > 0
}

// Registry tracks every peer currently connected to this hook acting as
// broker. It is not safe for concurrent use by multiple goroutines;
// the hook runtime is the sole owner and mutates it from its single
// dispatcher (spec.md §5).
type Registry struct {
	selfName string
	bySession map[string]*Record
	byName    map[string]*Record
}

// New returns an empty registry seeded with the broker's own reserved
// name (spec.md §3 invariant: "The server's own name is reserved and
// never assigned to a client").
func New(selfName string) *Registry {
	return &Registry{
		selfName:  selfName,
		bySession: make(map[string]*Record),
		byName:    make(map[string]*Record),
	}
}

// SelfName returns the broker's own reserved name.
func (r *Registry) SelfName() string { return r.selfName }

// AssignName uniquifies requested against every name currently known to
// the registry (including the broker's own reserved name), appending
// "-0", "-1", ... until an unused name is found (spec.md §3, §4.3).
func (r *Registry) AssignName(requested string) string {
	if requested != r.selfName {
		if _, taken := r.byName[requested]; !taken {
			return requested
		}
	}
	for i := 0; ; i++ {
		candidate := suffixed(requested, i)
		if candidate == r.selfName {
			continue
		}
		if _, taken := r.byName[candidate]; !taken {
			return candidate
		}
	}
}

func suffixed(name string, n int) string {
	return name + "-" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Upsert assigns a unique name for the report's requested name, creates
// a new Record keyed by sessionID, seeds its subscriptions from the
// report's initial topic list, and returns the new record, whose Name is
// the assigned name (spec.md §4.3, §4.5.3 step 3). A sessionID that is
// already registered returns its existing record unchanged.
func (r *Registry) Upsert(sessionID, requestedName, peerType, remoteAddress string, remotePort int, initialTopics []string, peer Peer) (*Record, error) {
	if existing, ok := r.bySession[sessionID]; ok {
		return existing, nil
	}
	assigned := r.AssignName(requestedName)
	rec := &Record{
		Name:          assigned,
		Type:          peerType,
		SessionID:     sessionID,
		RemoteAddress: remoteAddress,
		RemotePort:    remotePort,
		Peer:          peer,
		subscriptions: make(map[string]int),
	}
	for _, topic := range initialTopics {
		rec.subscriptions[topic]++
	}
	r.bySession[sessionID] = rec
	r.byName[assigned] = rec
	return rec, nil
}

// BySession looks up a peer record by RPC session id.
func (r *Registry) BySession(sessionID string) (*Record, bool) {
	rec, ok := r.bySession[sessionID]
	return rec, ok
}

// ByName looks up a peer record by assigned name, including the broker's
// own self-record once SeedSelfSubscriptions has created it.
func (r *Registry) ByName(name string) (*Record, bool) {
	rec, ok := r.byName[name]
	return rec, ok
}

// Remove destroys a peer record on connection end (spec.md §3 PeerRecord
// lifecycle). Returns the removed record's name, or "" if not found.
func (r *Registry) Remove(sessionID string) string {
	rec, ok := r.bySession[sessionID]
	if !ok {
		return ""
	}
	delete(r.bySession, sessionID)
	delete(r.byName, rec.Name)
	return rec.Name
}

// Peers returns every currently connected peer record. Ordering is
// implementation-defined (map iteration order).
func (r *Registry) Peers() []*Record {
	out := make([]*Record, 0, len(r.bySession))
	for _, rec := range r.bySession {
		out = append(out, rec)
	}
	return out
}

// AdjustSubscription mutates peerName's subscription multiset per kind
// (spec.md §4.3): add increments, remove decrements and deletes the key
// on reaching zero, removeAll deletes the key outright. Returns true
// (the event was a subscription-meta event and has now been fully
// handled/suppressed from further propagation), matching the contract
// described in spec.md §4.3 — this function is only ever invoked for
// meta events.
func (r *Registry) AdjustSubscription(peerName string, kind SubscriptionKind, topic string) bool {
	rec, ok := r.byName[peerName]
	if !ok {
		return true
	}
	switch kind {
	case SubscriptionAdd:
		rec.subscriptions[topic]++
	case SubscriptionRemove:
		if rec.subscriptions[topic] <= 1 {
			delete(rec.subscriptions, topic)
		} else {
			rec.subscriptions[topic]--
		}
	case SubscriptionRemoveAll:
		delete(rec.subscriptions, topic)
	}
	return true
}

// SeedSelfSubscriptions seeds the broker's own record's subscription
// multiset from the current enumeration of its local topic tree
// (spec.md §4.5.2 step 6, run once the transport reports ready).
func (r *Registry) SeedSelfSubscriptions(patterns []string) {
	rec, ok := r.byName[r.selfName]
	if !ok {
		rec = &Record{Name: r.selfName, subscriptions: make(map[string]int)}
		r.byName[r.selfName] = rec
	}
	rec.subscriptions = make(map[string]int, len(patterns))
	for _, p := range patterns {
		rec.subscriptions[p]++
	}
}
