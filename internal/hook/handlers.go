package hook

import (
	"context"

	"github.com/hookbus/hookbus/internal/topictree"
	"github.com/hookbus/hookbus/internal/transport"
	"github.com/hookbus/hookbus/metrics"
)

// serverPeerHandler answers RPC calls arriving on one accepted
// connection, bound to the broker's registry (spec.md §4.5.2 step 4).
type serverPeerHandler struct {
	transport.UnsupportedHandler

	hook      *Hook
	sessionID string
	conn      *transport.Conn
}

// HandleReport implements the broker side of spec.md §4.5.3: assign a
// unique name, create the PeerRecord, and hand back the assigned
// identity and this broker's version. The transport layer hands every
// inbound envelope its own goroutine (internal/transport/transport.go's
// "go c.dispatch(env)"), so with more than one peer connected this can
// run concurrently with another peer's report/message/disconnect; the
// actual registry mutation is pushed onto the hook's single dispatcher
// via runSync so it is serialized exactly as internal/registry's own
// "not safe for concurrent use" doc comment assumes.
func (s *serverPeerHandler) HandleReport(_ context.Context, desc transport.ReportDescriptor) (transport.ReportAck, error) {
	var ack transport.ReportAck
	var err error
	s.hook.runSync(func() {
		ack, err = s.handleReportSerial(desc)
	})
	return ack, err
}

func (s *serverPeerHandler) handleReportSerial(desc transport.ReportDescriptor) (transport.ReportAck, error) {
	s.hook.mu.Lock()
	reg := s.hook.registry
	version := s.hook.version
	s.hook.mu.Unlock()
	if reg == nil {
		return transport.ReportAck{}, nil
	}

	host, port := remoteHostPort(s.conn.RemoteAddr())
	peer := &connPeer{conn: s.conn}
	rec, err := reg.Upsert(s.sessionID, desc.Name, desc.Type, host, port, desc.InitialTopics, peer)
	if err != nil {
		return transport.ReportAck{}, err
	}

	metrics.SetConnectedPeers(len(reg.Peers()))

	return transport.ReportAck{AssignedName: rec.Name, AssignedID: s.sessionID, ServerVersion: version}, nil
}

// HandleMessage implements the broker side of the "message" RPC
// (spec.md §4.4, §4.5.5). A reserved meta topic updates the peer's
// subscription multiset directly; anything else is already qualified
// with the origin's name and is handed to deliverFromPeer so the
// broadcast intercept can consider it for further fan-out. Run via
// runSync for the same reason as HandleReport: deliverFromPeer walks
// the shared Emitter/Registry, both documented single-writer.
func (s *serverPeerHandler) HandleMessage(_ context.Context, topic string, data interface{}) (interface{}, error) {
	var result interface{}
	var err error
	s.hook.runSync(func() {
		result, err = s.handleMessageSerial(topic, data)
	})
	return result, err
}

func (s *serverPeerHandler) handleMessageSerial(topic string, data interface{}) (interface{}, error) {
	s.hook.mu.Lock()
	reg := s.hook.registry
	s.hook.mu.Unlock()
	if reg == nil {
		s.hook.deliverFromPeer(topic, data, nil)
		return "ok", nil
	}
	rec, ok := reg.BySession(s.sessionID)

	if kind, isMeta := subscriptionKindForTopic(topic); isMeta {
		if ok {
			pattern, _ := data.(string)
			reg.AdjustSubscription(rec.Name, kind, pattern)
		}
		return nil, nil
	}

	s.hook.deliverFromPeer(topic, data, nil)
	return "ok", nil
}

// HandleHasEvent is never called on the broker side of a connection (the
// broker is the one asking); embedding UnsupportedHandler's default is
// correct here since a peer never issues hasEvent to the broker.

// clientPeerHandler answers RPC calls the broker makes against a
// connected client (spec.md §4.5.3 step 1: "export local message and
// hasEvent methods that delegate to this hook's emitter and tree").
type clientPeerHandler struct {
	transport.UnsupportedHandler

	hook *Hook
}

// HandleMessage is routed through runSync for the same reason as the
// server side: deliverFromPeer mutates the shared Emitter, and a client
// may have more than one in-flight call if the broker pipelines
// messages ahead of their replies.
func (c *clientPeerHandler) HandleMessage(_ context.Context, topic string, data interface{}) (interface{}, error) {
	c.hook.runSync(func() {
		c.hook.deliverFromPeer(topic, data, nil)
	})
	return "ok", nil
}

func (c *clientPeerHandler) HandleHasEvent(_ context.Context, topicParts []string) (bool, error) {
	var matched bool
	c.hook.runSync(func() {
		matched = c.hook.HasListener(topictree.Join(topicParts))
	})
	return matched, nil
}
