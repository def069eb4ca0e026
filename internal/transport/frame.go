package transport

import "github.com/goccy/go-json"

// envelope is the wire frame exchanged over a Conn. A call sets method
// and params; the corresponding response sets reply=true with the same
// id and either result or errMsg. Grounded on the teacher's
// router/websocket Message/Payload pair (an Event + typed Args), here
// generalized to carry an RPC id so either side can correlate a single
// pending reply per outgoing call (spec.md §4.4).
type envelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Reply  bool            `json:"reply,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	ErrMsg string          `json:"error,omitempty"`
}

func encodeParams(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeInto(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
