// Package aux defines the auxiliary transport adapter contract from
// spec.md §4.6/§9: a fixed, single-call interface consumed by the hook
// runtime's emit pipeline (spec.md §4.5.5 step 4), with concrete driver
// implementations out of scope per spec.md §1 non-goals. Loaded by a
// transport-type key, in the same "key -> constructor" shape the rest
// of the pack uses for pluggable environment/driver registries.
package aux

import "context"

// Options is the free-form configuration blob associated with one
// configured transport (spec.md §6 "transports: sequence of
// {type, options}").
type Options map[string]interface{}

// Transport is the fixed adapter contract every auxiliary transport
// driver must satisfy. Each Message call reports its outcome exactly
// once, via the returned error. One emit can lead to several calls: the
// hook calls Message once when the event is emitted, and a broker calls
// it again for each peer it forwards the event to.
type Transport interface {
	Message(ctx context.Context, options Options, topic string, data interface{}) error
}

// Constructor builds a Transport from its configured Options.
type Constructor func(options Options) (Transport, error)

var registry = make(map[string]Constructor)

// Register associates a transport-type key with the constructor used to
// build it from configuration. Intended to be called from driver
// packages' init() functions, mirroring the registry-by-key pattern used
// for the pack's other pluggable drivers.
func Register(typeKey string, ctor Constructor) {
	registry[typeKey] = ctor
}

// Build looks up the constructor registered for typeKey and invokes it.
func Build(typeKey string, options Options) (Transport, error) {
	ctor, ok := registry[typeKey]
	if !ok {
		return nil, &UnknownTypeError{Type: typeKey}
	}
	return ctor(options)
}

// UnknownTypeError is returned by Build when no constructor has been
// registered for the requested type key.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "aux: no transport registered for type " + e.Type
}

// Configured pairs a transport-type key with its configuration and the
// built Transport instance, matching the hook's ordered
// auxiliaryTransports sequence (spec.md §3).
type Configured struct {
	Type      string
	Options   Options
	Transport Transport
}
