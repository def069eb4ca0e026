// Package hookerr defines the error taxonomy from spec.md §7. Each kind
// is a distinct type so callers can branch on it with errors.As, in the
// idiom of the teacher's remote.RequestError (typed error + As/Is
// helpers) rather than sentinel string matching.
package hookerr

import (
	"fmt"

	"emperror.dev/errors"
)

// BindError indicates the configured port was already in use. Recoverable:
// the hook runtime falls back from listen to connect (spec.md §4.5.1).
type BindError struct {
	Host string
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("hookbus: bind %s:%d in use: %s", e.Host, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// IsBindError reports whether err is (or wraps) a *BindError.
func IsBindError(err error) bool {
	var b *BindError
	return errors.As(err, &b)
}

// ResolveError indicates DNS resolution of the configured host failed or
// returned an empty address list (spec.md §4.5.2 step 1).
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hookbus: could not resolve host %q: %s", e.Host, e.Err)
	}
	return fmt.Sprintf("hookbus: host %q resolved to no addresses", e.Host)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// IsResolveError reports whether err is (or wraps) a *ResolveError.
func IsResolveError(err error) bool {
	var r *ResolveError
	return errors.As(err, &r)
}

// VersionMismatchError is returned when a client's reported version
// strictly differs from the broker's (spec.md §4.5.3, §7). Fatal on
// connect.
type VersionMismatchError struct {
	Local  string
	Remote string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("hookbus: version mismatch: local=%s remote=%s", e.Local, e.Remote)
}

// IsVersionMismatchError reports whether err is (or wraps) a
// *VersionMismatchError.
func IsVersionMismatchError(err error) bool {
	var v *VersionMismatchError
	return errors.As(err, &v)
}

// NothingToStop is returned by Stop when the hook is not currently
// acting as either server or client.
var NothingToStop = errors.Sentinel("hookbus: nothing to stop, hook is neither server nor client")

// NothingToKill is returned by Kill when asked to stop a named child
// while no spawner is configured, so no child of that name can exist.
type NothingToKill struct {
	Name string
}

func (e *NothingToKill) Error() string {
	return fmt.Sprintf("hookbus: nothing to kill, no child named %q", e.Name)
}

// IsNothingToKill reports whether err is (or wraps) a *NothingToKill.
func IsNothingToKill(err error) bool {
	var n *NothingToKill
	return errors.As(err, &n)
}

// CannotKillServer is returned when Kill is invoked with no target on a
// hook acting as the broker (spec.md §4.5.7: "refuse on the broker").
var CannotKillServer = errors.Sentinel("hookbus: cannot kill self while acting as broker")

// TransportError wraps an underlying RPC/socket failure that does not
// fit one of the more specific kinds above.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hookbus: transport error: %s", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is (or wraps) a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Wrap is a small convenience matching the teacher's habit of wrapping
// third-party errors in *TransportError before they bubble out of the
// transport package.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Err: err}
}

// KindName reports the taxonomy name of err if it is one of this
// package's typed kinds (spec.md §7), or "" if err is not one of ours.
// loggers/cli uses this to tell an expected, named hookbus condition
// (worth a one-line annotation) apart from an unexpected error (worth a
// full stacktrace).
func KindName(err error) string {
	switch {
	case IsBindError(err):
		return "BindError"
	case IsResolveError(err):
		return "ResolveError"
	case IsVersionMismatchError(err):
		return "VersionMismatchError"
	case IsNothingToKill(err):
		return "NothingToKill"
	case IsTransportError(err):
		return "TransportError"
	case errors.Is(err, NothingToStop):
		return "NothingToStop"
	case errors.Is(err, CannotKillServer):
		return "CannotKillServer"
	default:
		return ""
	}
}
