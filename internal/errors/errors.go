// Package errors defines the error taxonomy shared by the responder.
//
// Helpers never terminate the process. They return one of the types below
// and the serve loop decides, through IsFatal, whether to stop or to log and
// continue with the next datagram:
//
//   - ConfigError: socket creation, option or bind failure, bad config file.
//     Fatal at startup.
//   - ErrNoInterfaceInfo: a datagram arrived without an ingress interface
//     control message. Fatal at runtime, the socket is misconfigured.
//   - NetworkError: transport-level receive or send failure. Recoverable.
//   - ResolveError: interface lookup failed for a reason other than
//     "no address assigned". Recoverable.
//   - ValidationError: an option or configuration value is out of range.
package errors

import (
	"errors"
	"fmt"
)

// ErrNoInterfaceInfo reports a received datagram that carried no ingress
// interface index.
var ErrNoInterfaceInfo = errors.New("no ingress interface in control message")

// ConfigError is returned when the listening socket or the configuration
// cannot be set up.
type ConfigError struct {
	Operation string // e.g. "create socket", "bind", "load config"
	Err       error
	Details   string
}

func (e *ConfigError) Error() string {
	return format("config", e.Operation, e.Err, e.Details)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NetworkError is returned on transport-level receive or send failures.
type NetworkError struct {
	Operation string // e.g. "receive datagram", "send unicast reply"
	Err       error
	Details   string
}

func (e *NetworkError) Error() string {
	return format("network", e.Operation, e.Err, e.Details)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ResolveError is returned when an interface index cannot be resolved.
//
// An interface that exists but has no IPv4 address is not a ResolveError.
type ResolveError struct {
	Index   int
	Name    string // empty if the index never resolved to a name
	Err     error
	Details string
}

func (e *ResolveError) Error() string {
	target := fmt.Sprintf("interface %d", e.Index)
	if e.Name != "" {
		target = fmt.Sprintf("interface %d (%s)", e.Index, e.Name)
	}
	return format("resolve", target, e.Err, e.Details)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ValidationError reports an invalid option or configuration value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// IsFatal reports whether err must stop the serve loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoInterfaceInfo) {
		return true
	}
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func format(kind, op string, err error, details string) string {
	msg := kind + " error: " + op
	if err != nil {
		msg += ": " + err.Error()
	}
	if details != "" {
		msg += " (" + details + ")"
	}
	return msg
}
