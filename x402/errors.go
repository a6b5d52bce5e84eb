package x402

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports a malformed route or requirement. It is fatal at
// startup: a gate is never built from an invalid registry.
type ConfigError struct {
	Route string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid payment configuration")
	if e.Route != "" {
		fmt.Fprintf(&b, " for route %q", e.Route)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// InternalError is an unexpected fault inside the gate. Message is safe to
// return to clients; Err is only logged.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

// UpstreamError marks a failure to reach the verification backend. It is
// reported as upstream_unavailable, never as a payment rejection.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("facilitator %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err (or anything it wraps) is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

func normalizeCode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
