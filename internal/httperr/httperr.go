// Package httperr classifies transport failures into the error taxonomy the
// rest of the client acts on. Read paths degrade to last known good state on
// any transport kind; mutating paths only retry kinds reported as transient.
package httperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the coarse classification of a request failure.
type Kind string

const (
	// KindNetworkUnreachable covers connection refused and DNS failures,
	// the "status 0" case in browser clients.
	KindNetworkUnreachable Kind = "network_unreachable"
	// KindTimeout covers deadline exceeded, kept distinct from refused
	// connections so callers can tell a slow server from a dead one.
	KindTimeout Kind = "timeout"
	// KindUnauthorized covers 401 and 403.
	KindUnauthorized Kind = "unauthorized"
	// KindMethodNotAllowed covers 405, typically a CORS preflight rejection
	// on a mutating endpoint. Surfaced rather than retried.
	KindMethodNotAllowed Kind = "method_not_allowed"
	// KindServerError covers 5xx.
	KindServerError Kind = "server_error"
	// KindValidation covers malformed payloads (import/export, 4xx bodies).
	KindValidation Kind = "validation"
	// KindAnomaly marks internal consistency failures, never transport.
	KindAnomaly Kind = "anomaly"
	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Error carries the classified kind alongside the underlying cause.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for the given operation.
func New(op string, kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Op: op, Err: err}
}

// Classify maps a transport error or an HTTP status code to a Kind.
// Pass status 0 when no response was received.
func Classify(err error, status int) Kind {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return KindTimeout
			}
			return KindNetworkUnreachable
		}
		return KindNetworkUnreachable
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusMethodNotAllowed:
		return KindMethodNotAllowed
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindValidation
	}
	return KindUnknown
}

// KindOf extracts the classified kind from an error chain.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return Classify(err, 0)
}

// Transient reports whether a failure of this kind may succeed on retry.
// Mutating operations are retried at most once and only on transient kinds;
// 4xx kinds are never transient.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindServerError || k == KindNetworkUnreachable
}
