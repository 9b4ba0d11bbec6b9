package ssevents

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrCorrelationTimeout matches every *TimeoutError.
	ErrCorrelationTimeout = errors.New("rpc response timed out")
	// ErrHeartbeatTimeout is the close cause when the server stops sending heartbeats.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrSessionClosed rejects RPCs still pending when the session ends.
	ErrSessionClosed = errors.New("session closed")
	// ErrDuplicateRequestID is returned by Send when the id is already outstanding.
	ErrDuplicateRequestID = errors.New("duplicate request id")
	// ErrLifetimeElapsed is the close cause when MaxSessionLifetime is reached.
	ErrLifetimeElapsed = errors.New("maximum execution time reached")
)

// ============================================================================
// Attempt-level Errors
// ============================================================================

// ConfigError reports a missing or invalid setting. It aborts an attempt
// before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: %s is required", e.Field)
}

// HandshakeError reports that the upgrade handshake failed. Status and Body
// are populated when the server answered with a non-upgrade response.
type HandshakeError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server didn't accept websocket connection to %s. Status: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("websocket handshake with %s failed: %v", e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SubscriptionError reports a subscribe RPC that timed out or was answered
// with an error frame. The connection is unusable afterwards.
type SubscriptionError struct {
	RequestID string
	RPC       *RPCError
	Err       error
}

func (e *SubscriptionError) Error() string {
	if e.RPC != nil {
		return fmt.Sprintf("subscription %s failed: %s", e.RequestID, e.RPC.Error())
	}
	return fmt.Sprintf("subscription %s failed: %v", e.RequestID, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	if e.RPC != nil {
		return e.RPC
	}
	return e.Err
}

// ============================================================================
// Session-local Errors
// ============================================================================

// TimeoutError is passed to the failure continuation of an RPC whose
// response did not arrive in time.
type TimeoutError struct {
	RequestID string
	Method    string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request %s timed out after %s", e.Method, e.RequestID, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrCorrelationTimeout }

// MalformedFrameError describes an inbound frame that was discarded.
type MalformedFrameError struct {
	Raw []byte
	Err error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// PersistenceError wraps a cursor store failure. It is never fatal.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cursor %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// statusForError maps an attempt-level failure to the status reported in Summary.
func statusForError(err error) int {
	var (
		cfgErr *ConfigError
		hsErr  *HandshakeError
		subErr *SubscriptionError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &hsErr):
		return http.StatusBadGateway
	case errors.As(err, &subErr):
		if errors.Is(err, ErrCorrelationTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
