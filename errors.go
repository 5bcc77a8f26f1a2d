package falkordb

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrConnectionFailed indicates the eager connection made during client
	// construction did not succeed. The error returned by go-redis is kept in
	// the chain, so errors.As still reaches *net.OpError and friends.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidURL indicates a connection URL could not be parsed.
	ErrInvalidURL = errors.New("invalid connection url")

	// ErrTLSConfig indicates the TLS options could not be turned into a tls.Config,
	// for example an unreadable certificate file or an unknown TLS version name.
	ErrTLSConfig = errors.New("invalid tls configuration")

	// ErrDecode indicates a reply could not be decoded with the configured
	// encoding while EncodingErrors is "strict".
	ErrDecode = errors.New("response decode failed")

	// ErrNoStartupNodes indicates cluster mode was requested but no startup
	// node could be determined.
	ErrNoStartupNodes = errors.New("no cluster startup nodes")

	// ErrIncompleteCoverage indicates RequireFullCoverage is set and the cluster
	// does not serve all hash slots.
	ErrIncompleteCoverage = errors.New("cluster does not cover all hash slots")

	// ErrClientClosed indicates an operation on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// Error kinds categorize errors by their type.
const (
	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindNetwork represents errors raised while reaching the server.
	KindNetwork = "network"

	// KindCommand represents errors returned by the server for a command.
	KindCommand = "command"

	// KindDecode represents reply decoding errors.
	KindDecode = "decode"
)

// Error wraps an underlying error with the operation that failed and the
// category of the failure.
//
// Error supports unwrapping, so errors.Is(err, ErrConnectionFailed) and
// errors.As(err, &netErr) both work on values returned by this package.
type Error struct {
	// Op is the operation that failed (e.g., "Client.New", "Graph.Query").
	Op string

	// Kind categorizes the error (e.g., KindNetwork, KindCommand).
	Kind string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("falkordb: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("falkordb: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one), and
// otherwise delegates to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

func newError(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
