package pork

import "errors"

// Sentinel error kinds, wrapped with fmt.Errorf("...: %w", err) at the
// call site so callers can errors.Is against them while still getting a
// message-specific string.
var (
	// ErrTimeout: no ready message arrived within the wait budget.
	ErrTimeout = errors.New("pork: timeout")

	// ErrUnknownID: ack/fail referenced an id the engine
	// doesn't know about on the primary path.
	ErrUnknownID = errors.New("pork: unknown message id")

	// ErrInvariantViolation: internal inconsistency detected, e.g. a CAS
	// observed going backwards or a double free-enqueue. Callers that
	// detect this should panic rather than attempt to continue.
	ErrInvariantViolation = errors.New("pork: invariant violation")

	// ErrCoordinationFailure: a non-OK, non-benign response from the
	// coordination service.
	ErrCoordinationFailure = errors.New("pork: coordination failure")

	// ErrTransportFailure: an RPC connection or marshalling error on the
	// replication edge.
	ErrTransportFailure = errors.New("pork: transport failure")
)
