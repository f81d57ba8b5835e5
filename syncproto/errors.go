package syncproto

import "errors"

var (
	// ErrTimeout names a pipelined request that got no response within
	// T_req, per §4.I. Queues.SweepTimeouts reports such requests by id
	// rather than returning this error.
	ErrTimeout = errors.New("syncproto: request timed out")

	// ErrLinkFailed is raised once a request has timed out a second time,
	// per §4.I's "re-queued once, then fails the link".
	ErrLinkFailed = errors.New("syncproto: link failed after repeated timeout")

	// ErrProtocolMismatch is raised when the remote's advertised protocol
	// version is newer than ours, per §4.I's handshake transition rule.
	ErrProtocolMismatch = errors.New("syncproto: remote protocol version is newer than ours")

	// ErrInvalidTransition is returned by a Link state change that does not
	// match §4.I's connection state machine.
	ErrInvalidTransition = errors.New("syncproto: invalid connection state transition")

	// ErrSelfConnection is returned when a handshake reveals the remote
	// runtime id equals ours, per §4.I's self-connection guard.
	ErrSelfConnection = errors.New("syncproto: self connection")

	// ErrQueueFullPending is returned by Queues.Enqueue once the pending
	// queue has reached its configured depth.
	ErrQueueFullPending = errors.New("syncproto: pending queue full")
)
