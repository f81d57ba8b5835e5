package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrPermitHeld is returned by Dedup.Reserve when the same source has
	// already reserved addr, per §4.J step 1's "duplicates from the same
	// source are suppressed".
	ErrPermitHeld = errors.New("peer: dedup permit already held by this source")

	// ErrAddressRejected is returned when an address fails §4.J's address
	// filtering rules.
	ErrAddressRejected = errors.New("peer: address rejected by filtering rules")

	// ErrHandshakeTimeout names a handshake that did not complete in time.
	// RunHandshake applies no timeout of its own and does not return it.
	ErrHandshakeTimeout = errors.New("peer: handshake timed out")

	// ErrSelfConnection is returned when a handshake reveals the remote
	// runtime id equals ours.
	ErrSelfConnection = errors.New("peer: self connection")

	// ErrNoGateway is returned by PortMapper implementations that cannot
	// locate a NAT gateway to map a port on.
	ErrNoGateway = errors.New("peer: no NAT gateway found")
)

// protocolMismatchError reports that the remote's protocol version exceeds
// ours, per §6: "a side that reads their_version > our_version aborts with
// ProtocolMismatch(their_version)".
type protocolMismatchError struct {
	TheirVersion uint64
}

func (e protocolMismatchError) Error() string {
	return fmt.Sprintf("peer: remote protocol version %d is newer than ours", e.TheirVersion)
}

// ErrProtocolMismatch builds the error a handshake aborts with when the
// remote advertises a newer protocol version than this build understands.
func ErrProtocolMismatch(theirVersion uint64) error {
	return protocolMismatchError{TheirVersion: theirVersion}
}
