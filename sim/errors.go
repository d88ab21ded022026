package sim

import "errors"

var (
	// ErrProtocol is returned when a Delegate sees a command it does not know.
	// It is fatal to that host's loop.
	ErrProtocol = errors.New("protocol error")

	// ErrDoubleIssue is returned when a thread issues a second request for an
	// address while one is still outstanding.
	ErrDoubleIssue = errors.New("request already outstanding for address")

	// ErrNotIssued is returned when a thread awaits an address it never issued.
	ErrNotIssued = errors.New("no outstanding request for address")

	// ErrUnknownRoute marks a response for a client queue that is already closed.
	// The Delegate recovers by dropping the response.
	ErrUnknownRoute = errors.New("response for closed client queue")

	// ErrNetworkUnavailable is the retryable condition surfaced by a Network
	// when the destination host cannot be reached.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrRemoteTimeout is delivered to a thread whose remote request did not
	// complete within the Delegate's RemoteTimeout.
	ErrRemoteTimeout = errors.New("remote request timed out")

	// ErrOffsetOutOfRange is returned by MemoryStore for offsets past its size.
	ErrOffsetOutOfRange = errors.New("offset out of range")

	// ErrAddressOutOfRange is returned when an address names a host outside the roster.
	ErrAddressOutOfRange = errors.New("address out of range")
)
