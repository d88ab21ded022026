package sim

// Network is the inter-host message layer seen by one host's Delegate.
// Sends never block; polls return at most one message per call. Each
// (host pair, direction) stream is FIFO; nothing is ordered across hosts.
//
// Implementations report an unreachable peer by wrapping ErrNetworkUnavailable;
// the Delegate treats that as retryable and any other error as fatal.
type Network interface {
	// SendRequest forwards a request to the owning host.
	SendRequest(dest int, req Request) error
	// PollInbound returns one request sent to this host by a peer, if any.
	PollInbound() (Envelope, bool, error)
	// SendResponse answers a request previously received from dest.
	SendResponse(dest int, resp Response) error
	// PollCompletions returns one response to a request this host sent, if any.
	PollCompletions() (Response, bool, error)
}
