package stream

// TransportHandler receives lifecycle and frame callbacks from a transport.
// Every callback carries the transport that produced it so the client can
// discard events from a connection it has already superseded.
type TransportHandler struct {
	// OnOpen fires once when the server-push connection is established.
	OnOpen func(t Transport)
	// OnFrame fires once per raw frame, in arrival order. Comment frames
	// (leading ':') are passed through verbatim.
	OnFrame func(t Transport, raw string)
	// OnClose fires once when the connection ends for any reason,
	// including a failed open. No further callbacks follow it.
	OnClose func(t Transport, err error)
}

// Transport is a single server-push connection attempt. It is created idle
// by a Dialer; Start begins the attempt and Close tears it down. Close is
// safe to call multiple times and from any state.
type Transport interface {
	Start()
	Close()
}

// Dialer opens transports against a server-push endpoint. Dial returns an
// idle transport; no handler callback is invoked before Start.
type Dialer interface {
	Dial(url string, handler TransportHandler) Transport
}
