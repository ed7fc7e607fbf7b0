package client

import "github.com/go-mclib/joinclient/pkg/netdata"

// Module is a pluggable component fed every inbound message.
type Module interface {
	// Name returns a unique key for this module (e.g. "join").
	Name() string
	// Init is called once when the module is registered on a client.
	// Store the *Client reference for later use.
	Init(c *Client)
	// HandleMessage is called for every inbound message, in arrival order,
	// from the connection's read goroutine.
	HandleMessage(msg netdata.Inbound)
	// Reset is called before every connection attempt to clear module state.
	Reset()
}

// ConnectHandler is optionally implemented by modules that need to act
// after the connection is established but before the read loop starts.
// The join module uses this to arm its watchdog.
type ConnectHandler interface {
	OnConnect()
}

// DisconnectHandler is optionally implemented by modules that need to
// know when the read loop has ended. err is the reason the loop stopped.
type DisconnectHandler interface {
	OnDisconnect(err error)
}

// Handler is a lightweight message callback for one-off matching.
type Handler func(c *Client, msg netdata.Inbound)
