// Package join brings a connection from "connected" to "joined": it
// fetches the modules the server requires, installs them and completes the
// join.
package join

import (
	"time"

	"github.com/go-mclib/joinclient/pkg/client"
	"github.com/go-mclib/joinclient/pkg/netdata"
)

const ModuleName = "join"

// Module runs a fresh Handshake on every connection of its client.
type Module struct {
	client *client.Client
	hs     *Handshake

	// Timeout and Margin override the client's network config when set.
	Timeout time.Duration
	Margin  time.Duration
}

func New() *Module {
	return &Module{}
}

func (m *Module) Name() string { return ModuleName }

func (m *Module) Init(c *client.Client) { m.client = c }

func (m *Module) Reset() {
	if m.hs != nil {
		m.hs.Stop()
	}
	m.hs = nil
}

// From retrieves the join module from a client.
func From(c *client.Client) *Module {
	mod := c.Module(ModuleName)
	if mod == nil {
		return nil
	}
	return mod.(*Module)
}

// Handshake returns the handshake of the current connection, or nil.
func (m *Module) Handshake() *Handshake { return m.hs }

// OnConnect starts a handshake on the new connection.
func (m *Module) OnConnect() {
	c := m.client
	cfg := c.Config

	timeout, margin := m.Timeout, m.Margin
	if timeout <= 0 {
		timeout = cfg.Network.Timeout.Duration
	}
	if margin <= 0 {
		margin = cfg.Network.TimeoutMargin.Duration
	}

	m.hs = NewHandshake(Options{
		Channel:    c.Conn(),
		Registry:   c.Registry,
		InstallDir: cfg.Paths.Modules,
		Scratch:    c.Scratch(),
		Player:     cfg.Player,
		Status:     c.JoinStatus(),
		Logger:     c.Logger,
		Timeout:    timeout,
		Margin:     margin,
		OnJoined:   c.Joined,
	})
	m.hs.Start()
}

func (m *Module) HandleMessage(msg netdata.Inbound) {
	if m.hs != nil {
		m.hs.HandleMessage(msg)
	}
}

// OnDisconnect fails a handshake that was still in progress.
func (m *Module) OnDisconnect(err error) {
	if m.hs != nil {
		m.hs.Abort(err)
	}
}
