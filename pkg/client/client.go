package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-mclib/joinclient/pkg/config"
	"github.com/go-mclib/joinclient/pkg/logging"
	"github.com/go-mclib/joinclient/pkg/modfs"
	"github.com/go-mclib/joinclient/pkg/registry"
	"github.com/go-mclib/joinclient/pkg/status"
	"github.com/go-mclib/joinclient/pkg/transport"
	"github.com/go-mclib/joinclient/pkg/tui"
	"github.com/rs/zerolog"
)

type Client struct {
	// connection
	Address string
	Config  config.Config
	Verbose bool

	// reconnection
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// TUI
	Interactive bool
	MaxLogLines int

	Logger zerolog.Logger

	// Registry defaults to a registry.Local scanned from Config.Paths.Modules.
	Registry registry.Registry

	// modules
	modules       []Module
	modulesByName map[string]Module
	handlers      []Handler
	onJoined      []func(*Server)

	// per connection attempt
	mu              sync.Mutex
	conn            *transport.Conn
	shouldReconnect bool
	forced          bool
	joinStatus      atomic.Pointer[status.JoinStatus]

	scratch    *modfs.Scratch
	tuiProgram *tea.Program
	swarm      *Swarm
}

// New creates a client from cfg. Register modules before calling
// ConnectAndStart.
func New(cfg config.Config) *Client {
	c := &Client{
		Address:              cfg.Network.Address,
		Config:               cfg,
		MaxReconnectAttempts: cfg.Network.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Network.ReconnectDelay.Duration,
		Logger:               logging.New("joinclient", nil),
		modulesByName:        make(map[string]Module),
		scratch:              modfs.NewScratch(cfg.Paths.Scratch),
	}
	c.joinStatus.Store(status.New())
	return c
}

// Register adds a module to the client. Panics on duplicate name.
func (c *Client) Register(m Module) {
	if _, exists := c.modulesByName[m.Name()]; exists {
		panic("module already registered: " + m.Name())
	}
	c.modules = append(c.modules, m)
	c.modulesByName[m.Name()] = m
	m.Init(c)
}

// Module returns a registered module by name, or nil.
func (c *Client) Module(name string) Module {
	return c.modulesByName[name]
}

// RegisterHandler appends a lightweight message callback (escape hatch).
func (c *Client) RegisterHandler(h Handler) {
	c.handlers = append(c.handlers, h)
}

// OnJoined registers a callback run with the session handle once the
// server confirms the join. This is where post-join bootstrap hooks in.
func (c *Client) OnJoined(cb func(*Server)) {
	c.onJoined = append(c.onJoined, cb)
}

// Joined runs the OnJoined callbacks. Called by the join module.
func (c *Client) Joined(s *Server) {
	if id, ok := s.ClientID(); ok {
		c.Logger.Info().Int32("client_id", id).Msg("joined server")
	}
	if c.tuiProgram != nil {
		tui.EnableInput(c.tuiProgram)
	}
	for _, cb := range c.onJoined {
		cb(s)
	}
}

// JoinStatus returns the status of the current (or last) handshake.
func (c *Client) JoinStatus() *status.JoinStatus {
	return c.joinStatus.Load()
}

// Conn returns the current connection, or nil between attempts.
func (c *Client) Conn() *transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Swarm returns the swarm this client belongs to, or nil.
func (c *Client) Swarm() *Swarm { return c.swarm }

// Scratch is where module downloads are staged.
func (c *Client) Scratch() *modfs.Scratch { return c.scratch }

// GetUsername returns the player name (satisfies tui.ClientInterface).
func (c *Client) GetUsername() string { return c.Config.Player.Name }

// GetAddress returns the server address (satisfies tui.ClientInterface).
func (c *Client) GetAddress() string { return c.Address }

// GetMaxLogLines returns the maximum log lines setting (satisfies tui.ClientInterface).
func (c *Client) GetMaxLogLines() int { return c.MaxLogLines }

// Disconnect closes the connection. If force is true, no reconnect is attempted.
func (c *Client) Disconnect(force bool) error {
	c.mu.Lock()
	c.shouldReconnect = !force
	c.forced = force
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ConnectAndStart connects, runs the handshake and keeps dispatching
// messages until the connection ends and no reconnect is due.
func (c *Client) ConnectAndStart(ctx context.Context) error {
	defer func() {
		if err := c.scratch.Cleanup(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to remove scratch files")
		}
	}()

	if !c.Interactive {
		if err := c.ensureRegistry(); err != nil {
			return err
		}
		return c.runConnectionLoop(ctx)
	}

	tuiProgram, writer := tui.Start(c)
	c.tuiProgram = tuiProgram
	c.Logger = c.Logger.Output(zerolog.ConsoleWriter{Out: writer, NoColor: true, TimeFormat: time.Kitchen})

	defer func() {
		if c.tuiProgram != nil {
			c.tuiProgram.Quit()
			c.tuiProgram = nil
		}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		_, err := tuiProgram.Run()
		tuiDone <- err
	}()

	// the registry logs through the TUI writer from here on
	if err := c.ensureRegistry(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	clientDone := make(chan error, 1)
	go func() {
		clientDone <- c.runConnectionLoop(ctx)
	}()
	return c.awaitSession(tuiDone, clientDone, cancel)
}

// awaitSession returns once the connection loop has finished. A TUI that
// exits first stops the loop, then waits for it.
func (c *Client) awaitSession(tuiDone, clientDone <-chan error, stop context.CancelFunc) error {
	select {
	case err := <-clientDone:
		return err
	case tuiErr := <-tuiDone:
		stop()
		derr := c.Disconnect(true)
		<-clientDone
		if tuiErr != nil {
			return tuiErr
		}
		return derr
	}
}

func (c *Client) ensureRegistry() error {
	if c.Registry != nil {
		return nil
	}
	local := registry.NewLocal(c.Logger)
	if err := local.Scan(c.Config.Paths.Modules); err != nil {
		return fmt.Errorf("load installed modules: %w", err)
	}
	c.Registry = local
	return nil
}

func (c *Client) runConnectionLoop(ctx context.Context) error {
	attempts := 0
	maxAttempts := c.MaxReconnectAttempts

	for {
		c.mu.Lock()
		c.shouldReconnect = false
		c.forced = false
		c.mu.Unlock()

		err := c.connectAndStartOnce(ctx)
		if err == nil {
			return nil
		}

		c.Logger.Error().Err(err).Msg("connection error")

		c.mu.Lock()
		reconnect := c.shouldReconnect
		c.mu.Unlock()
		if !reconnect || maxAttempts == 0 || ctx.Err() != nil {
			c.Logger.Info().Msg("not reconnecting")
			return err
		}

		attempts++
		if maxAttempts > 0 && attempts > maxAttempts {
			c.Logger.Warn().Int("max_attempts", maxAttempts).Msg("max reconnect attempts reached, giving up")
			return err
		}
		c.Logger.Info().
			Dur("delay", c.ReconnectDelay).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Msg("reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ReconnectDelay):
		}
	}
}

func (c *Client) connectAndStartOnce(ctx context.Context) (err error) {
	js := status.New()
	js.SetActivity("Connecting to " + c.Address)
	c.joinStatus.Store(js)

	// reset all modules
	for _, m := range c.modules {
		m.Reset()
	}

	conn, err := transport.Dial(ctx, c.Address)
	if err != nil {
		js.Fail(err)
		c.mu.Lock()
		c.shouldReconnect = true
		c.mu.Unlock()
		return fmt.Errorf("connect failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.Logger.Info().Str("addr", conn.RemoteAddr()).Msg("connected")

	defer func() {
		conn.Close()
		for _, m := range c.modules {
			if dh, ok := m.(DisconnectHandler); ok {
				dh.OnDisconnect(err)
			}
		}
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if cerr := c.scratch.Cleanup(); cerr != nil {
			c.Logger.Warn().Err(cerr).Msg("failed to remove scratch files")
		}
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// notify modules of connection
	for _, m := range c.modules {
		if ch, ok := m.(ConnectHandler); ok {
			ch.OnConnect()
		}
	}

	// message loop
	for {
		msg, err := conn.Read()
		if err != nil {
			return c.readError(ctx, js, err)
		}
		for _, m := range c.modules {
			m.HandleMessage(msg)
		}
		for _, h := range c.handlers {
			h(c, msg)
		}
	}
}

// readError decides what the end of the read loop means for the attempt.
func (c *Client) readError(ctx context.Context, js *status.JoinStatus, err error) error {
	c.mu.Lock()
	forced := c.forced
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case forced:
		return nil
	case js.Status() == status.Failed:
		c.mu.Lock()
		c.shouldReconnect = true
		c.mu.Unlock()
		return fmt.Errorf("join failed: %w", js.Err())
	case js.Status() == status.Complete && errors.Is(err, io.EOF):
		c.Logger.Info().Msg("server closed the session")
		return nil
	default:
		c.mu.Lock()
		c.shouldReconnect = true
		c.mu.Unlock()
		return fmt.Errorf("read message: %w", err)
	}
}
