package helpers

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-mclib/joinclient/pkg/client"
	"github.com/go-mclib/joinclient/pkg/client/modules/join"
	"github.com/go-mclib/joinclient/pkg/config"
	"github.com/go-mclib/joinclient/pkg/logging"
)

// Flags holds common CLI flags for example programs. Empty values leave
// the config file setting alone.
type Flags struct {
	ConfigPath  string
	Address     string
	Name        string
	Verbose     bool
	Interactive bool

	// MaxReconnectAttempts is nil unless -reconnects was given.
	MaxReconnectAttempts *int
}

// RegisterFlags registers the standard CLI flags on the default flag set.
func RegisterFlags(f *Flags) {
	flag.StringVar(&f.ConfigPath, "c", "joinclient.toml", "config file (defaults apply when missing)")
	flag.StringVar(&f.Address, "s", "", "server address (host:port)")
	flag.StringVar(&f.Name, "u", "", "player name")
	flag.BoolVar(&f.Verbose, "v", false, "verbose logging")
	flag.BoolVar(&f.Interactive, "i", false, "show join progress in a terminal UI")
	flag.Func("reconnects", "max reconnect attempts (-1 = infinite, 0 = none)", func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		f.MaxReconnectAttempts = &n
		return nil
	})
}

// LoadConfig reads the config file named by the flags and applies the
// command line overrides.
func LoadConfig(f Flags) (config.Config, error) {
	cfg, err := config.LoadOrDefault(f.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.Address != "" {
		cfg.Network.Address = f.Address
	}
	if f.Name != "" {
		cfg.Player.Name = f.Name
	}
	if f.MaxReconnectAttempts != nil {
		cfg.Network.MaxReconnectAttempts = *f.MaxReconnectAttempts
	}
	return cfg, cfg.Validate()
}

// NewClient creates a client from parsed flags with the join module
// registered.
func NewClient(f Flags) (*client.Client, error) {
	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, err
	}
	c := client.New(cfg)
	c.Verbose = f.Verbose
	c.Interactive = f.Interactive
	c.Logger = logging.WithVerbose(logging.New("joinclient", nil), f.Verbose)
	c.Register(join.New())
	return c, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Run connects and starts the client until it finishes or the process is
// interrupted, logging errors.
func Run(c *client.Client) error {
	ctx, stop := SignalContext()
	defer stop()
	err := c.ConnectAndStart(ctx)
	if err != nil && ctx.Err() == nil {
		c.Logger.Error().Err(err).Msg("client stopped")
		return err
	}
	return nil
}
