// Package config loads the client's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Player  Player  `toml:"player"`
	Network Network `toml:"network"`
	Paths   Paths   `toml:"paths"`
}

// Player is what the client announces in its join request.
type Player struct {
	Name         string `toml:"name"`
	ViewDistance int32  `toml:"view_distance"`
	Color        Color  `toml:"color"`
}

type Network struct {
	Address              string   `toml:"address"`
	Timeout              Duration `toml:"timeout"`
	TimeoutMargin        Duration `toml:"timeout_margin"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectDelay       Duration `toml:"reconnect_delay"`
}

type Paths struct {
	// Modules is the install directory for downloaded modules.
	Modules string `toml:"modules"`
	// Scratch holds in-progress downloads; "" means the system temp dir.
	Scratch string `toml:"scratch"`
}

func Default() Config {
	return Config{
		Player: Player{
			Name:         "Player",
			ViewDistance: 2,
			Color:        0xe0a030ff,
		},
		Network: Network{
			Address:        "localhost:25777",
			Timeout:        Duration{10 * time.Second},
			TimeoutMargin:  Duration{200 * time.Millisecond},
			ReconnectDelay: Duration{3 * time.Second},
		},
		Paths: Paths{
			Modules: "modules",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Player.Name) == "" {
		errs = append(errs, errors.New("player.name is required"))
	}
	if c.Player.ViewDistance < 0 {
		errs = append(errs, fmt.Errorf("player.view_distance must be >= 0, got %d", c.Player.ViewDistance))
	}
	if c.Network.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("network.timeout must be positive"))
	}
	if c.Network.TimeoutMargin.Duration < 0 {
		errs = append(errs, errors.New("network.timeout_margin must not be negative"))
	}
	if c.Network.MaxReconnectAttempts < -1 {
		errs = append(errs, errors.New("network.max_reconnect_attempts must be >= -1"))
	}
	if strings.TrimSpace(c.Paths.Modules) == "" {
		errs = append(errs, errors.New("paths.modules is required"))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Color is an RGBA color written as "#rrggbb" or "#rrggbbaa".
type Color uint32

func (c *Color) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "#")
	switch len(s) {
	case 6:
		s += "ff"
	case 8:
	default:
		return fmt.Errorf("invalid color %q", string(text))
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid color %q: %w", string(text), err)
	}
	*c = Color(v)
	return nil
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("#%08x", uint32(c))), nil
}

func (c Color) RGBA() uint32 { return uint32(c) }
