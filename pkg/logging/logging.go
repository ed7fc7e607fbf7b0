// Package logging builds the zerolog logger used throughout the client.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "JOINCLIENT_LOG_LEVEL"
	EnvLogNoColor = "JOINCLIENT_LOG_NOCOLOR"
)

// New returns a console logger writing to w (os.Stdout when nil) tagged
// with app. Level and color come from the environment.
func New(app string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
	if _, isFile := w.(*os.File); !isFile {
		noColor = true
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level = zerolog.InfoLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}

// WithVerbose lowers the level to debug when verbose is set and no
// explicit level was requested through the environment.
func WithVerbose(l zerolog.Logger, verbose bool) zerolog.Logger {
	if _, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok || !verbose {
		return l
	}
	return l.Level(zerolog.DebugLevel)
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
