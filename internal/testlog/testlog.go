// Package testlog routes component logs into the test output.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

func New(t testing.TB) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.ConsoleWriter{Out: zerolog.NewTestWriter(t), NoColor: true}).
		Level(zerolog.DebugLevel).
		With().Str("test", t.Name()).Logger()
}
