// Package log builds the process-wide logger every component receives.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger at the given level. An unknown level falls
// back to info with a warning, so a typo in the config never silences the
// server.
func New(level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "talkline").Logger()
	if err != nil {
		logger.Warn().Str("log_level", level).Msg("unknown log level, using info")
	}
	return &logger
}
