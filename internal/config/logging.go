package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger: human-readable on stderr.
func SetupLogging(level string) {
	SetupLoggingTo(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// SetupLoggingTo sets the global level and points the global logger at w.
// Unknown levels fall back to info.
func SetupLoggingTo(w io.Writer, level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "notice-engine").Logger()
}
