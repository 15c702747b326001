package config

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggingTo(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetupLoggingTo(&buf, "WARN")
	log.Info().Msg("dropped")
	log.Warn().Str("banner", "B1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "B1", line["banner"])
	assert.Equal(t, "notice-engine", line["service"])

	SetupLoggingTo(&buf, "chatty")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
