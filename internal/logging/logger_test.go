package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	logger := Component("parser")
	logger.Info().Str("owner", "alice").Msg("ingest started")

	out := buf.String()
	require.Contains(t, out, `"component":"parser"`)
	require.Contains(t, out, `"owner":"alice"`)
	require.Contains(t, out, `"message":"ingest started"`)
}

func TestLevelFiltersEvents(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Msg("hidden")
	Warn().Msg("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, parseLevel(""))
	require.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	require.Equal(t, zerolog.Disabled, parseLevel("off"))
}
