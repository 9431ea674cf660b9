package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Warn("callback delivery failed", "requestId", "0x01")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "callback delivery failed", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "0x01", line["requestId"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestHandlerMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("callback registered",
		"chainId", "30101",
		"relayer_token", "s3cret",
		"apiKey", "k",
		"callbackUrl", "https://game.example/hook?key=abc",
		"attempts", 3,
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "30101", line["chainId"])
	require.Equal(t, RedactedValue, line["relayer_token"])
	require.Equal(t, RedactedValue, line["apiKey"])
	require.Equal(t, "https://game.example/"+RedactedValue, line["callbackUrl"])
	require.EqualValues(t, 3, line["attempts"])
}

func TestMaskURL(t *testing.T) {
	require.Equal(t, "https://game.example", MaskURL("https://game.example"))
	require.Equal(t, RedactedValue, MaskURL("not a url"))
	require.Empty(t, MaskURL("  "))
}
