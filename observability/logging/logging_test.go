package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "lendingd", "test", slog.LevelInfo, false)
	logger.Debug("hidden")
	logger.Info("asset listed", "asset", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "asset listed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 1, line["asset"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestRotatingFileWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendingd.log")
	w := RotatingFile(path, 1, 1)
	logger := New(w, "lendingd", "", slog.LevelInfo, false)
	logger.Info("hello")
	require.NoError(t, w.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"message":"hello"`)
}

func TestMaskValue(t *testing.T) {
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.Equal(t, "", MaskValue(""))
}
