package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rawpress.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Console = false
	cfg.Level = "debug"

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	WithFileOperation(log, "a.png", "compress").Info("done")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "done", line["message"])
	assert.Equal(t, "a.png", line["file"])
	assert.Equal(t, "compress", line["operation"])
	assert.Contains(t, line, "timestamp")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rawpress.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Console = false
	cfg.Text = true

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	WithFile(log, "b.png").Info("converted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Error(t, json.Unmarshal(data, &map[string]interface{}{}))
	assert.Contains(t, string(data), `msg=converted`)
	assert.Contains(t, string(data), `file=b.png`)
}
