package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backmassage/sessionmux/internal/config"
)

func TestNewLogger_NoFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ColorMode = config.ColorNever
	cfg.LogFile = ""
	l, err := NewLogger(&cfg)
	require.NoError(t, err)
	defer l.Close()
	l.Info("test message")
}

func TestNewLogger_WithFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ColorMode = config.ColorNever
	cfg.LogFile = filepath.Join(dir, "logs", "sessionmux.log")
	l, err := NewLogger(&cfg)
	require.NoError(t, err)
	l.Info("to file")
	l.Debug(false, "hidden")
	require.NoError(t, l.Close())

	b, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[INFO] to file")
	assert.NotContains(t, string(b), "hidden", "debug line written while not verbose")
}

func TestWriterLogger_Tail(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, true)

	stderr := "line1\nline2\n\nline3\nline4\n"
	l.Tail("ffmpeg", stderr, 2)

	out := buf.String()
	assert.NotContains(t, out, "line2", "Tail should only keep the last 2 lines")
	assert.Contains(t, out, "ffmpeg: line3")
	assert.Contains(t, out, "ffmpeg: line4")
	assert.True(t, l.Verbose())
}
