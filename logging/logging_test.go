package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ftpshell/config"
	"ftpshell/protocol"
)

func TestNew_WritesJSONLines(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "ftpshell.log")
	logger, closeFn, err := New(config.LogConfig{File: file, Level: "info", MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("job finished", zap.Int("id", 7))
	closeFn()

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "job finished", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.EqualValues(t, 7, lines[0]["id"])
}

func TestNew_EmptyFileDisables(t *testing.T) {
	logger, closeFn, err := New(config.LogConfig{})
	require.NoError(t, err)
	defer closeFn()
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	assert.Error(t, err)
}

func TestObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obs := NewObserver(zap.New(core), "job-3")

	obs.CommandSent("RETR file.bin")
	obs.ResponseReceived(&protocol.Response{Code: 150, Text: "150 Opening"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "command", entries[0].Message)
	assert.Equal(t, "RETR file.bin", entries[0].ContextMap()["line"])
	assert.Equal(t, "job-3", entries[0].ContextMap()["channel"])
	assert.Equal(t, "reply", entries[1].Message)
	assert.EqualValues(t, 150, entries[1].ContextMap()["code"])
}
