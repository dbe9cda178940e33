package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(core))

	log.WithComponent("pipeline").WithDocument("hr/a.txt", "t-1").Info("committed")
	log.WithCycle(3).WithRequestID("r-9").Debug("cycle")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{
		"component":  "pipeline",
		"source_key": "hr/a.txt",
		"task_id":    "t-1",
	}, entries[0].ContextMap())
	assert.Equal(t, uint64(3), entries[1].ContextMap()["cycle"])
	assert.Equal(t, "r-9", entries[1].ContextMap()["request_id"])
}

func TestNew(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "logs", "docguard.log")
	log, err := New(Config{Level: "info", Format: "console", File: &FileConfig{Enabled: true, Path: path}})
	require.NoError(t, err)
	log.Info("hello")
	assert.FileExists(t, path)

	assert.NotNil(t, Wrap(nil).Logger)
}
