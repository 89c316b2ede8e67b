package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCarriesKindAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "pipeline"))

	log.Event(LevelInfo, "notification_sent", String("app", "com.a"), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "notification_sent", rec["event"])
	assert.Equal(t, "notification_sent", rec["message"])
	assert.Equal(t, "com.a", rec["app"])
	assert.Equal(t, "pipeline", rec["comp"])
	assert.Equal(t, "boom", rec["err"])
	assert.Equal(t, "info", rec["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	assert.Zero(t, buf.Len())
	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
	assert.True(t, log.Enabled(LevelError))
	assert.False(t, log.Enabled(LevelDebug))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	svc, log := New(Config{Level: "info", Format: "json", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Event(LevelInfo, "run_start", String("run_id", "r1"))
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"run_start"`)
	assert.Contains(t, string(data), `"run_id":"r1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
