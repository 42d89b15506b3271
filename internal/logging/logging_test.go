package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/gui"
)

type recordingSink struct {
	mu   sync.Mutex
	sigs []gui.Signal
}

func (r *recordingSink) Publish(s gui.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, s)
}

func TestGUICore_ForwardsByLevel(t *testing.T) {
	sink := &recordingSink{}
	var console bytes.Buffer
	log, closeFn, err := New(Options{Level: "debug", Sink: sink, Console: &console})
	require.NoError(t, err)
	defer closeFn()

	named := log.Named("chain").With(zap.String("program", "0x11"))
	named.Debug("not forwarded")
	named.Info("connected", zap.Int("attempt", 1))
	named.Warn("slow")
	named.Error("failed")

	require.Len(t, sink.sigs, 3)
	assert.Equal(t, gui.SignalLog, sink.sigs[0].Name)
	assert.Equal(t, gui.SignalWarn, sink.sigs[1].Name)
	assert.Equal(t, gui.SignalError, sink.sigs[2].Name)

	line := sink.sigs[0].Payload.(LogLine)
	assert.Equal(t, "connected", line.Message)
	assert.Equal(t, "chain", line.Logger)
	assert.Equal(t, map[string]any{"program": "0x11", "attempt": int64(1)}, line.Fields)

	assert.Contains(t, console.String(), "not forwarded")
}

func TestNew_LevelFiltersConsole(t *testing.T) {
	var console bytes.Buffer
	log, closeFn, err := New(Options{Level: "warn", Console: &console, JSON: true})
	require.NoError(t, err)
	defer closeFn()

	log.Info("quiet")
	log.Warn("loud")
	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), `"msg":"loud"`)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.log")
	log, closeFn, err := New(Options{Level: "info", File: path, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	log.Info("to file")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "to file")
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}
