package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"xdao.co/bbgen/config"
)

func TestNew_LevelAndOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbgen.log")
	log, err := New(config.LoggingConfig{Level: "warn", OutputPaths: []string{path}}, false)
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log.Warn("hello")
	_ = log.Sync()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"msg":"hello"`), string(b))
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "error", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}}, true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
