package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel_RecognizedLevels(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
}

func TestParseLevel_DefaultsToInfo(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestLogPath_DefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("LOG_PATH", "")
	assert.Equal(t, DefaultLogPath, logPath())
}

func TestLogPath_UsesEnvVar(t *testing.T) {
	t.Setenv("LOG_PATH", "/var/log/registrywarden.log")
	assert.Equal(t, "/var/log/registrywarden.log", logPath())
}

func TestNew_ReturnsUsableLogger(t *testing.T) {
	t.Setenv("LOG_PATH", t.TempDir()+"/test.log")
	log := New()
	assert.NotNil(t, log)
	log.Info("logger constructed successfully")
}
