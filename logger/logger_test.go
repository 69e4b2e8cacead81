package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "spot2yoto.log")

	l, err := New(Config{Level: InfoLevel, OutputPath: path})
	require.NoError(t, err)

	l.Info("[TestNew] hello", String("card_id", "c1"))
	l.Debug("[TestNew] filtered")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[TestNew] hello"`)
	assert.Contains(t, string(data), `"card_id":"c1"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want zapcore.Level
	}{
		{DebugLevel, zapcore.DebugLevel},
		{InfoLevel, zapcore.InfoLevel},
		{WarnLevel, zapcore.WarnLevel},
		{ErrorLevel, zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestPackageFuncsWithoutInit(t *testing.T) {
	// 未初始化时不应 panic
	Info("noop")
	Warn("noop")
	Error("noop")
	Sync()
}
