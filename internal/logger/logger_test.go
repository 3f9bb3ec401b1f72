package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizerMasksAndTruncates(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	core := NewSanitizerCore(obs, DefaultSensitiveFields, DefaultTruncatedFields, "****")
	logger := zap.New(core).With(zap.String("Session_Token", "abcdef"))

	logger.Info("login",
		zap.String("password", "hunter2"),
		zap.String("totp_secret", "JBSWY3DP"),
		zap.String("device_fingerprint", "0123456789abcdef0123456789"),
		zap.String("username", "boss"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "****", fields["Session_Token"])
	assert.Equal(t, "****", fields["password"])
	assert.Equal(t, "****", fields["totp_secret"])
	assert.Equal(t, "0123456789abcdef...", fields["device_fingerprint"])
	assert.Equal(t, "boss", fields["username"])
}

func TestSanitizerLeavesShortFingerprint(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	zap.New(NewSanitizerCore(obs, nil, DefaultTruncatedFields, "*")).Info("x", zap.String("device_fingerprint", "short"))
	assert.Equal(t, "short", logs.All()[0].ContextMap()["device_fingerprint"])
}

func TestAsyncCoreKeepsContextFields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	async := NewAsyncCore(obs, 16, 4, 0)
	logger := zap.New(async).With(zap.String("component", "engine"))

	logger.Info("first")
	logger.Info("second", zap.Int("n", 2))
	require.NoError(t, async.Close())
	require.NoError(t, async.Close())

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "engine", logs.All()[0].ContextMap()["component"])
	assert.Equal(t, int64(2), logs.All()[1].ContextMap()["n"])
}

func TestAsyncCoreCloseWritesPendingOnce(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	async := NewAsyncCore(obs, 128, 64, time.Hour)
	logger := zap.New(async)

	for i := 0; i < 10; i++ {
		logger.Info("queued", zap.Int("i", i))
	}
	require.NoError(t, async.Close())

	require.Equal(t, 10, logs.Len())
	seen := make(map[int64]struct{})
	for _, entry := range logs.All() {
		seen[entry.ContextMap()["i"].(int64)] = struct{}{}
	}
	assert.Len(t, seen, 10)
}

func TestZapWriterDemotesNoise(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	std := NewStdLogger(zap.New(obs), zapcore.ErrorLevel)

	std.Print("http: TLS handshake error from 192.0.2.1:1234: EOF")
	std.Print("http: Accept error: too many open files")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestManagerLoadsConfigAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	cfgPath := filepath.Join(dir, "log.config.json")

	file := configFile{Loggers: map[string]Config{
		"audit": {Level: "info", OutputPaths: []string{logPath}},
	}}
	data, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o600))

	lm, err := NewLoggerManager([]string{cfgPath, filepath.Join(dir, "missing.json")})
	require.NoError(t, err)

	audit, err := lm.GetLogger("audit")
	require.NoError(t, err)
	audit.Info("event recorded", zap.String("token", "abc123"), zap.String("username", "boss"))

	_, err = lm.GetLogger(DefaultName)
	assert.NoError(t, err)
	assert.NotNil(t, lm.Named("engine"))
	assert.Error(t, lm.AddLogger("audit", zap.NewNop()))

	require.NoError(t, lm.Sync())

	written, err := os.ReadFile(logPath)
	require.NoError(t, err)
	line := string(written)
	assert.True(t, strings.Contains(line, `"username":"boss"`), line)
	assert.NotContains(t, line, "abc123")
}
