package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  trust_proxy_headers: true
security:
  max_login_attempts: 5
  ddos_window: 30s
sessions:
  role_timeouts:
    admin: 45m
storage:
  sqlite_path: /tmp/sentinel.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	require.NoError(t, cfg.Validate(zap.New(core)))

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.TrustProxyHeaders)
	assert.Equal(t, 5, cfg.Security.MaxLoginAttempts)
	assert.Equal(t, 30*time.Second, cfg.Security.DDoSWindow)
	assert.Equal(t, time.Hour, cfg.Security.AttemptTTL)
	assert.Equal(t, 2*time.Minute, cfg.Security.MaintenanceInterval)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.RoleTimeouts["admin"])
	assert.Equal(t, 2*time.Hour, cfg.Sessions.RoleTimeouts["boss"])
	assert.Equal(t, 50000, cfg.Hashing.Iterations)
	assert.Equal(t, BackendMemory, cfg.Storage.AttemptsBackend)
	assert.Equal(t, DefaultAccounts, cfg.Accounts)
	assert.Equal(t, 50, cfg.Security.DDoSThreshold)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 2*time.Second, cfg.Health.Timeout)
	assert.Equal(t, Thresholds{Healthy: 1, Unhealthy: 3}, cfg.Health.Thresholds)

	assert.NotZero(t, logs.FilterMessageSnippet("accounts not defined").Len())
	assert.NotZero(t, logs.FilterMessageSnippet("security.attempt_ttl").Len())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "security:\n  max_login_atempts: 3\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(*Sentinel){
		"bad role":          func(c *Sentinel) { c.Accounts = []Account{{Username: "x", Role: "root"}} },
		"duplicate user":    func(c *Sentinel) { c.Accounts = []Account{{Username: "a", Role: "admin"}, {Username: "A", Role: "staff"}} },
		"weak iterations":   func(c *Sentinel) { c.Hashing.Iterations = 100 },
		"redis without url": func(c *Sentinel) { c.Storage.AttemptsBackend = BackendRedis },
		"unknown backend":   func(c *Sentinel) { c.Storage.AttemptsBackend = "etcd" },
		"watch no file":     func(c *Sentinel) { c.Directory.Watch = true },
		"bypass no roles":   func(c *Sentinel) { c.Bypass.Enabled = true },
		"alerting no host":  func(c *Sentinel) { c.Alerting.Enabled = true },
		"bad timeout role":  func(c *Sentinel) { c.Sessions.RoleTimeouts = map[string]time.Duration{"guest": time.Minute} },
		"slow health check": func(c *Sentinel) { c.Health = Health{Interval: time.Second, Timeout: time.Second} },
		"short hash key":    func(c *Sentinel) { c.Hashing.KeyLength = 64 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Sentinel{}
			mutate(cfg)
			assert.Error(t, cfg.Validate(zap.NewNop()))
		})
	}
}

func TestPasswordEnvDefaultAndSecret(t *testing.T) {
	cfg := &Sentinel{Accounts: []Account{{Username: "ops", Role: "admin"}}}
	require.NoError(t, cfg.Validate(zap.NewNop()))
	assert.Equal(t, "OPS_PASSWORD", cfg.Accounts[0].PasswordEnv)

	t.Setenv("OPS_PASSWORD", "")
	_, err := cfg.Accounts[0].Secret()
	assert.Error(t, err)

	t.Setenv("OPS_PASSWORD", "s3cret")
	secret, err := cfg.Accounts[0].Secret()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(RedisURLEnv, "redis://localhost:6379/2")
	t.Setenv("BOSS_TOTP", "JBSWY3DPEHPK3PXP")

	path := writeConfig(t, `
storage:
  attempts_backend: redis
bypass:
  enabled: true
  roles: [boss]
  totp_secret_envs:
    boss: BOSS_TOTP
    admin: ADMIN_TOTP_UNSET
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(zap.NewNop()))
	assert.Equal(t, "redis://localhost:6379/2", cfg.Storage.RedisURL)

	secrets := cfg.BypassSecrets(zap.NewNop())
	assert.Equal(t, map[string]string{"boss": "JBSWY3DPEHPK3PXP"}, secrets)
}

func TestServerTimeouts(t *testing.T) {
	read, write, idle := Server{WriteTimeout: time.Second}.Timeouts()
	assert.Equal(t, 15*time.Second, read)
	assert.Equal(t, time.Second, write)
	assert.Equal(t, time.Minute, idle)
}
