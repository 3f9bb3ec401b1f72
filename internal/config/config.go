package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Sentinel is the root configuration of the auth engine. Every section has
// usable defaults, so an empty file plus the bootstrap secret environment
// variables is a valid setup.
type Sentinel struct {
	Server         Server                `yaml:"server"`          // HTTP listener and admin surface.
	Security       Security              `yaml:"security"`        // Lockout, DDoS and threat thresholds.
	Sessions       Sessions              `yaml:"sessions"`        // Session timeouts.
	Hashing        Hashing               `yaml:"hashing"`         // PBKDF2 parameters and worker count.
	Accounts       []Account             `yaml:"accounts"`        // Bootstrap accounts; defaults to admin, boss and staff.
	AccountsPolicy AccountsPolicy        `yaml:"accounts_policy"` // Strength policy for bootstrap secrets.
	Roles          map[string]RolePolicy `yaml:"roles"`           // Per-role session policy of derived employees.
	Directory      Directory             `yaml:"directory"`       // Employee registry source.
	Bypass         Bypass                `yaml:"bypass"`          // Privileged bypass with a TOTP second factor.
	Storage        Storage               `yaml:"storage"`         // Durable storage and attempt backend.
	Alerting       Alerting              `yaml:"alerting"`        // SMTP alerts for severe events.
	Middleware     []Middleware          `yaml:"middleware"`      // Global HTTP middleware.
	Health         Health                `yaml:"health"`          // Dependency checks behind /healthz.
}

// Security holds the abuse detection thresholds.
type Security struct {
	MaxLoginAttempts     int           `yaml:"max_login_attempts"`     // Failures per ip+username before the IP and devices are blocked.
	AttemptTTL           time.Duration `yaml:"attempt_ttl"`            // Idle time after which an attempt record is pruned.
	DDoSThreshold        int           `yaml:"ddos_threshold"`         // Requests per IP within DDoSWindow.
	DDoSWindow           time.Duration `yaml:"ddos_window"`            // Window of the DDoS counter.
	SuspiciousThreshold  int           `yaml:"suspicious_threshold"`   // Suspicious reports per IP before it is blocked.
	ThreatLevelThreshold int           `yaml:"threat_level_threshold"` // Recent suspicious activities that raise the threat warning.
	Honeypots            []string      `yaml:"honeypots"`              // Decoy paths; empty uses the built-in list.
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`   // Period of the maintenance routine.
	ActivityRetention    time.Duration `yaml:"activity_retention"`     // Age after which suspicious activity is forgotten.
	EventRetention       time.Duration `yaml:"event_retention"`        // Age after which stored security events are pruned; zero keeps them.
	MaxPadding           int           `yaml:"max_padding"`            // Upper bound of random response padding in bytes.
	PaddingBucket        int           `yaml:"padding_bucket"`         // Size class every response body is filled to before the random padding.
}

// Sessions holds session timeouts. RoleTimeouts keys are role names.
type Sessions struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	RoleTimeouts   map[string]time.Duration `yaml:"role_timeouts"`
	PersistentTTL  time.Duration            `yaml:"persistent_ttl"`
}

// Hashing holds the PBKDF2 parameters. Workers bounds concurrent derivations.
type Hashing struct {
	Iterations int `yaml:"iterations"`
	KeyLength  int `yaml:"key_length"`
	SaltLength int `yaml:"salt_length"`
	Workers    int `yaml:"workers"`
}

// Account is a bootstrap account. The secret is never stored in the file,
// it is read from the environment variable named by PasswordEnv.
type Account struct {
	Username    string `yaml:"username"`
	Role        string `yaml:"role"`
	PasswordEnv string `yaml:"password_env"`
}

type AccountsPolicy struct {
	Enforce   bool `yaml:"enforce"`    // Reject weak bootstrap secrets instead of warning.
	MinLength int  `yaml:"min_length"` // Overrides the default minimum length when set.
}

type RolePolicy struct {
	Persistent    bool `yaml:"persistent"`
	AllowLogout   bool `yaml:"allow_logout"`
	SecurityLevel int  `yaml:"security_level"`
}

type Directory struct {
	RegistryFile    string        `yaml:"registry_file"`      // YAML employee registry; empty derives employees from accounts.
	Watch           bool          `yaml:"watch"`              // Reload the registry file on change.
	WatchDebounce   time.Duration `yaml:"watch_debounce"`     // Quiet period before a reload.
	TrustOnFirstUse bool          `yaml:"trust_on_first_use"` // Register the first device of an employee with none.
	HistoryLimit    int           `yaml:"history_limit"`      // Login history entries kept per employee.
}

// Bypass configures the privileged bypass. TOTPSecretEnvs maps a username
// to the environment variable holding its base32 TOTP secret.
type Bypass struct {
	Enabled        bool              `yaml:"enabled"`
	Roles          []string          `yaml:"roles"`
	TOTPSecretEnvs map[string]string `yaml:"totp_secret_envs"`
}

type Storage struct {
	SQLitePath      string `yaml:"sqlite_path"`      // Database for blocks, events and persistent sessions; empty keeps them in memory.
	AttemptsBackend string `yaml:"attempts_backend"` // "memory" or "redis".
	RedisURL        string `yaml:"redis_url"`        // Overridden by SENTINEL_REDIS_URL.
}

// Alerting holds SMTP settings for alert emails.
type Alerting struct {
	Enabled     bool     `yaml:"enabled"`
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	FromEmail   string   `yaml:"from_email"`
	FromPass    string   `yaml:"from_password"`
	ToEmails    []string `yaml:"to_emails"`
	MinSeverity string   `yaml:"min_severity"` // Lowest severity that is mailed.
	PerHour     int      `yaml:"per_hour"`     // Mail budget per hour.
}

// Health configures the dependency checks. A dependency flips state only
// after the given number of consecutive results.
type Health struct {
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	Thresholds Thresholds    `yaml:"thresholds"`
}

type Thresholds struct {
	Healthy   int `yaml:"healthy"`
	Unhealthy int `yaml:"unhealthy"`
}

// Middleware defines the configuration for the global middleware. Each
// entry enables one kind.
type Middleware struct {
	RateLimit       *RateLimit       `yaml:"rate_limit"`       // Global rate limiting.
	SecurityHeaders *SecurityHeaders `yaml:"security_headers"` // Security response headers.
	CORS            *CORS            `yaml:"cors"`             // Cross-Origin Resource Sharing.
}

// RateLimit is a global token bucket in front of every route.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SecurityHeaders holds configuration settings for security-related HTTP headers.
type SecurityHeaders struct {
	HSTS                  bool   `yaml:"hsts"`                    // Enables HTTP Strict Transport Security (HSTS).
	HSTSMaxAge            int    `yaml:"hsts_max_age"`            // Duration (in seconds) for the HSTS policy.
	HSTSIncludeSubDomains bool   `yaml:"hsts_include_subdomains"` // Applies HSTS policy to all subdomains if true.
	HSTSPreload           bool   `yaml:"hsts_preload"`            // Includes the site in browsers' HSTS preload lists if true.
	FrameOptions          string `yaml:"frame_options"`           // Value for the X-Frame-Options header.
	XSSProtection         bool   `yaml:"xss_protection"`          // Sends X-XSS-Protection.
}

// CORS defines the configuration for Cross-Origin Resource Sharing.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"` // Seconds a preflight result may be cached.
}

// DefaultAccounts are used when the file lists none.
var DefaultAccounts = []Account{
	{Username: "admin", Role: "admin", PasswordEnv: "ADMIN_PASSWORD"},
	{Username: "boss", Role: "boss", PasswordEnv: "BOSS_PASSWORD"},
	{Username: "staff", Role: "staff", PasswordEnv: "STAFF_PASSWORD"},
}

// DefaultRoleTimeouts are the sliding timeouts of regular sessions.
var DefaultRoleTimeouts = map[string]time.Duration{
	"admin": time.Hour,
	"boss":  2 * time.Hour,
	"staff": 30 * time.Minute,
}

const (
	RedisURLEnv = "SENTINEL_REDIS_URL"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Load reads and strictly decodes the file at path, then applies
// environment overrides. Call Validate before use.
func Load(path string) (*Sentinel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Sentinel
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, err
	}
	config.applyEnv()
	return &config, nil
}

// Default returns an empty configuration with environment overrides
// applied, for running without a config file.
func Default() *Sentinel {
	cfg := &Sentinel{}
	cfg.applyEnv()
	return cfg
}

func (cfg *Sentinel) applyEnv() {
	if url := os.Getenv(RedisURLEnv); url != "" {
		cfg.Storage.RedisURL = url
	}
}

// Validate applies defaults, logging a warning for each one, and rejects
// values that cannot work.
func (cfg *Sentinel) Validate(logger *zap.Logger) error {
	if cfg.Server.Port == 0 {
		logger.Warn("server.port not defined. Applying default.", zap.Int("port", 8080))
		cfg.Server.Port = 8080
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}

	sec := &cfg.Security
	if sec.MaxLoginAttempts == 0 {
		logger.Warn("security.max_login_attempts not defined. Applying default.", zap.Int("max_login_attempts", 4))
		sec.MaxLoginAttempts = 4
	}
	if sec.MaxLoginAttempts < 1 {
		return fmt.Errorf("security.max_login_attempts must be positive")
	}
	defaultDuration(logger, "security.attempt_ttl", &sec.AttemptTTL, time.Hour)
	defaultDuration(logger, "security.ddos_window", &sec.DDoSWindow, time.Minute)
	defaultDuration(logger, "security.maintenance_interval", &sec.MaintenanceInterval, 2*time.Minute)
	defaultDuration(logger, "security.activity_retention", &sec.ActivityRetention, 24*time.Hour)
	if sec.DDoSThreshold == 0 {
		sec.DDoSThreshold = 50
	}
	if sec.SuspiciousThreshold == 0 {
		sec.SuspiciousThreshold = 3
	}
	if sec.ThreatLevelThreshold == 0 {
		sec.ThreatLevelThreshold = 20
	}
	if sec.MaxPadding == 0 {
		sec.MaxPadding = 256
	}
	if sec.PaddingBucket == 0 {
		sec.PaddingBucket = 1024
	}
	if sec.DDoSThreshold < 0 || sec.SuspiciousThreshold < 0 || sec.MaxPadding < 0 || sec.PaddingBucket < 0 {
		return fmt.Errorf("security thresholds must be positive")
	}
	if sec.EventRetention < 0 {
		return fmt.Errorf("security.event_retention must not be negative")
	}

	defaultDuration(logger, "sessions.default_timeout", &cfg.Sessions.DefaultTimeout, 15*time.Minute)
	if cfg.Sessions.RoleTimeouts == nil {
		cfg.Sessions.RoleTimeouts = make(map[string]time.Duration, len(DefaultRoleTimeouts))
	}
	for role, d := range DefaultRoleTimeouts {
		if _, ok := cfg.Sessions.RoleTimeouts[role]; !ok {
			cfg.Sessions.RoleTimeouts[role] = d
		}
	}
	for role, d := range cfg.Sessions.RoleTimeouts {
		if !validRole(role) {
			return fmt.Errorf("sessions.role_timeouts: unknown role %q", role)
		}
		if d <= 0 {
			return fmt.Errorf("sessions.role_timeouts.%s must be positive", role)
		}
	}
	defaultDuration(logger, "sessions.persistent_ttl", &cfg.Sessions.PersistentTTL, 30*24*time.Hour)

	h := &cfg.Hashing
	if h.Iterations == 0 {
		h.Iterations = 50000
	}
	if h.KeyLength == 0 {
		h.KeyLength = 128
	}
	if h.SaltLength == 0 {
		h.SaltLength = 64
	}
	if h.Iterations < 10000 {
		return fmt.Errorf("hashing.iterations must be at least 10000, got %d", h.Iterations)
	}
	if h.KeyLength < 128 || h.SaltLength < 32 {
		return fmt.Errorf("hashing.key_length must be >= 128 and salt_length >= 32")
	}

	if len(cfg.Accounts) == 0 {
		logger.Warn("accounts not defined. Applying default admin, boss and staff accounts.")
		cfg.Accounts = append([]Account(nil), DefaultAccounts...)
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.Username == "" {
			return fmt.Errorf("accounts[%d]: username is required", i)
		}
		if !validRole(acc.Role) {
			return fmt.Errorf("accounts[%d]: unknown role %q", i, acc.Role)
		}
		key := strings.ToLower(acc.Username)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("accounts[%d]: duplicate username %q", i, acc.Username)
		}
		seen[key] = struct{}{}
		if acc.PasswordEnv == "" {
			acc.PasswordEnv = strings.ToUpper(acc.Username) + "_PASSWORD"
		}
	}

	for role := range cfg.Roles {
		if !validRole(role) {
			return fmt.Errorf("roles: unknown role %q", role)
		}
	}

	if cfg.Directory.Watch && cfg.Directory.RegistryFile == "" {
		return fmt.Errorf("directory.watch requires directory.registry_file")
	}
	if cfg.Directory.WatchDebounce == 0 {
		cfg.Directory.WatchDebounce = 500 * time.Millisecond
	}

	if cfg.Bypass.Enabled {
		logger.Warn("Privileged bypass is enabled", zap.Strings("roles", cfg.Bypass.Roles))
		if len(cfg.Bypass.Roles) == 0 {
			return fmt.Errorf("bypass.roles is required when bypass is enabled")
		}
		for _, role := range cfg.Bypass.Roles {
			if !validRole(role) {
				return fmt.Errorf("bypass.roles: unknown role %q", role)
			}
		}
	}

	switch cfg.Storage.AttemptsBackend {
	case "":
		cfg.Storage.AttemptsBackend = BackendMemory
	case BackendMemory:
	case BackendRedis:
		if cfg.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url or %s is required for the redis backend", RedisURLEnv)
		}
	default:
		return fmt.Errorf("invalid storage.attempts_backend: %s", cfg.Storage.AttemptsBackend)
	}
	if cfg.Storage.SQLitePath == "" {
		logger.Warn("storage.sqlite_path not defined. Blocks, events and persistent sessions are kept in memory only.")
	}

	if cfg.Alerting.Enabled {
		if cfg.Alerting.SMTPHost == "" || len(cfg.Alerting.ToEmails) == 0 {
			return fmt.Errorf("alerting requires smtp_host and to_emails")
		}
		if cfg.Alerting.SMTPPort == 0 {
			cfg.Alerting.SMTPPort = 587
		}
		if cfg.Alerting.MinSeverity == "" {
			cfg.Alerting.MinSeverity = "HIGH"
		}
		if cfg.Alerting.PerHour == 0 {
			cfg.Alerting.PerHour = 30
		}
	}

	defaultDuration(logger, "health.interval", &cfg.Health.Interval, 10*time.Second)
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = min(2*time.Second, cfg.Health.Interval/2)
	}
	if cfg.Health.Timeout >= cfg.Health.Interval {
		return fmt.Errorf("health.timeout must be shorter than health.interval")
	}
	if cfg.Health.Thresholds.Healthy == 0 {
		cfg.Health.Thresholds.Healthy = 1
	}
	if cfg.Health.Thresholds.Unhealthy == 0 {
		cfg.Health.Thresholds.Unhealthy = 3
	}
	if cfg.Health.Thresholds.Healthy < 0 || cfg.Health.Thresholds.Unhealthy < 0 {
		return fmt.Errorf("health thresholds must be positive")
	}

	return nil
}

// Secret returns the bootstrap secret of acc from the environment.
func (acc Account) Secret() (string, error) {
	secret := os.Getenv(acc.PasswordEnv)
	if secret == "" {
		return "", fmt.Errorf("account %s: environment variable %s is not set", acc.Username, acc.PasswordEnv)
	}
	return secret, nil
}

// BypassSecrets resolves the TOTP secret of every configured bypass user.
// Users whose variable is unset are skipped and cannot use the bypass.
func (cfg *Sentinel) BypassSecrets(logger *zap.Logger) map[string]string {
	secrets := make(map[string]string, len(cfg.Bypass.TOTPSecretEnvs))
	for user, env := range cfg.Bypass.TOTPSecretEnvs {
		secret := os.Getenv(env)
		if secret == "" {
			logger.Warn("TOTP secret not set, bypass unavailable for user",
				zap.String("username", user), zap.String("env", env))
			continue
		}
		secrets[user] = secret
	}
	return secrets
}

func defaultDuration(logger *zap.Logger, name string, d *time.Duration, def time.Duration) {
	if *d == 0 {
		logger.Warn(name+" not defined. Applying default.", zap.Duration("default", def))
		*d = def
	}
}

func validRole(role string) bool {
	switch role {
	case "admin", "boss", "staff":
		return true
	}
	return false
}
