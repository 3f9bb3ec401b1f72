package logger

// DefaultSensitiveFields are masked in every logger, whatever the config
// adds on top.
var DefaultSensitiveFields = []string{
	"password",
	"secret",
	"token",
	"session_token",
	"access_token",
	"totp_secret",
	"second_factor",
	"authorization",
}

// DefaultTruncatedFields keep only a prefix of their value, enough to
// correlate entries without logging the full identifier.
var DefaultTruncatedFields = map[string]int{
	"device_fingerprint": 16,
}

// DefaultConfig is used for any logger not named in a log config file.
var DefaultConfig = Config{
	Level:        "info",
	OutputPaths:  []string{"stdout"},
	LogToConsole: true,
	Encoding: Encoding{
		TimeKey:         "time",
		LevelKey:        "level",
		NameKey:         "logger",
		CallerKey:       "caller",
		MessageKey:      "msg",
		StacktraceKey:   "stacktrace",
		LineEnding:      "\n",
		LevelEncoder:    "lowercase",
		TimeEncoder:     "iso8601",
		DurationEncoder: "string",
		CallerEncoder:   "short",
	},
	LogRotation: LogRotation{
		Enabled:    true,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	},
	Sanitization: Sanitization{
		Mask: "****",
	},
}

func assignDefaultValues(cfg *Config) {
	if cfg.Level == "" {
		cfg.Level = DefaultConfig.Level
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = DefaultConfig.OutputPaths
	}
	if cfg.Encoding.TimeKey == "" {
		cfg.Encoding = DefaultConfig.Encoding
	}
	if cfg.LogRotation.MaxSizeMB == 0 {
		cfg.LogRotation.MaxSizeMB = DefaultConfig.LogRotation.MaxSizeMB
	}
	if cfg.LogRotation.MaxBackups == 0 {
		cfg.LogRotation.MaxBackups = DefaultConfig.LogRotation.MaxBackups
	}
	if cfg.LogRotation.MaxAgeDays == 0 {
		cfg.LogRotation.MaxAgeDays = DefaultConfig.LogRotation.MaxAgeDays
	}
	if cfg.Sanitization.Mask == "" {
		cfg.Sanitization.Mask = DefaultConfig.Sanitization.Mask
	}
}
