package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/audit"
	"github.com/victorgomez09/sentinel/internal/auth/credential"
	"github.com/victorgomez09/sentinel/internal/auth/database"
	"github.com/victorgomez09/sentinel/internal/auth/directory"
	"github.com/victorgomez09/sentinel/internal/auth/handlers"
	"github.com/victorgomez09/sentinel/internal/auth/lockout"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"github.com/victorgomez09/sentinel/internal/auth/session"
	"github.com/victorgomez09/sentinel/internal/auth/validation"
	"github.com/victorgomez09/sentinel/internal/config"
	"github.com/victorgomez09/sentinel/internal/health"
	"github.com/victorgomez09/sentinel/internal/logger"
	"github.com/victorgomez09/sentinel/internal/middleware"
	"github.com/victorgomez09/sentinel/internal/server"
	"github.com/victorgomez09/sentinel/internal/shutdown"
	"github.com/victorgomez09/sentinel/pkg/trace"
	"go.uber.org/zap"
)

// ServerBuilder wires the engine, its stores and the HTTP surface from the
// configuration. Every component it starts is registered on the shutdown
// manager in the phase it must stop in.
type ServerBuilder struct {
	config     *config.Sentinel
	logger     *zap.Logger
	logManager *logger.LoggerManager
	shutdown   *shutdown.Manager
	health     *health.Checker
}

func NewServerBuilder(cfg *config.Sentinel, logger *zap.Logger, logManager *logger.LoggerManager) *ServerBuilder {
	return &ServerBuilder{
		config:     cfg,
		logger:     logger,
		logManager: logManager,
		shutdown:   shutdown.NewManager(logger.Named("shutdown")),
		health:     health.NewChecker(cfg.Health, logManager.Named("health")),
	}
}

// Build starts every component and the listener. On error the returned
// manager still stops whatever was started before the failure.
func (sb *ServerBuilder) Build(ctx context.Context, errChan chan<- error) (*shutdown.Manager, error) {
	cfg := sb.config

	var db *database.SQLiteDB
	if cfg.Storage.SQLitePath != "" {
		var err error
		db, err = database.NewSQLiteDB(cfg.Storage.SQLitePath)
		if err != nil {
			return sb.shutdown, fmt.Errorf("failed to initialize database: %w", err)
		}
		sb.shutdown.RegisterCloser(shutdown.PhaseStorage, "Database", db.Close)
		sb.health.Register("sqlite", db.Ping)
	}

	blocks, persistent, err := sb.buildStores(db)
	if err != nil {
		return sb.shutdown, err
	}

	registry, err := sb.buildRegistry(persistent)
	if err != nil {
		return sb.shutdown, err
	}

	attempts, err := sb.buildAttemptStore(ctx)
	if err != nil {
		return sb.shutdown, err
	}

	hub := audit.NewHub(sb.logManager.Named("events"), originChecker(cfg.Server.EventOrigins))
	sb.shutdown.RegisterCloser(shutdown.PhaseListeners, "Event hub", func() error { hub.Close(); return nil })

	recorder, err := sb.buildRecorder(db, hub)
	if err != nil {
		return sb.shutdown, err
	}
	sb.shutdown.RegisterCloser(shutdown.PhaseStorage, "Event recorder", func() error { recorder.Close(); return nil })
	blocks.SetRecorder(recorder)

	engine, err := sb.buildEngine(db, blocks, persistent, registry, attempts, recorder)
	if err != nil {
		return sb.shutdown, err
	}
	if err := engine.Bootstrap(ctx, sb.accountSeeds()); err != nil {
		return sb.shutdown, fmt.Errorf("failed to bootstrap accounts: %w", err)
	}
	engine.Start()
	sb.shutdown.RegisterCloser(shutdown.PhaseWorkers, "Engine", func() error { engine.Close(); return nil })

	sb.health.Start(ctx)
	sb.shutdown.RegisterCloser(shutdown.PhaseWorkers, "Health checker", func() error { sb.health.Stop(); return nil })

	router := handlers.NewRouter(handlers.RouterConfig{
		Engine:          engine,
		Events:          hub,
		Health:          sb.health,
		TrustProxy:      cfg.Server.TrustProxyHeaders,
		AdminAllowedIPs: cfg.Server.AdminAllowedIPs,
		Logger:          sb.logManager.Named("http"),
	})

	srv := server.NewServer(cfg.Server, sb.buildChain().Then(router), errChan, sb.logger)
	if err := srv.Start(); err != nil {
		return sb.shutdown, err
	}
	sb.shutdown.RegisterShutdown(shutdown.PhaseListeners, "HTTP server", srv.Shutdown)

	sb.logger.Info("Sentinel ready",
		zap.String("listen_on", srv.Addr()),
		zap.Int("accounts", len(cfg.Accounts)),
		zap.String("attempts_backend", cfg.Storage.AttemptsBackend),
		zap.Bool("durable", db != nil),
		zap.Bool("bypass_enabled", cfg.Bypass.Enabled))
	return sb.shutdown, nil
}

// buildStores restores blocks and persistent sessions from db when set.
func (sb *ServerBuilder) buildStores(db *database.SQLiteDB) (*lockout.BlockList, *directory.PersistentStore, error) {
	log := sb.logManager.Named("lockout")
	if db == nil {
		return lockout.NewBlockList(nil, log), directory.NewPersistentStore(nil, sb.logger), nil
	}

	blocks := lockout.NewBlockList(db, log)
	n, err := blocks.Restore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to restore blocks: %w", err)
	}
	sb.logger.Info("Blocks restored", zap.Int("count", n))

	persistent := directory.NewPersistentStore(db, sb.logManager.Named("directory"))
	n, err = persistent.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load persistent sessions: %w", err)
	}
	sb.logger.Info("Persistent sessions loaded", zap.Int("count", n))
	return blocks, persistent, nil
}

func (sb *ServerBuilder) buildRegistry(persistent *directory.PersistentStore) (*directory.Registry, error) {
	cfg := sb.config.Directory
	log := sb.logManager.Named("directory")
	registry := directory.NewRegistry(directory.RegistryConfig{
		TrustOnFirstUse: cfg.TrustOnFirstUse,
		HistoryLimit:    cfg.HistoryLimit,
	}, persistent, log)

	if cfg.RegistryFile == "" {
		accounts := make(map[string]models.Role, len(sb.config.Accounts))
		for _, acc := range sb.config.Accounts {
			accounts[acc.Username] = models.Role(acc.Role)
		}
		if err := registry.Replace(directory.EmployeesFromAccounts(accounts, sb.rolePolicies())); err != nil {
			return nil, fmt.Errorf("failed to derive employee registry: %w", err)
		}
		return registry, nil
	}

	if err := registry.LoadFile(cfg.RegistryFile); err != nil {
		return nil, fmt.Errorf("failed to load employee registry: %w", err)
	}
	if cfg.Watch {
		watcher, err := directory.NewWatcher(registry, cfg.RegistryFile, cfg.WatchDebounce, log)
		if err != nil {
			return nil, fmt.Errorf("failed to watch employee registry: %w", err)
		}
		if err := watcher.Watch(); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch employee registry: %w", err)
		}
		sb.shutdown.RegisterCloser(shutdown.PhaseWorkers, "Registry watcher", watcher.Close)
	}
	return registry, nil
}

func (sb *ServerBuilder) rolePolicies() map[models.Role]directory.RolePolicy {
	policies := directory.DefaultRolePolicies()
	for role, p := range sb.config.Roles {
		policies[models.Role(role)] = directory.RolePolicy{
			Persistent:    p.Persistent,
			AllowLogout:   p.AllowLogout,
			SecurityLevel: p.SecurityLevel,
		}
	}
	return policies
}

func (sb *ServerBuilder) buildAttemptStore(ctx context.Context) (lockout.AttemptStore, error) {
	if sb.config.Storage.AttemptsBackend != config.BackendRedis {
		return lockout.NewMemoryAttemptStore(), nil
	}

	client, err := lockout.Connect(ctx, sb.config.Storage.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	sb.shutdown.RegisterCloser(shutdown.PhaseStorage, "Redis", client.Close)
	sb.health.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return lockout.NewRedisAttemptStore(client, sb.config.Security.AttemptTTL), nil
}

func (sb *ServerBuilder) buildRecorder(db *database.SQLiteDB, hub *audit.Hub) (*audit.Recorder, error) {
	log := sb.logManager.Named("audit")
	opts := []audit.Option{audit.WithPublisher(hub)}
	if db != nil {
		opts = append(opts, audit.WithSink(db))
	}

	alerting := sb.config.Alerting
	if alerting.Enabled {
		alerter, err := audit.NewEmailAlerter(audit.AlertingConfig{
			SMTPHost:  alerting.SMTPHost,
			SMTPPort:  alerting.SMTPPort,
			FromEmail: alerting.FromEmail,
			FromPass:  alerting.FromPass,
			ToEmails:  alerting.ToEmails,
		}, log)
		if err != nil {
			return nil, err
		}
		severity := models.Severity(strings.ToUpper(alerting.MinSeverity))
		opts = append(opts, audit.WithAlerter(alerter, severity, alerting.PerHour))
		sb.logger.Info("Email alerting enabled",
			zap.String("min_severity", string(severity)),
			zap.Strings("to", alerting.ToEmails))
	}

	return audit.NewRecorder(log, opts...), nil
}

func (sb *ServerBuilder) buildEngine(
	db *database.SQLiteDB,
	blocks *lockout.BlockList,
	persistent *directory.PersistentStore,
	registry *directory.Registry,
	attempts lockout.AttemptStore,
	recorder *audit.Recorder,
) (*service.Engine, error) {
	cfg := sb.config
	engineLog := sb.logManager.Named("engine")

	pool := credential.NewPool(cfg.Hashing.Workers)
	sb.shutdown.RegisterCloser(shutdown.PhaseStorage, "Hash pool", func() error { pool.Close(); return nil })
	hasher, err := credential.NewHasher(credential.Params{
		Iterations: cfg.Hashing.Iterations,
		KeyLength:  cfg.Hashing.KeyLength,
		SaltLength: cfg.Hashing.SaltLength,
	}, pool)
	if err != nil {
		return nil, err
	}

	roleTimeouts := make(map[models.Role]time.Duration, len(cfg.Sessions.RoleTimeouts))
	for role, d := range cfg.Sessions.RoleTimeouts {
		roleTimeouts[models.Role(role)] = d
	}
	sessions := session.NewManager(session.Config{
		DefaultTimeout: cfg.Sessions.DefaultTimeout,
		RoleTimeouts:   roleTimeouts,
		PersistentTTL:  cfg.Sessions.PersistentTTL,
	}, persistent, registry)

	tracker := lockout.NewActivityTracker(cfg.Security.SuspiciousThreshold, blocks, recorder)
	guard := lockout.NewRequestGuard(lockout.GuardConfig{
		DDoSThreshold:       cfg.Security.DDoSThreshold,
		DDoSWindow:          cfg.Security.DDoSWindow,
		SuspiciousThreshold: cfg.Security.SuspiciousThreshold,
		Honeypots:           cfg.Security.Honeypots,
	}, blocks, tracker)

	roles := make([]models.Role, 0, len(cfg.Bypass.Roles))
	for _, r := range cfg.Bypass.Roles {
		roles = append(roles, models.Role(r))
	}
	permission := service.NewPermission(service.BypassConfig{
		Enabled: cfg.Bypass.Enabled,
		Roles:   roles,
		Secrets: cfg.BypassSecrets(sb.logger),
	}, engineLog)

	envelope, err := service.NewEnvelope(cfg.Security.MaxPadding, service.WithBucketSize(cfg.Security.PaddingBucket))
	if err != nil {
		return nil, err
	}

	policy := validation.DefaultSecretPolicy()
	if cfg.AccountsPolicy.MinLength > 0 {
		policy.MinLength = cfg.AccountsPolicy.MinLength
	}

	deps := service.Dependencies{
		Hasher:     hasher,
		Sessions:   sessions,
		Directory:  registry,
		Attempts:   attempts,
		Blocks:     blocks,
		Guard:      guard,
		Tracker:    tracker,
		Events:     recorder,
		Permission: permission,
		Envelope:   envelope,
		Secrets:    validation.NewSecretValidator(policy),
		Logger:     engineLog,
	}
	if db != nil {
		deps.EventPruner = db
	}

	return service.NewEngine(service.AuthConfig{
		MaxLoginAttempts:    cfg.Security.MaxLoginAttempts,
		AttemptTTL:          cfg.Security.AttemptTTL,
		ThreatThreshold:     cfg.Security.ThreatLevelThreshold,
		MaintenanceInterval: cfg.Security.MaintenanceInterval,
		ActivityRetention:   cfg.Security.ActivityRetention,
		EventRetention:      cfg.Security.EventRetention,
		EnforceSecretPolicy: cfg.AccountsPolicy.Enforce,
	}, deps)
}

// accountSeeds resolves bootstrap secrets. A missing secret skips the
// account with a warning rather than starting it with a guessable default.
func (sb *ServerBuilder) accountSeeds() []service.AccountSeed {
	seeds := make([]service.AccountSeed, 0, len(sb.config.Accounts))
	for _, acc := range sb.config.Accounts {
		secret, err := acc.Secret()
		if err != nil {
			sb.logger.Warn("Bootstrap account skipped", zap.String("username", acc.Username), zap.Error(err))
			continue
		}
		seeds = append(seeds, service.AccountSeed{
			Username: acc.Username,
			Secret:   secret,
			Role:     models.Role(acc.Role),
		})
	}
	return seeds
}

// buildChain puts request IDs and access logging in front of the
// configured middleware.
func (sb *ServerBuilder) buildChain() *middleware.MiddlewareChain {
	cfg := sb.config
	chain := middleware.NewMiddlewareChain(
		trace.WithRequestID(cfg.Server.TrustProxyHeaders),
		middleware.NewLoggingMiddleware(sb.logManager.Named("access"),
			middleware.WithTrustProxy(cfg.Server.TrustProxyHeaders),
			middleware.WithHeaders(cfg.Server.Debug)),
	)

	hasSecurity := false
	for _, mw := range cfg.Middleware {
		if mw.SecurityHeaders != nil {
			hasSecurity = true
		}
	}
	if !hasSecurity {
		chain.Use(middleware.NewSecurityMiddleware(nil))
	}
	chain.AddConfiguredMiddlewares(cfg, sb.logger)
	return chain
}

// originChecker returns nil, the same-origin default of the websocket
// upgrader, when no origins are configured.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowed[strings.ToLower(r.Header.Get("Origin"))]
		return ok
	}
}
