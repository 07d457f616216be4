package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wrenfield/idbridge/pkg/api"
	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/auth"
	"github.com/wrenfield/idbridge/pkg/breaker"
	"github.com/wrenfield/idbridge/pkg/bridge"
	"github.com/wrenfield/idbridge/pkg/config"
	"github.com/wrenfield/idbridge/pkg/downstream"
	"github.com/wrenfield/idbridge/pkg/httputil"
	"github.com/wrenfield/idbridge/pkg/maintenance"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/provision"
	"github.com/wrenfield/idbridge/pkg/store"
)

func main() {
	startupLog := setupLogger(os.Getenv("IDBRIDGE_LOG_LEVEL"))

	if err := run(startupLog); err != nil {
		startupLog.WithError(err).Fatal("idbridge failed")
	}
}

func run(startupLog *logrus.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Request-path packages log structured JSON; startupLog stays
	// human-readable for the bootstrap phase.
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if cfg.Webhook.GeneratedSecret {
		startupLog.Warn("No webhook secret configured; generated a transient one. Set IDBRIDGE_WEBHOOK_SECRET before exposing the webhook endpoint.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rotated secret files take effect without a restart.
	if err := cfg.WatchSecrets(ctx, logger); err != nil {
		logger.WithError(err).Warn("secret hot reload unavailable")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open shadow store: %w", err)
	}
	startupLog.Infof("Shadow store initialized (backend: %s)", st.Backend())

	var redisClient *redis.Client
	if cfg.Store.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		cached, err := store.NewCachedStore(st, opt.Addr, opt.Password, cfg.Store.CacheTTL, metrics)
		if err != nil {
			return fmt.Errorf("failed to enable redis cache: %w", err)
		}
		st = cached
		redisClient = cached.Client()
		startupLog.Info("Redis list cache enabled")
	}

	auditLog, auditStore, err := buildAuditTrail(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	bridgeTargets, pipelineTargets, err := buildTargets(cfg, metrics)
	if err != nil {
		return err
	}
	if len(bridgeTargets) == 0 {
		startupLog.Warn("No downstream targets configured; webhooks will only maintain the shadow store")
	}
	for name := range bridgeTargets {
		startupLog.Infof("Downstream target configured: %s", name)
	}

	pipeline := provision.NewPipeline(st, pipelineTargets, logger, metrics, auditLog)

	var verifier bridge.IdentityExtractor
	if cfg.Bridge.OIDCIssuerURL != "" {
		oidcExtractor, err := bridge.NewOIDCExtractor(ctx, cfg.Bridge.OIDCIssuerURL, cfg.Bridge.OIDCClientID, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC extractor: %w", err)
		}
		verifier = oidcExtractor
	}

	br := bridge.New(bridge.Config{
		Provider:        cfg.Webhook.Provider,
		Targets:         bridgeTargets,
		Store:           st,
		Verifier:        verifier,
		Logger:          logger,
		Metrics:         metrics,
		Audit:           auditLog,
		InsecureCookies: cfg.Bridge.InsecureCookies,
	})

	var issuer *auth.Issuer
	if cfg.Token.SigningSecret.IsSet() {
		issuer, err = auth.NewIssuer(cfg.Token.SigningSecret.Value())
		if err != nil {
			return fmt.Errorf("failed to initialize token issuer: %w", err)
		}
	}

	var auditHandlers *audit.Handlers
	if auditStore != nil {
		auditHandlers = audit.NewHandlers(auditStore)
	}

	server := api.NewServer(api.Config{
		Pipeline:        pipeline,
		Bridge:          br,
		Store:           st,
		Issuer:          issuer,
		TokenDefaultTTL: cfg.Token.DefaultTTL,
		TokenMaxTTL:     cfg.Token.MaxTTL,
		AuditHandlers:   auditHandlers,
		WebhookSecret:   cfg.Webhook.Secret.Value,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Logger:          logger,
		Metrics:         metrics,
		Audit:           auditLog,
	})

	var apiHandler http.Handler = server
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(apiHandler, "idbridge-api")
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(st, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	// Probes skip the access log; kubelets hit them every few seconds.
	healthHandler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
	)(healthMux)

	apiServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:         cfg.HealthAddr(),
		Handler:      healthHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer("api", apiServer)
	shutdown.RegisterServer("health", healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return st.Close() })
	shutdown.RegisterShutdownFunc(func(context.Context) error { return auditLog.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
			return observability.ShutdownOTel(sctx, providers, logger)
		})
	}

	if cfg.Maintenance.Enabled {
		breakers := make([]*breaker.Breaker, 0, len(pipelineTargets))
		for _, target := range pipelineTargets {
			breakers = append(breakers, target.Breaker)
		}
		scheduler, err := maintenance.NewScheduler(maintenance.Config{
			Store:      st,
			Breakers:   breakers,
			AuditStore: auditStore,
			Retention: audit.RetentionPolicy{
				RetentionDays:  cfg.Audit.RetentionDays,
				ArchiveEnabled: cfg.Audit.S3Bucket != "",
			},
			GaugeSchedule:     cfg.Maintenance.GaugeSchedule,
			RetentionSchedule: cfg.Maintenance.RetentionSchedule,
			Logger:            startupLog,
			Metrics:           metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize maintenance scheduler: %w", err)
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			scheduler.Stop()
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		startupLog.Infof("API server listening on %s", cfg.ListenAddr())
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		startupLog.Infof("Health/metrics server listening on %s", cfg.HealthAddr())
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		signalled := make(chan error, 1)
		go func() { signalled <- shutdown.WaitForShutdown() }()

		select {
		case err := <-signalled:
			return err
		case <-gctx.Done():
			// A listener failed; drain whatever is still up.
			sctx, scancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer scancel()
			return shutdown.Shutdown(sctx)
		}
	})

	return g.Wait()
}

// buildTargets assembles the downstream routing table from the built-in
// targets and the optional routes file. The bridge and the pipeline share
// one breaker per target, so failures on either path open it together.
func buildTargets(cfg *config.Config, metrics *observability.Metrics) (map[string]*bridge.Target, []provision.Target, error) {
	bridgeTargets := make(map[string]*bridge.Target)
	var pipelineTargets []provision.Target

	add := func(name string, client downstream.Provisioner, soft bool, authCookie, accountCookie, cookieDomain string) {
		client = downstream.WithName(client, name)
		if cfg.Cache.AccountCacheSize > 0 {
			client = downstream.NewCachedProvisioner(client, cfg.Cache.AccountCacheSize, cfg.Cache.AccountCacheTTL, metrics)
		}
		guard := breaker.New(name, cfg.Breaker.Threshold, cfg.Breaker.Cooldown)
		bridgeTargets[name] = &bridge.Target{
			Client:        client,
			Breaker:       guard,
			Soft:          soft,
			AuthCookie:    authCookie,
			AccountCookie: accountCookie,
			CookieDomain:  cookieDomain,
		}
		pipelineTargets = append(pipelineTargets, provision.Target{Client: client, Breaker: guard})
	}

	if url := cfg.Mattermost.AdminAPIURL(); url != "" {
		client, err := downstream.NewMattermostClient(url, cfg.Mattermost.AdminToken.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure mattermost target: %w", err)
		}
		add("mattermost", client, false, cfg.Mattermost.AuthCookie, cfg.Mattermost.AccountCookie, cfg.Bridge.CookieDomain)
	}

	if url := cfg.N8N.APIURL(); url != "" {
		client, err := downstream.NewN8NClient(url, cfg.N8N.APIKey.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure n8n target: %w", err)
		}
		add("n8n", client, true, "", "", "")
	}

	if cfg.RoutesFile == "" {
		return bridgeTargets, pipelineTargets, nil
	}

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load routes file: %w", err)
	}
	for _, route := range routes {
		if _, exists := bridgeTargets[route.Name]; exists {
			return nil, nil, fmt.Errorf("route %q collides with an already configured target", route.Name)
		}

		switch route.Kind {
		case config.RouteKindMattermost:
			client, err := downstream.NewMattermostClient(route.APIURL(), route.Token)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to configure route %q: %w", route.Name, err)
			}
			authCookie := route.AuthCookie
			if authCookie == "" {
				authCookie = cfg.Mattermost.AuthCookie
			}
			accountCookie := route.AccountCookie
			if accountCookie == "" {
				accountCookie = cfg.Mattermost.AccountCookie
			}
			add(route.Name, client, route.Soft, authCookie, accountCookie, route.CookieDomain)

		case config.RouteKindN8N:
			client, err := downstream.NewN8NClient(route.APIURL(), route.Token)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to configure route %q: %w", route.Name, err)
			}
			// Header-trusting targets are always soft.
			add(route.Name, client, true, "", "", "")
		}
	}

	return bridgeTargets, pipelineTargets, nil
}

// buildAuditTrail assembles the audit sinks: file and/or database loggers
// behind a multi logger, plus the read-side store when the database sink
// is enabled.
func buildAuditTrail(ctx context.Context, cfg *config.Config) (audit.Logger, audit.Store, error) {
	if !cfg.Audit.Enabled {
		return audit.NopLogger{}, nil, nil
	}

	var sinks []audit.Logger

	if cfg.Audit.Dir != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.Dir
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit file logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	var auditStore audit.Store
	if cfg.Audit.UseDB {
		db, err := connectDatabase(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect audit database: %w", err)
		}
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, dbLogger)

		var archiver *audit.S3Archiver
		if cfg.Audit.S3Bucket != "" {
			archiver, err = audit.NewS3Archiver(ctx, audit.ArchiverConfig{
				Bucket:       cfg.Audit.S3Bucket,
				Region:       cfg.Audit.S3Region,
				Endpoint:     cfg.Audit.S3Endpoint,
				AccessKey:    cfg.Audit.S3AccessKey,
				SecretKey:    cfg.Audit.S3SecretKey,
				UsePathStyle: cfg.Audit.S3Endpoint != "",
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize audit archiver: %w", err)
			}
		}
		auditStore = audit.NewDBStore(dbLogger, archiver)
	}

	switch len(sinks) {
	case 0:
		return audit.NopLogger{}, nil, nil
	case 1:
		return sinks[0], auditStore, nil
	default:
		return audit.NewMultiLogger(sinks...), auditStore, nil
	}
}

func connectDatabase(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
