package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openlms/pesepay-gateway/internal/adapters/lms"
	"github.com/openlms/pesepay-gateway/internal/adapters/pesepay"
	"github.com/openlms/pesepay-gateway/internal/adapters/postgres"
	"github.com/openlms/pesepay-gateway/internal/adapters/secrets"
	"github.com/openlms/pesepay-gateway/internal/auth"
	"github.com/openlms/pesepay-gateway/internal/config"
	"github.com/openlms/pesepay-gateway/internal/domain/ports"
	checkoutHandler "github.com/openlms/pesepay-gateway/internal/handlers/checkout"
	"github.com/openlms/pesepay-gateway/internal/middleware"
	"github.com/openlms/pesepay-gateway/internal/observability"
	paymentService "github.com/openlms/pesepay-gateway/internal/services/payment"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logger)
	defer logger.Sync()

	logger.Info("Starting pesepay gateway",
		zap.String("version", "0.1.0"),
		zap.String("public_base_url", cfg.Server.PublicBaseURL),
	)

	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	secretManager, err := initSecretManager(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize secrets backend", zap.Error(err))
	}

	deps, err := initDependencies(dbPool, secretManager, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}

	// Public HTTP surface
	httpMux := http.NewServeMux()

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
	defer rateLimiter.Shutdown()

	sessionAuth := middleware.NewSessionAuth(deps.tokens, logger)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Logger.Development)

	// Browser-facing routes require a valid session; the webhook is
	// authenticated by transaction lookup instead.
	httpMux.Handle("/payments/checkout", sessionAuth.Middleware(http.HandlerFunc(deps.checkoutHandler.Handle)))
	httpMux.Handle("/payments/return", sessionAuth.Middleware(http.HandlerFunc(deps.returnHandler.Handle)))
	httpMux.HandleFunc("/payments/webhook", deps.webhookHandler.Handle)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      securityHeaders.Middleware(middleware.Metrics(rateLimiter.Middleware(httpMux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics and health on a separate port
	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort), healthChecker)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

// Dependencies holds all initialized services and handlers
type Dependencies struct {
	checkoutHandler *checkoutHandler.CheckoutHandler
	returnHandler   *checkoutHandler.ReturnHandler
	webhookHandler  *checkoutHandler.WebhookHandler
	tokens          *auth.TokenManager
}

// initDependencies initializes all services and handlers with dependency injection
func initDependencies(dbPool *pgxpool.Pool, secretManager ports.SecretManager, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	integrationKey, err := resolveSecret(ctx, secretManager, cfg.Pesepay.IntegrationKey, cfg.Pesepay.IntegrationKeySecret)
	if err != nil {
		return nil, fmt.Errorf("resolve integration key: %w", err)
	}
	lmsToken, err := resolveSecret(ctx, secretManager, cfg.LMS.APIToken, cfg.LMS.APITokenSecret)
	if err != nil {
		return nil, fmt.Errorf("resolve LMS API token: %w", err)
	}
	sessionSecret, err := resolveSecret(ctx, secretManager, cfg.Auth.SessionSecret, cfg.Auth.SessionSecretName)
	if err != nil {
		return nil, fmt.Errorf("resolve session secret: %w", err)
	}

	tokens, err := auth.NewTokenManager([]byte(sessionSecret), cfg.Auth.Issuer, time.Duration(cfg.Auth.ExpirySeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("create token manager: %w", err)
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Pesepay.Timeout) * time.Second}

	gateway := pesepay.NewClient(pesepay.Config{
		BaseURL:        cfg.Pesepay.BaseURL,
		IntegrationKey: integrationKey,
		Timeout:        time.Duration(cfg.Pesepay.Timeout) * time.Second,
	}, httpClient, logger)

	settlement := lms.NewSettlementClient(lms.Config{
		BaseURL:  cfg.LMS.BaseURL,
		APIToken: lmsToken,
	}, httpClient, logger)

	db := postgres.NewDBExecutor(dbPool)
	repo := postgres.NewTransactionRepository(db)

	service := paymentService.NewService(db, repo, gateway, settlement, logger, paymentService.Config{
		PublicBaseURL:       cfg.Server.PublicBaseURL,
		GatewayID:           "pesepay",
		SupportedCurrencies: cfg.Pesepay.SupportedCurrencies,
		SurchargePercent:    decimal.NewFromFloat(cfg.Pesepay.SurchargePercent),
	})

	return &Dependencies{
		checkoutHandler: checkoutHandler.NewCheckoutHandler(service, logger),
		returnHandler:   checkoutHandler.NewReturnHandler(service, logger, cfg.LMS.PendingURL, cfg.LMS.ErrorURL),
		webhookHandler:  checkoutHandler.NewWebhookHandler(service, logger),
		tokens:          tokens,
	}, nil
}

// initSecretManager selects a secrets backend from configuration
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManager, error) {
	cacheTTL := time.Duration(cfg.Secrets.CacheTTLSeconds) * time.Second

	switch cfg.Secrets.Provider {
	case "aws":
		return secrets.NewAWSSecretsManager(ctx, &secrets.AWSSecretsManagerConfig{
			Region:      cfg.Secrets.AWSRegion,
			Profile:     cfg.Secrets.AWSProfile,
			Endpoint:    cfg.Secrets.AWSEndpoint,
			CacheTTL:    cacheTTL,
			EnableCache: cfg.Secrets.EnableCache,
		}, logger)
	case "vault":
		return secrets.NewVaultSecretManager(&secrets.VaultConfig{
			Address:     cfg.Secrets.VaultAddress,
			Token:       cfg.Secrets.VaultToken,
			MountPath:   cfg.Secrets.VaultMountPath,
			CacheTTL:    cacheTTL,
			EnableCache: cfg.Secrets.EnableCache,
		}, logger)
	case "local":
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalBasePath, logger), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Secrets.Provider)
	}
}

// resolveSecret prefers the plain-env override, falling back to the secrets
// backend. The override keeps local development free of backend setup.
func resolveSecret(ctx context.Context, manager ports.SecretManager, override, path string) (string, error) {
	if override != "" {
		return override, nil
	}
	secret, err := manager.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}

// initLogger initializes the logger
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	if cfg.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}

// initDatabase initializes the PostgreSQL connection pool
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
