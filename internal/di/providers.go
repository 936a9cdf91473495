package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"digest-link-service/internal/app"
	"digest-link-service/internal/config"
	"digest-link-service/internal/database"
	"digest-link-service/internal/domain"
	"digest-link-service/internal/http/handler"
	"digest-link-service/internal/http/middleware"
	"digest-link-service/internal/http/router"
	"digest-link-service/internal/observability"
	"digest-link-service/internal/repository"
	"digest-link-service/internal/security"
	"digest-link-service/internal/service"
)

var ConfigSet = wire.NewSet(provideConfig)

var ObservabilitySet = wire.NewSet(
	observability.NewLogger,
	provideObservabilityRuntime,
)

var RuntimeInfraSet = wire.NewSet(
	provideOpenDB,
	provideRedisClient,
)

var RepositorySet = wire.NewSet(
	repository.NewTokenRecordRepository,
	repository.NewSecurityEventRepository,
)

var SecuritySet = wire.NewSet(provideEnvelopeCodec)

var ServiceSet = wire.NewSet(
	provideUsageLedger,
	wire.Bind(new(service.UsageLedgerInterface), new(*service.UsageLedger)),
	provideSecurityEventLog,
	wire.Bind(new(service.SecurityEventLogInterface), new(*service.SecurityEventLog)),
	provideTokenIssuer,
	wire.Bind(new(service.TokenIssuerInterface), new(*service.TokenIssuer)),
	provideTokenValidator,
	wire.Bind(new(service.TokenValidatorInterface), new(*service.TokenValidator)),
	provideRevocationService,
	wire.Bind(new(service.RevocationServiceInterface), new(*service.RevocationService)),
)

var HTTPSet = wire.NewSet(
	handler.NewTokenHandler,
	handler.NewHealthHandler,
	provideRouterDependencies,
	router.New,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideObservabilityRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	return observability.InitRuntime(context.Background(), cfg, logger)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

// provideRedisClient returns nil when no address is configured; the router
// then falls back to the in-process limiter.
func provideRedisClient(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func provideEnvelopeCodec(cfg *config.Config) (*security.EnvelopeCodec, error) {
	return security.NewEnvelopeCodec(cfg.TokenSigningSecret)
}

func provideUsageLedger(records repository.TokenRecordRepository) *service.UsageLedger {
	return service.NewUsageLedger(records)
}

func provideSecurityEventLog(events repository.SecurityEventRepository, logger *slog.Logger, cfg *config.Config) *service.SecurityEventLog {
	return service.NewSecurityEventLog(events, logger, cfg.StoreTimeout)
}

func provideTokenIssuer(records repository.TokenRecordRepository, codec *security.EnvelopeCodec, logger *slog.Logger, cfg *config.Config) *service.TokenIssuer {
	return service.NewTokenIssuer(records, codec, logger, service.IssuerOptions{
		DefaultMaxUsage: cfg.DefaultMaxUsage,
		MaxTTL:          cfg.MaxTTL,
		StoreTimeout:    cfg.StoreTimeout,
		TTLForPurpose: func(p domain.Purpose) time.Duration {
			return cfg.PurposeTTL(string(p))
		},
	})
}

func provideTokenValidator(
	records repository.TokenRecordRepository,
	ledger *service.UsageLedger,
	events *service.SecurityEventLog,
	codec *security.EnvelopeCodec,
	logger *slog.Logger,
	cfg *config.Config,
) *service.TokenValidator {
	return service.NewTokenValidator(records, ledger, events, codec, logger, cfg.StoreTimeout)
}

func provideRevocationService(records repository.TokenRecordRepository, logger *slog.Logger, cfg *config.Config) *service.RevocationService {
	return service.NewRevocationService(records, logger, cfg.StoreTimeout)
}

func provideRouterDependencies(
	tokenHandler *handler.TokenHandler,
	healthHandler *handler.HealthHandler,
	redisClient redis.UniversalClient,
	cfg *config.Config,
) router.Dependencies {
	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(redisClient, "dl_rl")
	} else {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}
	mode := middleware.FailClosed
	if cfg.RateLimitFailureMode == string(middleware.FailOpen) {
		mode = middleware.FailOpen
	}
	return router.Dependencies{
		TokenHandler:         tokenHandler,
		HealthHandler:        healthHandler,
		LinkLimiter:          limiter,
		LinkRateLimitRPM:     cfg.LinkRateLimitPerMin,
		RateLimitFailureMode: mode,
		TrustedOperatorCIDRs: cfg.TrustedOperatorCIDRs,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// MigrationRunner applies schema migrations and exits; the api binary runs
// it when invoked with the migrate argument.
type MigrationRunner struct {
	db *gorm.DB
}

func NewMigrationRunner(db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func (m *MigrationRunner) Run() error {
	return database.Migrate(m.db)
}
