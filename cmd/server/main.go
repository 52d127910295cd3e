package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/nestlease/kyc/api/echo"
	"github.com/nestlease/kyc/cache"
	redisstore "github.com/nestlease/kyc/cache/redis"
	"github.com/nestlease/kyc/config"
	"github.com/nestlease/kyc/domain"
	"github.com/nestlease/kyc/internal/assertion"
	appcrypto "github.com/nestlease/kyc/internal/crypto"
	"github.com/nestlease/kyc/internal/idp"
	"github.com/nestlease/kyc/internal/verification"
	applog "github.com/nestlease/kyc/log"
	"github.com/nestlease/kyc/mongodb"
	"github.com/nestlease/kyc/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := applog.Setup(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	if err := cfg.Validate(); err != nil {
		// Never echo config values here; the signing key may be among them.
		fatal(logger, ctx, "Invalid configuration", err)
	}

	logger.Info(ctx, "Starting verification service", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"session_store": cfg.SessionStore,
		"log_level":     cfg.LogLevel,
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		fatal(logger, ctx, "Failed to initialize TracerProvider", err)
	}

	// Mongo backs users and outcomes regardless of the session store choice.
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		fatal(logger, ctx, "Failed to initialize MongoDB connection", err)
	}
	db := mongodb.GetDB()

	outcomes, err := mongodb.NewOutcomeRepository(ctx, db)
	if err != nil {
		fatal(logger, ctx, "Failed to initialize outcome repository", err)
	}
	users := mongodb.NewUserDirectory(db)

	var sessions domain.SessionStore
	switch cfg.SessionStore {
	case config.StoreRedis:
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		sessions = redisstore.NewSessionStore(redisClient, cfg.RedisPrefix)
	case config.StoreMongo:
		mongoSessions, storeErr := mongodb.NewSessionStore(ctx, db)
		if storeErr != nil {
			fatal(logger, ctx, "Failed to initialize Mongo session store", storeErr)
		}
		sessions = mongoSessions
	default:
		memStore := cache.NewMemorySessionStore()
		defer memStore.Close()
		sessions = memStore
	}

	signingKey, err := appcrypto.ParseSigningKey(cfg.PrivateSigningKey)
	if err != nil {
		fatal(logger, ctx, "Failed to parse signing key", err)
	}
	signer, err := assertion.NewSigner(cfg.ClientID, cfg.TokenEndpoint, cfg.SigningAlgorithm, signingKey, cfg.AssertionTTL())
	if err != nil {
		fatal(logger, ctx, "Failed to build assertion signer", err)
	}

	idpClient, err := idp.New(idp.Options{
		ClientID:              cfg.ClientID,
		RedirectURI:           cfg.RedirectURI,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		UserInfoEndpoint:      cfg.UserInfoEndpoint,
		JWKSEndpoint:          cfg.JWKSEndpoint,
		UserInfoIssuer:        cfg.UserInfoIssuer,
		Scopes:                cfg.ScopeList(),
		EssentialClaims:       cfg.EssentialClaimList(),
		VoluntaryClaims:       cfg.VoluntaryClaimList(),
		ClaimsLocales:         cfg.ClaimsLocaleList(),
		HTTPTimeout:           cfg.HTTPTimeout(),
	}, signer)
	if err != nil {
		fatal(logger, ctx, "Failed to build identity provider client", err)
	}
	defer idpClient.Close()

	flows := verification.NewService(idpClient, sessions, outcomes, users, cfg.SessionTTL())

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	echoapi.NewVerificationAPI(flows, users, outcomes, mongodb.Ping).RegisterRoutes(e)

	go func() {
		logger.Info(ctx, "HTTP server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			fatal(logger, ctx, "HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)

	logger.Info(shutdownCtx, "Server gracefully stopped.", nil)
}

func fatal(logger applog.Logger, ctx context.Context, msg string, err error) {
	logger.Error(ctx, msg, err)
	os.Exit(1)
}
