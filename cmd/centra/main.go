package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/handler"
	"github.com/centra-sso/centra/pkg/apikey"
	"github.com/centra-sso/centra/pkg/auditstore"
	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/credentials"
	"github.com/centra-sso/centra/pkg/keys"
	"github.com/centra-sso/centra/pkg/metrics"
	"github.com/centra-sso/centra/pkg/middleware"
	"github.com/centra-sso/centra/pkg/replay"
	"github.com/centra-sso/centra/pkg/sessionmanager"
	"github.com/centra-sso/centra/pkg/signature"
	"github.com/centra-sso/centra/pkg/sso"
	"github.com/centra-sso/centra/pkg/token"
)

const (
	defaultConfigPath     = "/app/config/config.yaml"
	defaultAuditDBPath    = "centra-audit.db"
	defaultMigrationsPath = "./migrations"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Cannot initialize Zap logger: %v.", err)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error syncing logger: %v", err)
		}
	}()

	store, err := config.NewStore(envOr("CENTRA_CONFIG", defaultConfigPath))
	if err != nil {
		logger.Fatal("Error loading application configuration.", zap.Error(err))
	}

	cfg := store.Current()

	keyStore, err := keys.New(cfg.Keys.PrivateKey, cfg.Keys.KeyID)
	if err != nil {
		logger.Fatal("Error initializing keys.", zap.Error(err))
	}

	auditStore, err := auditstore.Open(envOr("CENTRA_AUDIT_DB", defaultAuditDBPath), envOr("CENTRA_MIGRATIONS", defaultMigrationsPath), logger)
	if err != nil {
		logger.Fatal("Error opening audit store.", zap.Error(err))
	}

	defer auditStore.Close()

	var nonceStore replay.NonceStore

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Cannot reach redis for the replay nonce store.", zap.Error(err))
		}

		nonceStore = replay.NewRedisNonceStore(client)

		logger.Info("Using redis replay nonce store.", zap.String("address", cfg.Redis.Address))
	} else {
		nonceStore = replay.NewMemoryNonceStore()

		// An in-process store cannot see replays hitting other instances.
		logger.Warn("Using in-memory replay nonce store; run redis for multi-instance deployments.")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := signature.NewEngine(cfg.Signing.SignedHeaders)
	guard := replay.NewGuard(nonceStore, cfg.Signing.FreshnessWindow.Std(), logger)
	authenticator := apikey.NewAuthenticator(store, logger)
	sessions := sessionmanager.New(cfg.Session.LifeTime.Std())
	issuer := token.NewIssuer(keyStore, cfg.Issuer, logger)
	validator := token.NewValidator(keyStore.JWKS(), cfg.Issuer)
	orchestrator := sso.NewOrchestrator(store, issuer, sessions, m, "/login", logger)

	handlers := &handler.Handlers{
		Store:        store,
		Keys:         keyStore,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Validator:    validator,
		Credentials:  credentials.NewConfigStore(store),
		AuditStore:   auditStore,
		Metrics:      m,
		Logger:       logger,
	}

	deps := middleware.Deps{
		Authenticator: authenticator,
		Engine:        engine,
		Guard:         guard,
		Secrets: func(slug string) (string, bool) {
			tenant, found := store.Current().FindTenant(slug)
			return tenant.SharedSecret, found
		},
		Metrics: m,
		Logger:  logger,
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestLogging(logger))

	router.HandleFunc("/.well-known/jwks.json", handlers.GetJwksHandler).Methods("GET")
	router.HandleFunc("/login", handlers.LoginHandler).Methods("POST")
	router.HandleFunc("/logout", handlers.LogoutHandler).Methods("POST")
	router.HandleFunc("/sso/check-auth", handlers.CheckAuthHandler).Methods("GET")

	router.Handle("/api/v1/token/validate",
		middleware.SignedRequest(deps, "token:validate")(http.HandlerFunc(handlers.ValidateTokenHandler))).Methods("POST")
	router.Handle("/api/v1/audit/events",
		middleware.SignedRequest(deps, "audit:write")(http.HandlerFunc(handlers.IngestAuditEventHandler))).Methods("POST")
	router.Handle("/api/v1/audit/events",
		middleware.SignedRequest(deps, "audit:read")(http.HandlerFunc(handlers.ListAuditEventsHandler))).Methods("GET")
	router.Handle("/api/v1/admin/config/reload",
		middleware.SignedRequest(deps, "admin")(http.HandlerFunc(handlers.ReloadConfigHandler))).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	srv := &http.Server{
		Handler:      router,
		Addr:         cfg.Server.ListenAddress,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Starting central auth server...", zap.String("address", cfg.Server.ListenAddress))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server exited with error.", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down centra...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown.", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}

	return fallback
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		cancel()
	}()
}
