package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/giftcraft/experience/internal/di"
	"github.com/giftcraft/experience/internal/handlers"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/cache"
	"github.com/giftcraft/experience/internal/platform/config"
	pfirestore "github.com/giftcraft/experience/internal/platform/firestore"
	"github.com/giftcraft/experience/internal/platform/idempotency"
	"github.com/giftcraft/experience/internal/platform/observability"
	"github.com/giftcraft/experience/internal/platform/secrets"
	platformstorage "github.com/giftcraft/experience/internal/platform/storage"
	"github.com/giftcraft/experience/internal/services"
)

const (
	uploadsPerMinute       = 20
	viewerOpensPerMinute   = 30
	viewerActionsPerMinute = 240
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	clients := di.Clients{
		Secrets: fetcher,
		Build:   buildInfoFromEnv(envValues, cfg, startedAt),
	}

	if cfg.Repository.Driver == config.DriverFirestore {
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		clients.Firestore = provider

		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewGCSWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise media writer", zap.Error(err))
		}
		clients.Storage = writer
	}

	if cfg.Redis.Addr != "" {
		redisClient := cache.NewClient(cfg.Redis)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		clients.Redis = redisClient
	}

	if topicName := strings.TrimSpace(cfg.PubSub.GiftEventsTopic); topicName != "" && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		clients.Topic = topic
	}

	container, err := di.New(ctx, cfg, logger, clients)
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	container.StartReplaySweeper(ctx)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	giftOpts := []handlers.GiftOption{
		handlers.WithGiftMaxUploadBytes(cfg.Storage.MaxUploadBytes),
		handlers.WithGiftUploadRateLimit(uploadsPerMinute, time.Minute, container.Scheduler),
		handlers.WithGiftIdempotency(container.Replays,
			idempotency.WithTTL(cfg.Replay.TTL),
			idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
		),
	}
	if container.Media != nil {
		giftOpts = append(giftOpts, handlers.WithGiftMediaService(container.Media))
	}
	giftHandlers := handlers.NewGiftHandlers(authenticator, container.Content, giftOpts...)
	defer giftHandlers.Close()

	editorHandlers := handlers.NewEditorSessionHandlers(handlers.EditorSessionDeps{
		Authenticator:    authenticator,
		Content:          container.Content,
		Registry:         container.Registry,
		Store:            container.Editors,
		Scheduler:        container.Scheduler,
		AutosaveInterval: cfg.Editor.AutosaveInterval,
		Logger:           observability.EventLogger(logger.Named("editor")),
	})
	viewerHandlers := handlers.NewViewerSessionHandlers(handlers.ViewerSessionDeps{
		Authenticator: authenticator,
		Engine:        container.Engine,
		Store:         container.Viewers,
		OpenLimit:     viewerOpensPerMinute,
		ActionLimit:   viewerActionsPerMinute,
		RateWindow:    time.Minute,
		Scheduler:     container.Scheduler,
		Logger:        observability.EventLogger(logger.Named("viewer")),
	})
	defer viewerHandlers.Close()
	templateHandlers := handlers.NewTemplateHandlers(container.Templates, container.Registry)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(clients.Build),
		handlers.WithHealthSystemService(container.System),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(templateHandlers.Routes),
		handlers.WithGiftRoutes(giftHandlers.Routes),
		handlers.WithSharedRoutes(giftHandlers.SharedRoutes),
		handlers.WithEditorRoutes(editorHandlers.Routes),
		handlers.WithViewerRoutes(viewerHandlers.Routes),
		handlers.WithProfiler(cfg.Security.Environment == "local"),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("driver", cfg.Repository.Driver))
	go func() {
		serverLogger.Info("giftcraft experience api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("session shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames marks a field mandatory when the environment points it at a secret reference.
func requiredSecretNames(env map[string]string) []string {
	fields := map[string]string{
		"API_FIREBASE_CREDENTIALS_JSON": "Firebase.CredentialsJSON",
		"API_REDIS_PASSWORD":            "Redis.Password",
	}
	var required []string
	for key, name := range fields {
		value := strings.TrimSpace(env[key])
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			required = append(required, name)
		}
	}
	return required
}
