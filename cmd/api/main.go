package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderledger/internal/di"
	"github.com/hanko-field/orderledger/internal/handlers"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/config"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/platform/idempotency"
	"github.com/hanko-field/orderledger/internal/platform/jobs"
	"github.com/hanko-field/orderledger/internal/platform/metrics"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/platform/secrets"
	"github.com/hanko-field/orderledger/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderledger/internal/repositories/firestore"
	"github.com/hanko-field/orderledger/internal/services"
)

// closablePublisher is a notification transport that flushes on shutdown.
type closablePublisher interface {
	services.NotificationPublisher
	Close() error
}

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

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New(cfg.Metrics.Namespace)
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, cfg.Firestore, secretManagerCheck(fetcher))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	publisher, err := newPublisher(ctx, cfg, logger.Named("notifications"))
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithPublisher(publisher),
		di.WithMailer(jobs.NewLogMailer(logger.Named("mailer"))),
		di.WithBuildInfo(buildInfo),
	}
	if recorder != nil {
		containerOpts = append(containerOpts, di.WithMetrics(recorder))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			defer cleanupTicker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseApp, err := auth.NewFirebaseApp(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase app", zap.Error(err))
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, firebaseApp)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithRoleClaim(cfg.Auth.RoleClaim))

	adminOrderHandlers := handlers.NewAdminOrderHandlers(
		container.Services.Orders,
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithRefundRateLimit(cfg.Orders.RefundRateLimit, cfg.Orders.RefundRateWindow),
	)
	notificationHandlers := handlers.NewInternalNotificationHandlers(container.Services.Delivery)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}
	if recorder != nil {
		middlewares = append(middlewares, recorder.Middleware)
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAdminMiddlewares(
			authenticator.RequireFirebaseAuth(cfg.Auth.AllowedRoles...),
			observability.ActorMiddleware,
		),
		handlers.WithAdminRoutes(adminOrderHandlers.Routes),
		handlers.WithInternalRoutes(notificationHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, recorder); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}
	if recorder != nil {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, recorder.Handler()))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order ledger api listening", zap.String("notifications", cfg.Notifications.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// Committed changes still queued for notification are published before the transport closes.
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("notification publisher close error", zap.Error(err))
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (closablePublisher, error) {
	switch cfg.Notifications.Backend {
	case config.NotificationBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Notifications.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubPublisher(client.Topic(cfg.Notifications.PubSub.Topic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &pubsubPublisher{PubSubPublisher: publisher, client: client}, nil
	case config.NotificationBackendKafka:
		return jobs.NewKafkaPublisher(jobs.KafkaConfig{
			Brokers:  cfg.Notifications.Kafka.Brokers,
			Topic:    cfg.Notifications.Kafka.Topic,
			Username: cfg.Notifications.Kafka.Username,
			Password: cfg.Notifications.Kafka.Password,
		})
	default:
		return jobs.NewLogPublisher(logger), nil
	}
}

// pubsubPublisher closes the client that owns the topic after the topic flushed.
type pubsubPublisher struct {
	*jobs.PubSubPublisher
	client *pubsub.Client
}

func (p *pubsubPublisher) Close() error {
	_ = p.PubSubPublisher.Close()
	return p.client.Close()
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

// secretManagerCheck probes Secret Manager on readiness. A missing probe secret still proves
// the API is reachable.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder *metrics.Recorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validatorOpts := []auth.OIDCOption{
		auth.WithOIDCLogger(adapter),
		auth.WithServiceAccounts(cfg.Security.OIDC.ServiceAccounts...),
	}
	if recorder != nil {
		validatorOpts = append(validatorOpts, auth.WithOIDCRecorder(recorder))
	}
	validator := auth.NewOIDCValidator(cache, validatorOpts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; notification push deliveries will be rejected")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
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

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/hanko-field/orderledger/internal/platform/secrets")),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		normalised := make(map[string]string, len(projects))
		for label, project := range projects {
			normalised[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(normalised))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secret-backed fields that must resolve for the configured transport.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	backend := strings.ToLower(strings.TrimSpace(env["API_NOTIFICATIONS_BACKEND"]))
	if backend == config.NotificationBackendKafka && strings.TrimSpace(env["API_NOTIFICATIONS_KAFKA_USERNAME"]) != "" {
		required = append(required, "Notifications.Kafka.Password")
	}
	if strings.HasPrefix(strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_JSON"]), "secret://") {
		required = append(required, "Firebase.CredentialsJSON")
	}
	sort.Strings(required)
	return required
}

// secretVersionPins parses "name=version" pairs into secret:// references understood by the fetcher.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
