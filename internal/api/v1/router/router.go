package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"evara/internal/api/v1/handler"
	"evara/internal/config"
	"evara/internal/middleware"
	"evara/internal/pubsub"
	"evara/internal/repository"
	"evara/internal/service"
	"evara/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires storage, clients, services and handlers. The returned cleanup
// releases the database pool and the Pub/Sub client.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. Quota store
	quotaRepo, closeDB, err := newQuotaRepository(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeDB)

	// 2. Result store
	results, err := newResultStore(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// 3. Pub/Sub publisher
	var publisher pubsub.Publisher = pubsub.NoopPublisher{}
	if cfg.PublishingEnabled() {
		pub, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pub.Close() })
		publisher = pub
		logger.Info().Str("topic", cfg.PubSubGenerationTopic).Bool("emulator", cfg.PubSubEmulatorHost != "").Msg("Publishing generation events")
	}

	// 4. Token validation
	tokens, err := util.NewTokenValidator(cfg.JWTSecret)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("configuring token validation: %w", err)
	}

	// 5. Services & handlers
	validate := validator.New(validator.WithRequiredStructEnabled())
	rateSvc := service.NewGenerationRateService(quotaRepo, cfg.GenerationLimit, cfg.GenerationWindow, logger)
	tryOnClient := service.NewTryOnClient(cfg.TryOnAPIBaseURL, cfg.TryOnAPITimeout, logger)
	tryOnSvc := service.NewTryOnService(rateSvc, tryOnClient, results, publisher, cfg.PubSubGenerationTopic, cfg.StrictGenerationQuota, cfg.StoreTimeout, logger)
	tryOnHandler := handler.NewTryOnHandler(tryOnSvc, rateSvc.Limit(), validate, logger)

	logger.Info().
		Int("generation_limit", rateSvc.Limit()).
		Dur("generation_window", rateSvc.Window()).
		Bool("strict", cfg.StrictGenerationQuota).
		Msg("Generation quota configured")

	// 6. Routes
	authMiddleware := middleware.AuthMiddleware(tokens, logger)

	apiV1Mux := http.NewServeMux()
	tryOnHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Retry-After", middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	h := middleware.RequestIDMiddleware(middleware.LoggerMiddleware(logger)(c.Handler(mux)))
	return h, cleanup, nil
}

func newQuotaRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.GenerationQuotaRepository, func(), error) {
	if cfg.DBConnectionString == "" {
		if cfg.Environment != "development" {
			return nil, nil, fmt.Errorf("DB_CONNECTION_STRING is required outside development")
		}
		logger.Warn().Msg("DB_CONNECTION_STRING not set, generation quotas are kept in memory")
		return repository.NewMemoryGenerationQuotaRepo(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DBConnectionString)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing DB connection string: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening DB pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging DB: %w", err)
	}
	logger.Info().Msg("Database connection successful")

	repo := repository.NewGenerationQuotaRepo(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func newResultStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (service.ResultStore, error) {
	if cfg.S3Bucket == "" {
		logger.Warn().Msg("S3_BUCKET not set, try-on results are returned inline")
		return service.NewInlineResultStore(), nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	s3Config, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading S3 config: %w", err)
	}
	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		if cfg.S3URL != "" {
			o.BaseEndpoint = aws.String(cfg.S3URL)
			o.UsePathStyle = true
		}
	})
	return service.NewS3ResultStore(s3Client, cfg.S3Bucket, logger), nil
}

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
