package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"goal-agent/internal/config"
	"goal-agent/internal/integrations/deepseek"
	"goal-agent/internal/integrations/paramstore"
	"goal-agent/internal/lock"
	"goal-agent/internal/observability"
	"goal-agent/internal/repository"
	"goal-agent/internal/usecase"
)

type BuildResult struct {
	Config  config.Config
	Service *usecase.ChatService
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Cleanup releases the store and lock connections.
	Cleanup func() error
}

// NewLogger returns a JSON slog logger at level (debug, info, warn, error).
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Build wires the configured store, locker and gateway into a ChatService.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	store, err := buildStore(ctx, cfg.Store, loadAWS)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := buildLocker(ctx, cfg.Lock)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cleanup := func() error {
		var errs []string
		if err := closeLocker(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	gateway, err := buildGateway(cfg.LLM, cfg.Params, loadAWS)
	if err != nil {
		_ = cleanup()
		return nil, err
	}

	svc, err := usecase.NewChatService(store, store, gateway, locker, usecase.Settings{
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		TopP:             cfg.LLM.TopP,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		DefaultPageSize:  cfg.Goals.DefaultPageSize,
		MaxPageSize:      cfg.Goals.MaxPageSize,
	}, usecase.WithLogger(logger), usecase.WithMetrics(metrics))
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	logger.Info("goal agent built",
		"store", cfg.Store.Backend,
		"lock", cfg.Lock.Backend,
		"model", cfg.LLM.Model,
	)

	return &BuildResult{
		Config:  cfg,
		Service: svc,
		Metrics: metrics,
		Logger:  logger,
		Cleanup: cleanup,
	}, nil
}

func buildStore(ctx context.Context, cfg config.StoreConfig, loadAWS func() (aws.Config, error)) (repository.ReadWriter, error) {
	switch cfg.Backend {
	case "", "memory":
		return repository.NewInMemoryStore(), nil
	case "dynamodb":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: create postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.Backend)
	}
}

func buildLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func() error, error) {
	switch cfg.Backend {
	case "", "local":
		return lock.NewLocal(cfg.Wait), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("app: ping redis: %w", err)
		}
		locker, err := lock.NewRedis(client, lock.RedisConfig{TTL: cfg.TTL, Wait: cfg.Wait})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return locker, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown lock backend %q", cfg.Backend)
	}
}

func buildGateway(cfg config.LLMConfig, params config.ParamsConfig, loadAWS func() (aws.Config, error)) (*deepseek.Client, error) {
	opts := []deepseek.Option{
		deepseek.WithBaseURL(cfg.BaseURL),
		deepseek.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, deepseek.WithAPIKey(cfg.APIKey))
	} else if cfg.APIKeyParam != "" {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithPrefix(params.Prefix))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		opts = append(opts, deepseek.WithTokenSource(ps, cfg.APIKeyParam))
	}

	client, err := deepseek.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create deepseek client: %w", err)
	}
	return client, nil
}
