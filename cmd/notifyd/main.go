package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/soundrise/notify/digest"
	"github.com/soundrise/notify/dispatch"
	"github.com/soundrise/notify/engine"
	"github.com/soundrise/notify/httpapi"
	"github.com/soundrise/notify/hub"
	"github.com/soundrise/notify/notification"
	"github.com/soundrise/notify/postgres"
	"github.com/soundrise/notify/preference"
	"github.com/soundrise/notify/queue"
	"github.com/soundrise/notify/template"
)

type appConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// StorageDriver selects where notifications and templates live:
	// "memory" for development, "postgres" for production.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`

	// RedisURL enables the durable preference store and the email address
	// directory. Preferences fall back to in-memory storage when unset.
	RedisURL string `env:"REDIS_URL"`

	// TemplatesPath optionally seeds the template catalog from a YAML file.
	TemplatesPath string `env:"TEMPLATES_PATH"`

	TickInterval time.Duration `env:"QUEUE_TICK_INTERVAL" envDefault:"1s"`
	RateLimit    int           `env:"QUEUE_RATE_LIMIT" envDefault:"50"`
	BurstLimit   int           `env:"QUEUE_BURST_LIMIT" envDefault:"100"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay       time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	AttemptTimeout   time.Duration `env:"DISPATCH_ATTEMPT_TIMEOUT" envDefault:"5s"`

	DigestsEnabled      bool          `env:"DIGESTS_ENABLED" envDefault:"true"`
	DigestCheckInterval time.Duration `env:"DIGEST_CHECK_INTERVAL" envDefault:"1m"`

	// EmailEnabled wires the Postmark transport; requires the POSTMARK_*
	// variables and a Redis address directory.
	EmailEnabled bool `env:"EMAIL_ENABLED" envDefault:"false"`

	// WebhookEndpoint wires the webhook transport towards one platform-level
	// consumer endpoint.
	WebhookEndpoint string `env:"WEBHOOK_ENDPOINT"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`

	HTTP httpapi.ServerConfig
}

func main() {
	if err := run(); err != nil {
		slog.Error("notifyd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// The .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage layer.
	var (
		store     notification.Storage
		templates template.Storage
		health    []func(*http.Request) error
	)
	switch cfg.StorageDriver {
	case "postgres":
		var pgCfg postgres.Config
		if err := env.Parse(&pgCfg); err != nil {
			return fmt.Errorf("failed to parse postgres config: %w", err)
		}
		pool, err := postgres.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool, pgCfg, logger); err != nil {
			return err
		}
		store = postgres.NewNotificationStorage(pool)
		templates = postgres.NewTemplateStorage(pool)

		probe := postgres.Healthcheck(pool)
		health = append(health, func(r *http.Request) error { return probe(r.Context()) })
	case "memory":
		store = notification.NewMemoryStorage()
		templates = template.NewMemoryStorage()
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	// Preference store: Redis when available, in-memory otherwise.
	var (
		prefStore   preference.Storage
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		prefStore, err = preference.NewRedisStorage(redisClient)
		if err != nil {
			return err
		}
		health = append(health, func(r *http.Request) error {
			return redisClient.Ping(r.Context()).Err()
		})
	} else {
		logger.Warn("REDIS_URL not set, preferences are stored in memory")
		prefStore = preference.NewMemoryStorage()
	}

	if cfg.TemplatesPath != "" {
		if err := template.Seed(ctx, templates, cfg.TemplatesPath); err != nil {
			return fmt.Errorf("failed to seed templates: %w", err)
		}
		logger.Info("template catalog seeded", "path", cfg.TemplatesPath)
	}

	events := hub.New(hub.WithLogger(logger))
	registry := buildTransports(cfg, redisClient, logger)

	prefEngine := preference.NewEngine(prefStore, preference.WithEngineLogger(logger))
	dispatcher := dispatch.New(registry, events,
		dispatch.WithAttemptTimeout(cfg.AttemptTimeout),
		dispatch.WithLogger(logger),
	)
	queueManager := queue.NewManager(
		queue.WithRateLimit(cfg.RateLimit),
		queue.WithBurstLimit(cfg.BurstLimit),
		queue.WithMetrics(queue.NewMetrics(prometheus.DefaultRegisterer)),
	)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithRetryPolicy(queue.RetryPolicy{
			MaxRetries: cfg.RetryMaxAttempts,
			Delay:      cfg.RetryDelay,
		}),
	}

	var eng *engine.Engine
	if cfg.DigestsEnabled {
		agg := digest.New(store, prefStore,
			func(ctx context.Context, n notification.Notification) error {
				return eng.Send(ctx, n)
			},
			digest.WithLogger(logger),
			digest.WithCheckInterval(cfg.DigestCheckInterval),
		)
		engineOpts = append(engineOpts, engine.WithDigests(agg))
	}

	eng = engine.New(store, prefEngine, queueManager, dispatcher, events, templates, engineOpts...)

	apiOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	for _, probe := range health {
		apiOpts = append(apiOpts, httpapi.WithHealthcheck(probe))
	}
	api := httpapi.New(eng, apiOpts...)

	logger.Info("notifyd starting",
		"storage", cfg.StorageDriver,
		"channels", registry.Channels(),
		"digests", cfg.DigestsEnabled,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return httpapi.Serve(ctx, cfg.HTTP, api.Router(), logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("notifyd stopped")
	return nil
}

// buildTransports registers a transport per configured channel. In-app always
// works since persistence is its delivery mechanism; the rest depend on
// external credentials. Channels without a transport bounce at dispatch time.
func buildTransports(cfg appConfig, redisClient *redis.Client, logger *slog.Logger) *dispatch.Registry {
	registry := dispatch.NewRegistry()
	registry.Register(notification.ChannelInApp, dispatch.NewInAppTransport())

	if cfg.EmailEnabled {
		if redisClient == nil {
			logger.Warn("EMAIL_ENABLED requires REDIS_URL for the address directory, email channel disabled")
		} else {
			var emailCfg dispatch.EmailConfig
			if err := env.Parse(&emailCfg); err != nil {
				logger.Warn("email transport not configured", "error", err)
			} else {
				resolve := func(ctx context.Context, userID string) (string, error) {
					return redisClient.Get(ctx, "notify:email:"+userID).Result()
				}
				transport, err := dispatch.NewEmailTransport(emailCfg, resolve)
				if err != nil {
					logger.Warn("email transport not configured", "error", err)
				} else {
					registry.Register(notification.ChannelEmail, transport)
				}
			}
		}
	}

	if cfg.WebhookEndpoint != "" {
		resolve := func(ctx context.Context, userID string) (string, string, error) {
			return cfg.WebhookEndpoint, cfg.WebhookSecret, nil
		}
		transport, err := dispatch.NewWebhookTransport(resolve, nil)
		if err != nil {
			logger.Warn("webhook transport not configured", "error", err)
		} else {
			registry.Register(notification.ChannelWebhook, transport)
		}
	}

	return registry
}

func newLogger(cfg appConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
