package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/config"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/events"
	"github.com/phrazzld/safe-notify/internal/platform/kafka"
	"github.com/phrazzld/safe-notify/internal/platform/memory"
	"github.com/phrazzld/safe-notify/internal/platform/postgres"
	"github.com/phrazzld/safe-notify/internal/platform/redis"
	"github.com/phrazzld/safe-notify/internal/platform/ses"
	"github.com/phrazzld/safe-notify/internal/service"
	"github.com/phrazzld/safe-notify/internal/store"
	"github.com/phrazzld/safe-notify/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	taskStore store.TaskStore
	emitter   *events.InMemoryEventEmitter

	intakeService service.IntakeService
	replayService service.ReplayService
	queryService  service.QueryService

	taskRunner *task.TaskRunner

	// closers release store connections and publishers, in reverse order.
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// newApplication creates a new application instance with all dependencies
// initialized. The task runner is created but not started; Run starts it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		clock:  clock.Real{},
	}

	var err error
	app.taskStore, err = app.openTaskStore(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(events.NewLogHandler(logger))
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		app.emitter.RegisterHandler(publisher)
		app.addCloser("kafka publisher", publisher.Close)
		logger.Info("publishing task events to kafka",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic)
	}

	channels, err := newChannelRegistry(ctx, cfg.Email, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	retry := task.RetryPolicy{
		Delays:      cfg.Delivery.RetryDelays(),
		MaxAttempts: cfg.Delivery.MaxAttempts,
	}
	if err := retry.Validate(); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	deliverer := task.NewDeliverer(
		app.taskStore,
		channels,
		task.NewRandomOutcomeDecider(),
		app.emitter,
		app.clock,
		task.DelivererConfig{
			DeliveryTimeout: cfg.Delivery.DeliveryTimeout,
			Retry:           retry,
		},
		logger,
	)

	app.taskRunner = task.NewTaskRunner(app.taskStore, deliverer, task.TaskRunnerConfig{
		WorkerCount:            cfg.Delivery.WorkerCount,
		QueueSize:              cfg.Delivery.QueueSize,
		PollInterval:           cfg.Delivery.PollInterval,
		StuckTaskAge:           cfg.Delivery.StuckTaskAge,
		StuckTaskCheckInterval: cfg.Delivery.StuckTaskCheckInterval,
	}, logger)

	if err := app.initServices(); err != nil {
		app.cleanup()
		return nil, err
	}

	logger.Info("application initialized successfully")
	return app, nil
}

func (app *application) initServices() error {
	var err error
	app.intakeService, err = service.NewIntakeService(
		app.taskStore, app.emitter, app.clock, app.config.Delivery.MaxAttempts, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create intake service: %w", err)
	}

	app.replayService, err = service.NewReplayService(app.taskStore, app.emitter, app.clock, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create replay service: %w", err)
	}

	app.queryService, err = service.NewQueryService(app.taskStore, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create query service: %w", err)
	}
	return nil
}

// openTaskStore connects the configured backend. Postgres schemas are
// migrated up before use.
func (app *application) openTaskStore(ctx context.Context) (store.TaskStore, error) {
	cfg := app.config
	switch cfg.Store.Driver {
	case "memory":
		app.logger.Warn("using in-memory task store; tasks are lost on restart")
		return memory.NewTaskStore(app.clock), nil

	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		app.addCloser("database", db.Close)
		if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		app.logger.Info("database connection established")
		return postgres.NewPostgresTaskStore(db, app.clock, app.logger), nil

	case "redis":
		client, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		app.addCloser("redis", client.Close)
		app.logger.Info("redis connection established", "addr", cfg.Redis.Addr)
		return redis.NewTaskStore(client, cfg.Redis.KeyPrefix, app.clock, app.logger), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Store.Driver)
	}
}

// newChannelRegistry registers the EMAIL sender selected by cfg.Provider.
func newChannelRegistry(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (*task.ChannelRegistry, error) {
	channels := task.NewChannelRegistry()

	switch cfg.Provider {
	case "log", "":
		channels.Register(domain.ChannelEmail, task.NewLogSender(logger))
	case "ses":
		sender, err := ses.NewSender(ctx, ses.Config{
			FromAddress: cfg.FromAddress,
			Region:      cfg.Region,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ses sender: %w", err)
		}
		channels.Register(domain.ChannelEmail, sender)
	default:
		return nil, fmt.Errorf("unsupported email provider: %q", cfg.Provider)
	}

	logger.Info("email channel configured", "provider", cfg.Provider)
	return channels, nil
}

func (app *application) addCloser(name string, fn func() error) {
	app.closers = append(app.closers, namedCloser{name: name, close: fn})
}

// Run starts the delivery workers and serves HTTP until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	if err := app.taskRunner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. It is safe to
// call more than once.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	for i := len(app.closers) - 1; i >= 0; i-- {
		c := app.closers[i]
		if err := c.close(); err != nil {
			app.logger.Error("error closing resource", "resource", c.name, "error", err)
		}
	}
	app.closers = nil

	app.logger.Info("application shutdown completed")
}
