// Package bootstrap builds the components shared by the API and worker
// processes from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transcriber/internal/api/handler"
	"github.com/cuongbtq/transcriber/internal/asr"
	"github.com/cuongbtq/transcriber/internal/command"
	"github.com/cuongbtq/transcriber/internal/config"
	"github.com/cuongbtq/transcriber/internal/jobstore"
	"github.com/cuongbtq/transcriber/internal/media"
	"github.com/cuongbtq/transcriber/internal/transcription"
	"github.com/cuongbtq/transcriber/internal/worker"
	"github.com/cuongbtq/transcriber/internal/youtube"
	"github.com/cuongbtq/transcriber/shared/logger"
	"github.com/cuongbtq/transcriber/shared/objectstore"
	"github.com/cuongbtq/transcriber/shared/postgresql"
	"github.com/cuongbtq/transcriber/shared/rabbitmq"
)

// Services holds every long-lived component. Clients for disabled backends
// are nil.
type Services struct {
	Logger       *slog.Logger
	DB           *postgresql.Client
	Rabbit       *rabbitmq.Client
	Objects      *objectstore.Client
	Records      jobstore.Records
	Queue        jobstore.Queue
	Store        *jobstore.Store
	Acquirer     *media.Acquirer
	Engine       asr.Engine
	Orchestrator *transcription.Orchestrator
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// Build connects to the configured backends and wires the job store, media
// acquirer, speech engine and orchestrator. Everything opened so far is
// closed again when a later step fails.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Services, err error) {
	s := &Services{Logger: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// Step 1: Clients
	if cfg.UsesPostgres() {
		if s.DB, err = InitPostgreSQL(&cfg.Database, log); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("Database connection established")
	}

	if cfg.UsesRabbitMQ() {
		if s.Rabbit, err = InitRabbitMQ(&cfg.RabbitMQ, log); err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		log.Info("RabbitMQ connection established")
	}

	if cfg.Storage.Enabled {
		if s.Objects, err = InitObjectStore(ctx, &cfg.Storage, log); err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		log.Info("Object storage connection established", slog.String("bucket", s.Objects.Bucket()))
	}

	// Step 2: Job store
	if s.DB != nil {
		if s.Records, err = jobstore.NewPostgresRecords(s.DB, cfg.Jobs.TombstoneRetention, log); err != nil {
			return nil, fmt.Errorf("failed to initialize job records: %w", err)
		}
	} else {
		s.Records = jobstore.NewMemoryRecords(nil, cfg.Jobs.TombstoneRetention)
	}

	if s.Rabbit != nil {
		s.Queue = jobstore.NewRabbitQueue(s.Rabbit)
	} else {
		s.Queue = jobstore.NewMemoryQueue()
	}

	notifier := jobstore.NewWebhookNotifier(&http.Client{}, cfg.Jobs.WebhookTimeout, log)
	s.Store = jobstore.New(s.Records, s.Queue, notifier, jobstore.Config{TTL: cfg.Jobs.TTL}, log)

	// Step 3: Media, captions and speech recognition
	runner := command.ExecRunner{}
	var objects media.ObjectStore
	var engineObjects asr.ObjectStore
	if s.Objects != nil {
		objects = s.Objects
		engineObjects = s.Objects
	}

	s.Acquirer, err = media.NewAcquirer(media.Config{
		TempDir:         cfg.Media.TempDir,
		HandoffDir:      cfg.Media.HandoffDir,
		MaxUploadBytes:  cfg.Media.MaxUploadBytes(),
		DownloadTimeout: cfg.Media.DownloadTimeout,
		YTDLPPath:       cfg.Media.YTDLPPath,
		FFprobePath:     cfg.Media.FFprobePath,
		UserAgent:       cfg.Media.UserAgent,
	}, runner, objects, &http.Client{}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media acquirer: %w", err)
	}

	s.Engine, err = asr.New(EngineConfig(&cfg.ASR), asr.Deps{
		Runner:     runner,
		Objects:    engineObjects,
		HTTPClient: &http.Client{},
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize speech engine: %w", err)
	}

	captions := youtube.NewCaptionClient(s.Acquirer, &http.Client{Timeout: 30 * time.Second}, cfg.YouTube.Languages, log)

	// Step 4: Orchestrator
	s.Orchestrator = transcription.New(transcription.Config{
		SyncCeiling:   cfg.Jobs.SyncCeiling,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
	}, captions, s.Acquirer, s.Engine, s.Store, log)

	log.Info("Services initialized",
		slog.String("jobs_backend", cfg.Jobs.Backend),
		slog.String("jobs_queue", cfg.Jobs.Queue),
		slog.String("asr_provider", cfg.ASR.Provider),
		slog.Bool("object_storage", s.Objects != nil),
	)
	return s, nil
}

// NewWorker creates a worker pool that runs jobs through the orchestrator.
func (s *Services) NewWorker(cfg *config.WorkerConfig, concurrency int) *worker.Worker {
	return worker.NewWorker(&worker.Config{
		Logger:            s.Logger,
		Store:             s.Store,
		Runner:            s.Orchestrator,
		WorkerID:          cfg.ID,
		Concurrency:       concurrency,
		JobTimeout:        cfg.JobTimeout,
		PollInterval:      cfg.PollInterval,
		ErrorBackoff:      cfg.ErrorBackoff,
		HeartbeatInterval: cfg.HeartbeatInterval,
		JanitorInterval:   cfg.JanitorInterval,
	})
}

// WarmupEngine loads the speech model ahead of the first request when the
// engine supports it. A failure is logged; the engine retries on next use.
func (s *Services) WarmupEngine(ctx context.Context) {
	w, ok := s.Engine.(interface{ Warmup(context.Context) error })
	if !ok {
		return
	}
	start := time.Now()
	if err := w.Warmup(ctx); err != nil {
		s.Logger.Warn("Speech engine warmup failed", slog.String("error", err.Error()))
		return
	}
	s.Logger.Info("Speech engine ready", slog.Duration("elapsed", time.Since(start)))
}

// Components lists the health checks exposed by /v1/health.
func (s *Services) Components() []handler.Component {
	components := []handler.Component{
		{Name: "store", Checker: s.Records},
		{Name: "queue", Checker: s.Queue},
		{Name: "engine", Checker: s.Engine},
	}
	if s.Objects != nil {
		components = append(components, handler.Component{Name: "storage", Checker: s.Objects})
	}
	return components
}

// Close waits for pending webhook deliveries and closes the clients.
func (s *Services) Close() {
	if s.Store != nil {
		s.Store.Wait()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.Logger.Warn("Failed to close database", slog.String("error", err.Error()))
		}
	}
	if s.Rabbit != nil {
		if err := s.Rabbit.Close(); err != nil {
			s.Logger.Warn("Failed to close RabbitMQ", slog.String("error", err.Error()))
		}
	}
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// InitObjectStore initializes the S3-compatible media store
func InitObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Client, error) {
	return objectstore.NewClient(ctx, logger,
		objectstore.WithEndpoint(cfg.Endpoint),
		objectstore.WithBucket(cfg.Bucket),
		objectstore.WithRegion(cfg.Region),
		objectstore.WithCredentials(cfg.AccessKey, cfg.SecretKey),
		objectstore.WithSSL(cfg.UseSSL),
	)
}

// EngineConfig maps the asr section onto the engine factory config.
func EngineConfig(cfg *config.ASRConfig) asr.Config {
	return asr.Config{
		Provider: cfg.Provider,
		Local: asr.LocalConfig{
			WhisperPath: cfg.Local.WhisperPath,
			FFmpegPath:  cfg.Local.FFmpegPath,
			ModelPath:   cfg.Local.ModelPath,
			ModelName:   cfg.Local.ModelName,
			Threads:     cfg.Local.Threads,
			WorkDir:     cfg.Local.WorkDir,
		},
		OpenAI: asr.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		},
		Runpod: asr.RunpodConfig{
			APIKey:        cfg.Runpod.APIKey,
			EndpointID:    cfg.Runpod.EndpointID,
			BaseURL:       cfg.Runpod.BaseURL,
			Model:         cfg.Runpod.Model,
			PollInterval:  cfg.Runpod.PollInterval,
			Timeout:       cfg.Runpod.Timeout,
			PresignExpiry: cfg.Runpod.PresignExpiry,
		},
	}
}
