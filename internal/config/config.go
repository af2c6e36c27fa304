package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every secret read from the environment.
	EnvPrefix = "TRANSCRIBER"
)

// Job store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Jobs     JobsConfig     `yaml:"jobs"`
	ASR      ASRConfig      `yaml:"asr"`
	Media    MediaConfig    `yaml:"media"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	// InlineWorkers runs that many job workers inside the API process.
	InlineWorkers int `yaml:"inline_workers"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	JanitorInterval   time.Duration `yaml:"janitor_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// JobsConfig selects the job store backends and lifetimes
type JobsConfig struct {
	Backend            string        `yaml:"backend"`
	Queue              string        `yaml:"queue"`
	TTL                time.Duration `yaml:"ttl"`
	TombstoneRetention time.Duration `yaml:"tombstone_retention"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	SyncCeiling        time.Duration `yaml:"sync_ceiling"`
	MaxConcurrent      int           `yaml:"max_concurrent"`
}

// ASRConfig selects and configures the speech recognition provider
type ASRConfig struct {
	Provider string          `yaml:"provider"`
	Local    LocalASRConfig  `yaml:"local"`
	OpenAI   OpenAIASRConfig `yaml:"openai"`
	Runpod   RunpodASRConfig `yaml:"runpod"`
}

type LocalASRConfig struct {
	WhisperPath string `yaml:"whisper_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	ModelPath   string `yaml:"model_path"`
	ModelName   string `yaml:"model_name"`
	Threads     int    `yaml:"threads"`
	WorkDir     string `yaml:"work_dir"`
}

type OpenAIASRConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RunpodASRConfig struct {
	APIKey        string        `yaml:"api_key"`
	EndpointID    string        `yaml:"endpoint_id"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// MediaConfig holds scratch storage and download settings
type MediaConfig struct {
	TempDir         string        `yaml:"temp_dir"`
	HandoffDir      string        `yaml:"handoff_dir"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	YTDLPPath       string        `yaml:"ytdlp_path"`
	FFprobePath     string        `yaml:"ffprobe_path"`
	UserAgent       string        `yaml:"user_agent"`
}

// MaxUploadBytes converts the configured limit, 0 meaning unlimited.
func (m MediaConfig) MaxUploadBytes() int64 {
	return m.MaxUploadMB * 1024 * 1024
}

// YouTubeConfig holds caption lookup settings
type YouTubeConfig struct {
	Languages []string `yaml:"languages"`
}

// StorageConfig holds the S3-compatible object store used for media
// hand-off and presigned engine inputs. Disabled means local files only.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// AuthConfig holds API key and rate limit settings
type AuthConfig struct {
	APIKeys    []string      `yaml:"api_keys"`
	DevMode    bool          `yaml:"dev_mode"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// Secrets are overlaid from TRANSCRIBER_* environment variables so they can
// stay out of the YAML file.
type Secrets struct {
	APIKeys          []string `envconfig:"API_KEYS"`
	OpenAIAPIKey     string   `envconfig:"OPENAI_API_KEY"`
	RunpodAPIKey     string   `envconfig:"RUNPOD_API_KEY"`
	StorageAccessKey string   `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string   `envconfig:"STORAGE_SECRET_KEY"`
	DatabasePassword string   `envconfig:"DB_PASSWORD"`
	RabbitMQPassword string   `envconfig:"RABBITMQ_PASSWORD"`
}

// Load reads and parses the configuration file, fills defaults and applies
// secrets from the environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	var secrets Secrets
	if err := envconfig.Process(EnvPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	config.applySecrets(secrets)

	return &config, nil
}

func (c *Config) applyDefaults() {
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.App.Name, "transcriber")
	setString(&c.App.Environment, "development")

	setString(&c.Jobs.Backend, BackendMemory)
	setString(&c.Jobs.Queue, BackendMemory)
	setDuration(&c.Jobs.TTL, 24*time.Hour)
	setDuration(&c.Jobs.TombstoneRetention, 7*24*time.Hour)
	setDuration(&c.Jobs.WebhookTimeout, 30*time.Second)
	setDuration(&c.Jobs.SyncCeiling, 600*time.Second)

	setInt(&c.Worker.Concurrency, 1)
	setDuration(&c.Worker.JobTimeout, 2*time.Hour)
	setDuration(&c.Worker.PollInterval, time.Second)
	setDuration(&c.Worker.ErrorBackoff, 5*time.Second)
	setDuration(&c.Worker.HeartbeatInterval, time.Minute)
	setDuration(&c.Worker.JanitorInterval, 10*time.Minute)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	setString(&c.ASR.Provider, "local")
	setString(&c.ASR.Local.ModelName, "base")

	setString(&c.Media.TempDir, "/tmp/transcriber")
	if c.Media.MaxUploadMB == 0 {
		c.Media.MaxUploadMB = 500
	}

	if c.Auth.RateLimit == 0 {
		c.Auth.RateLimit = 100
	}
	setDuration(&c.Auth.RateWindow, 60*time.Second)
}

func (c *Config) applySecrets(s Secrets) {
	if len(s.APIKeys) > 0 {
		c.Auth.APIKeys = s.APIKeys
	}
	overrideString(&c.ASR.OpenAI.APIKey, s.OpenAIAPIKey)
	overrideString(&c.ASR.Runpod.APIKey, s.RunpodAPIKey)
	overrideString(&c.Storage.AccessKey, s.StorageAccessKey)
	overrideString(&c.Storage.SecretKey, s.StorageSecretKey)
	overrideString(&c.Database.Password, s.DatabasePassword)
	overrideString(&c.RabbitMQ.Password, s.RabbitMQPassword)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

// UsesPostgres reports whether the record store needs a database.
func (c *Config) UsesPostgres() bool {
	return c.Jobs.Backend == BackendPostgres
}

// UsesRabbitMQ reports whether the queue needs a broker.
func (c *Config) UsesRabbitMQ() bool {
	return c.Jobs.Queue == BackendRabbitMQ
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if !c.Auth.DevMode && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("at least one api key is required unless auth.dev_mode is set")
	}

	if c.Auth.RateLimit < 0 {
		return fmt.Errorf("auth rate_limit must not be negative")
	}

	if c.Media.MaxUploadMB < 0 {
		return fmt.Errorf("media max_upload_mb must not be negative")
	}

	if c.Jobs.SyncCeiling <= 0 {
		return fmt.Errorf("jobs sync_ceiling must be greater than 0")
	}

	if c.App.InlineWorkers < 0 {
		return fmt.Errorf("app inline_workers must not be negative")
	}

	if c.App.InlineWorkers > 0 {
		if err := c.validateWorker(); err != nil {
			return err
		}
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateWorker(); err != nil {
		return err
	}

	if c.Jobs.Backend == BackendMemory || c.Jobs.Queue == BackendMemory {
		return fmt.Errorf("a standalone worker needs shared backends (jobs.backend=postgres, jobs.queue=rabbitmq)")
	}

	return c.validateShared()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateShared() error {
	switch c.Jobs.Backend {
	case BackendMemory:
	case BackendPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown jobs backend: %q", c.Jobs.Backend)
	}

	switch c.Jobs.Queue {
	case BackendMemory:
	case BackendRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown jobs queue: %q", c.Jobs.Queue)
	}

	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("jobs ttl must be greater than 0")
	}

	switch c.ASR.Provider {
	case "local":
	case "openai":
		if c.ASR.OpenAI.APIKey == "" {
			return fmt.Errorf("asr openai api_key is required")
		}
	case "runpod":
		if c.ASR.Runpod.APIKey == "" || c.ASR.Runpod.EndpointID == "" {
			return fmt.Errorf("asr runpod api_key and endpoint_id are required")
		}
		if !c.Storage.Enabled {
			return fmt.Errorf("asr runpod requires storage to be enabled")
		}
	default:
		return fmt.Errorf("unknown asr provider: %q", c.ASR.Provider)
	}

	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage endpoint and bucket are required when storage is enabled")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
