// Package config defines every ocrbase setting.
package config

import (
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/ocrbase/infrastructure/config"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/infrastructure/profiling"
	infraredis "github.com/jonesrussell/ocrbase/infrastructure/redis"
	"github.com/jonesrussell/ocrbase/internal/database"
	"github.com/jonesrussell/ocrbase/internal/filestore"
	"github.com/jonesrussell/ocrbase/internal/job"
	"github.com/jonesrussell/ocrbase/internal/llm"
	"github.com/jonesrussell/ocrbase/internal/ocr"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	ProviderAnthropic = llm.ProviderAnthropic

	defaultServiceName     = "ocrbase"
	defaultVersion         = "dev"
	defaultEnvironment     = "development"
	defaultPort            = 3000
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 120 * time.Second
	defaultDatabaseHost    = "localhost"
	defaultDatabasePort    = 5432
	defaultDatabaseUser    = "postgres"
	defaultDatabaseName    = "ocrbase"
	defaultRedisAddress    = "localhost:6379"
	defaultSessionCookie   = "ocrbase.session_token"
	defaultJWTIssuer       = "ocrbase"
	defaultRateLimit       = 100
	defaultRateWindow      = time.Minute
	defaultQueueSize       = 1000
	defaultLockTTL         = 30 * time.Second
	minJWTSecretLength     = 32
	defaultRealtimeBuffer  = 16
	defaultPprofAddr       = "localhost:6060"
	defaultOCRRequestsRate = 5
)

type Config struct {
	Service   ServiceConfig      `yaml:"service"`
	Database  database.Config    `yaml:"database"`
	Redis     RedisConfig        `yaml:"redis"`
	Auth      AuthConfig         `yaml:"auth"`
	CORS      CORSConfig         `yaml:"cors"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
	Worker    WorkerConfig       `yaml:"worker"`
	Realtime  RealtimeConfig     `yaml:"realtime"`
	OCR       ocr.Config         `yaml:"ocr"`
	LLM       LLMConfig          `yaml:"llm"`
	Storage   filestore.Config   `yaml:"storage"`
	Logging   infralogger.Config `yaml:"logging"`
	Profiling profiling.Config   `yaml:"profiling"`
}

// ServiceConfig names the running process. Everything but Port and the
// timeouts is reported on each wide event.
type ServiceConfig struct {
	Name         string        `env:"SERVICE_NAME"    yaml:"name"`
	Version      string        `env:"SERVICE_VERSION" yaml:"version"`
	Port         int           `env:"PORT"            yaml:"port"`
	Debug        bool          `env:"APP_DEBUG"       yaml:"debug"`
	Environment  string        `env:"APP_ENV"         yaml:"environment"`
	Commit       string        `env:"COMMIT_SHA"      yaml:"commit"`
	Region       string        `env:"REGION"          yaml:"region"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig is only dialed when Enabled.
type RedisConfig struct {
	infraredis.Config `yaml:",inline"`

	Enabled bool `env:"REDIS_ENABLED" yaml:"enabled"`
}

type AuthConfig struct {
	SessionCookie string `env:"SESSION_COOKIE_NAME" yaml:"session_cookie"`
	JWTSecret     string `env:"AUTH_JWT_SECRET"     json:"-" yaml:"jwt_secret"`
	JWTIssuer     string `env:"AUTH_JWT_ISSUER"     yaml:"jwt_issuer"`
}

type CORSConfig struct {
	Origins []string `env:"CORS_ORIGINS" yaml:"origins"`
}

type RateLimitConfig struct {
	Driver string        `env:"RATE_LIMIT_DRIVER" yaml:"driver"`
	Limit  int           `env:"RATE_LIMIT_MAX"    yaml:"limit"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW" yaml:"window"`
}

type WorkerConfig struct {
	Concurrency   int           `env:"WORKER_CONCURRENCY" yaml:"concurrency"`
	QueueDriver   string        `env:"QUEUE_DRIVER"       yaml:"queue_driver"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `env:"JOB_MAX_RETRIES"    yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	StallTimeout  time.Duration `env:"JOB_STALL_TIMEOUT"  yaml:"stall_timeout"`
	PendingDelay  time.Duration `yaml:"pending_delay"`
	ReapSchedule  string        `yaml:"reap_schedule"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	MaxFileSize   int64         `env:"MAX_FILE_SIZE"      yaml:"max_file_size"`
}

type RealtimeConfig struct {
	AllowedOrigins []string `env:"REALTIME_ALLOWED_ORIGINS" yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
}

// LLMConfig enables structured extraction when APIKey is set.
type LLMConfig struct {
	llm.Config `yaml:",inline"`

	Provider string `env:"LLM_PROVIDER" yaml:"provider"`
}

// Enabled reports whether extract jobs with a schema can be served.
func (c LLMConfig) Enabled() bool { return c.APIKey != "" }

// Load reads path, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults(path, setDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.resolve()

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// resolve derives settings that environment overrides can change.
func (c *Config) resolve() {
	if c.OCR.TimeoutMs > 0 {
		c.OCR.Timeout = time.Duration(c.OCR.TimeoutMs) * time.Millisecond
	}
}

// Validate returns the first *infraconfig.ValidationError found.
func (c *Config) Validate() error {
	checks := []error{
		infraconfig.ValidateRequired("service.name", c.Service.Name),
		infraconfig.ValidatePort("service.port", c.Service.Port),
		infraconfig.ValidateRequired("database.host", c.Database.Host),
		infraconfig.ValidatePort("database.port", c.Database.Port),
		infraconfig.ValidateRequired("database.user", c.Database.User),
		infraconfig.ValidateRequired("database.database", c.Database.DBName),
		c.validateAuth(),
		infraconfig.ValidateOneOf("rate_limit.driver", c.RateLimit.Driver, DriverMemory, DriverRedis),
		infraconfig.ValidatePositive("rate_limit.limit", c.RateLimit.Limit),
		infraconfig.ValidateOneOf("worker.queue_driver", c.Worker.QueueDriver, DriverMemory, DriverRedis),
		infraconfig.ValidatePositive("worker.concurrency", c.Worker.Concurrency),
		infraconfig.ValidatePositive("worker.max_retries", c.Worker.MaxRetries),
		c.validateRedisDrivers(),
		infraconfig.ValidateOneOf("llm.provider", c.LLM.Provider, ProviderAnthropic),
		infraconfig.ValidateOneOf("storage.backend", c.Storage.Backend, filestore.BackendLocal, filestore.BackendGCS),
		c.validateStorage(),
		infraconfig.ValidateLogLevel("logging.level", c.Logging.Level),
		infraconfig.ValidateOneOf("logging.format", c.Logging.Format, "json", "console"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAuth() error {
	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return &infraconfig.ValidationError{
			Field:   "auth.jwt_secret",
			Message: fmt.Sprintf("must be at least %d characters", minJWTSecretLength),
		}
	}
	return nil
}

func (c *Config) validateRedisDrivers() error {
	if c.Redis.Enabled {
		return infraconfig.ValidateRequired("redis.address", c.Redis.Address)
	}
	if c.RateLimit.Driver == DriverRedis {
		return &infraconfig.ValidationError{Field: "rate_limit.driver", Message: "redis driver requires redis.enabled"}
	}
	if c.Worker.QueueDriver == DriverRedis {
		return &infraconfig.ValidationError{Field: "worker.queue_driver", Message: "redis driver requires redis.enabled"}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Backend == filestore.BackendGCS {
		return infraconfig.ValidateRequired("storage.bucket", c.Storage.Bucket)
	}
	return nil
}

// WorkerDriverRedis reports whether jobs and their events cross processes.
func (c *Config) WorkerDriverRedis() bool { return c.Worker.QueueDriver == DriverRedis }

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.Auth.SessionCookie == "" {
		cfg.Auth.SessionCookie = defaultSessionCookie
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = defaultJWTIssuer
	}

	if cfg.RateLimit.Driver == "" {
		cfg.RateLimit.Driver = DriverMemory
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = defaultRateLimit
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}

	setWorkerDefaults(&cfg.Worker)

	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = defaultRealtimeBuffer
	}
	if len(cfg.Realtime.AllowedOrigins) == 0 {
		cfg.Realtime.AllowedOrigins = cfg.CORS.Origins
	}

	if cfg.OCR.TimeoutMs == 0 && cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = ocr.DefaultTimeout
	}
	if cfg.OCR.RequestsPerSecond == 0 {
		cfg.OCR.RequestsPerSecond = defaultOCRRequestsRate
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderAnthropic
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = filestore.BackendLocal
	}
	if cfg.Storage.Directory == "" {
		cfg.Storage.Directory = filestore.DefaultDirectory
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Service.Debug {
		cfg.Logging.Development = true
	}

	if cfg.Profiling.PprofAddr == "" {
		cfg.Profiling.PprofAddr = defaultPprofAddr
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultVersion
	}
	if s.Port == 0 {
		s.Port = defaultPort
	}
	if s.Environment == "" {
		s.Environment = defaultEnvironment
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
}

func setDatabaseDefaults(d *database.Config) {
	if d.Host == "" {
		d.Host = defaultDatabaseHost
	}
	if d.Port == 0 {
		d.Port = defaultDatabasePort
	}
	if d.User == "" {
		d.User = defaultDatabaseUser
	}
	if d.DBName == "" {
		d.DBName = defaultDatabaseName
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
}

func setWorkerDefaults(w *WorkerConfig) {
	if w.Concurrency == 0 {
		w.Concurrency = job.DefaultConcurrency
	}
	if w.QueueDriver == "" {
		w.QueueDriver = DriverMemory
	}
	if w.QueueSize <= 0 {
		w.QueueSize = defaultQueueSize
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = job.DefaultMaxRetries
	}
	if w.RetryDelay <= 0 {
		w.RetryDelay = job.DefaultRetryDelay
	}
	if w.StallTimeout <= 0 {
		w.StallTimeout = job.DefaultStallTimeout
	}
	if w.PendingDelay <= 0 {
		w.PendingDelay = job.DefaultPendingDelay
	}
	if w.ReapSchedule == "" {
		w.ReapSchedule = job.DefaultReapSchedule
	}
	if w.LockTTL <= 0 {
		w.LockTTL = defaultLockTTL
	}
	if w.ShutdownGrace <= 0 {
		w.ShutdownGrace = job.DefaultShutdownGrace
	}
	if w.MaxFileSize <= 0 {
		w.MaxFileSize = job.DefaultMaxFileSize
	}
}
