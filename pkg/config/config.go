// Package config defines the search configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultRegion       = "us-east-1"
	DefaultQueue        = "motif-search-queue"
	DefaultResultsTable = "motif-search-results"
	DefaultJobsTable    = "motif-search-jobs"
	// EnvPrefix namespaces environment overrides: GRANDISO_WORKER_BATCH_SIZE.
	EnvPrefix = "GRANDISO"
)

// Config is everything a CLI invocation needs. Backend references are URLs
// resolved by package backends; bare names mean SQS or DynamoDB.
type Config struct {
	Region   string `mapstructure:"region" validate:"required"`
	Profile  string `mapstructure:"profile"`
	Endpoint string `mapstructure:"endpoint"`

	Queue   string `mapstructure:"queue" validate:"required"`
	Results string `mapstructure:"results" validate:"required"`
	Jobs    string `mapstructure:"jobs" validate:"required"`
	Host    string `mapstructure:"host"`
	// Bucket is provisioned when set.
	Bucket string `mapstructure:"bucket"`

	Worker    WorkerConfig    `mapstructure:"worker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	BatchSize int `mapstructure:"batch_size" validate:"min=1,max=10"`
	// Lease is the visibility timeout of a received backbone. It must exceed
	// the slowest expansion or keep-alives must succeed.
	Lease         time.Duration `mapstructure:"lease" validate:"min=1s"`
	Wait          time.Duration `mapstructure:"wait" validate:"min=0,max=20s"`
	MaxDeliveries int           `mapstructure:"max_deliveries" validate:"min=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"min=1"`
	// MaxConcurrency caps AIMD growth.
	MaxConcurrency   int           `mapstructure:"max_concurrency" validate:"gtefield=Concurrency"`
	BatchParallelism int           `mapstructure:"batch_parallelism" validate:"min=1"`
	SeedConcurrency  int           `mapstructure:"seed_concurrency" validate:"min=1"`
	Inline           bool          `mapstructure:"inline"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"min=1ms"`
	// DrainWindow is how long the queue must stay empty before a run ends.
	// Zero picks a default for the queue backend.
	DrainWindow time.Duration `mapstructure:"drain_window" validate:"min=0"`
}

// CacheConfig sizes the host lookup cache. Size 0 disables it.
type CacheConfig struct {
	Size int64         `mapstructure:"size" validate:"min=0"`
	TTL  time.Duration `mapstructure:"ttl"`
	// JobTTL bounds how stale a worker's view of a job record may be.
	JobTTL time.Duration `mapstructure:"job_ttl" validate:"min=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type TelemetryConfig struct {
	// Endpoint of an OTLP/HTTP collector; empty discards spans.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"min=0,max=1"`
}

// Default returns a configuration with sensible default values.
func Default() Config {
	return Config{
		Region:  DefaultRegion,
		Queue:   DefaultQueue,
		Results: DefaultResultsTable,
		Jobs:    DefaultJobsTable,
		Worker: WorkerConfig{
			BatchSize:        10,
			Lease:            30 * time.Second,
			Wait:             time.Second,
			MaxDeliveries:    5,
			Concurrency:      4,
			MaxConcurrency:   64,
			BatchParallelism: 4,
			SeedConcurrency:  8,
			Inline:           true,
			PollInterval:     250 * time.Millisecond,
		},
		Cache: CacheConfig{
			Size:   100_000,
			TTL:    10 * time.Minute,
			JobTTL: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "grandiso",
		},
	}
}

var validate = validator.New()

// Validate checks ranges and required references.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s %s", strings.ToLower(fe.Namespace()), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// SetDefaults registers every key with v so environment variables and
// config files can override any of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("region", d.Region)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("queue", d.Queue)
	v.SetDefault("results", d.Results)
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("host", d.Host)
	v.SetDefault("bucket", d.Bucket)

	v.SetDefault("worker.batch_size", d.Worker.BatchSize)
	v.SetDefault("worker.lease", d.Worker.Lease)
	v.SetDefault("worker.wait", d.Worker.Wait)
	v.SetDefault("worker.max_deliveries", d.Worker.MaxDeliveries)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.max_concurrency", d.Worker.MaxConcurrency)
	v.SetDefault("worker.batch_parallelism", d.Worker.BatchParallelism)
	v.SetDefault("worker.seed_concurrency", d.Worker.SeedConcurrency)
	v.SetDefault("worker.inline", d.Worker.Inline)
	v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	v.SetDefault("worker.drain_window", d.Worker.DrainWindow)

	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.job_ttl", d.Cache.JobTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
}

// Load reads file (or ~/.grandiso.yaml when empty and present) and the
// GRANDISO_ environment into a validated Config. Flags bound to v with
// BindPFlag take precedence over both.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".grandiso")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &missing) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
