// Package config provides the configuration structure for the music-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/music-service/internal/core"
)

// Model backends.
const (
	BackendHTTP = "http"
	BackendExec = "exec"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageNATS  = "nats"
	StorageS3    = "s3"
)

// Defaults.
const (
	defaultModelName      = "facebook/musicgen-small"
	defaultServiceURL     = "http://127.0.0.1:8000"
	defaultBinaryPath     = "musicgen"
	defaultTopK           = 250
	defaultSampleRate     = 32000
	defaultTimeoutSeconds = 300
	defaultPollIntervalMS = 500
	defaultAudioDir       = "audio_output"
	defaultListenAddr     = ":8080"
	defaultLogsDir        = "logs"
	defaultRequestSubject = "music.requested"
	defaultAudioBucket    = "MUSIC_ASSETS"

	dirPermissions = 0o750
)

// Validation errors.
var (
	ErrUnknownBackend    = errors.New("unknown model backend")
	ErrUnknownStorage    = errors.New("unknown storage backend")
	ErrModelNameEmpty    = errors.New("model name cannot be empty")
	ErrDurationBounds    = errors.New("min duration must be >= 1 and <= max duration")
	ErrTopKNegative      = errors.New("top_k must be non-negative")
	ErrS3BucketEmpty     = errors.New("s3 bucket cannot be empty")
	ErrNATSURLRequired   = errors.New("nats url is required for nats storage")
	ErrServiceURLMissing = errors.New("service url is required for the http backend")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	MusicRequestedSubject  string `toml:"music_requested_subject"`
	MusicProgressSubject   string `toml:"music_progress_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// MusicServiceConfig holds the model gateway and generation policy configuration.
type MusicServiceConfig struct {
	Backend            string `toml:"backend"`
	ServiceURL         string `toml:"service_url"`
	BinaryPath         string `toml:"binary_path"`
	ModelName          string `toml:"model_name"`
	TopK               int    `toml:"top_k"`
	SampleRate         int    `toml:"sample_rate"`
	MinDurationSeconds int    `toml:"min_duration_seconds"`
	MaxDurationSeconds int    `toml:"max_duration_seconds"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	PollIntervalMS     int    `toml:"poll_interval_ms"`
}

// StorageConfig selects and configures the asset store.
type StorageConfig struct {
	Backend           string `toml:"backend"`
	AudioDir          string `toml:"audio_dir"`
	S3Bucket          string `toml:"s3_bucket"`
	S3Prefix          string `toml:"s3_prefix"`
	S3Region          string `toml:"s3_region"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3AccessKeyID     string `toml:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key"`
}

// HTTPConfig holds the HTTP API configuration.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig         `toml:"nats"`
	Music   MusicServiceConfig `toml:"music_service"`
	Storage StorageConfig      `toml:"storage"`
	HTTP    HTTPConfig         `toml:"http"`
	Paths   PathsConfig        `toml:"paths"`
}

// Load loads the configuration for the music-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads the configuration from a TOML file on disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.Music.Backend, BackendHTTP)
	setString(&c.Music.ServiceURL, defaultServiceURL)
	setString(&c.Music.BinaryPath, defaultBinaryPath)
	setString(&c.Music.ModelName, defaultModelName)
	setInt(&c.Music.TopK, defaultTopK)
	setInt(&c.Music.SampleRate, defaultSampleRate)
	setInt(&c.Music.MinDurationSeconds, core.DefaultMinDurationSeconds)
	setInt(&c.Music.MaxDurationSeconds, core.DefaultMaxDurationSeconds)
	setInt(&c.Music.TimeoutSeconds, defaultTimeoutSeconds)
	setInt(&c.Music.PollIntervalMS, defaultPollIntervalMS)

	setString(&c.Storage.Backend, StorageLocal)
	setString(&c.Storage.AudioDir, defaultAudioDir)

	setString(&c.NATS.MusicRequestedSubject, defaultRequestSubject)
	setString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)

	setString(&c.HTTP.ListenAddr, defaultListenAddr)
	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Music.Backend {
	case BackendHTTP:
		if c.Music.ServiceURL == "" {
			return ErrServiceURLMissing
		}
	case BackendExec:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Music.Backend)
	}

	if c.Music.ModelName == "" {
		return ErrModelNameEmpty
	}

	if c.Music.TopK < 0 {
		return fmt.Errorf("%w: got %d", ErrTopKNegative, c.Music.TopK)
	}

	if c.Music.MinDurationSeconds < 1 || c.Music.MinDurationSeconds > c.Music.MaxDurationSeconds {
		return fmt.Errorf("%w: got %d..%d", ErrDurationBounds, c.Music.MinDurationSeconds, c.Music.MaxDurationSeconds)
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageNATS:
		if c.NATS.URL == "" {
			return ErrNATSURLRequired
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return ErrS3BucketEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorage, c.Storage.Backend)
	}

	return nil
}

// EnsureDirectories creates the log and local audio directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.BaseLogsDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.AudioDir)
	}

	for _, dir := range dirs {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	return nil
}

// DurationLimits returns the configured duration policy.
func (c *Config) DurationLimits() core.DurationLimits {
	return core.DurationLimits{
		MinSeconds: c.Music.MinDurationSeconds,
		MaxSeconds: c.Music.MaxDurationSeconds,
	}
}

// Timeout returns the per-request generation timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Music.TimeoutSeconds) * time.Second
}

// PollInterval returns the HTTP backend task polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Music.PollIntervalMS) * time.Millisecond
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field == 0 {
		*field = fallback
	}
}
