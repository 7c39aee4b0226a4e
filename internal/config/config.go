package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/MimeLyc/cloudml-magic/pkg/icron"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// EnvPrefix is prepended to every environment variable read by NewFromEnv.
const EnvPrefix = "MLMAGIC_"

// Config holds all application configuration.
//
// Environment Variables (all prefixed with MLMAGIC_):
// API Configuration:
// - ML_API_URL: training job API base URL (default: https://ml.googleapis.com)
// - LOGGING_API_URL: log query API base URL (default: https://logging.googleapis.com)
// - API_TIMEOUT: per request timeout (default: 30s)
// - ACCESS_TOKEN: static bearer token, bypasses application default credentials
//
// Tool Configuration:
// - PACKAGER_CMD: interpreter used for `setup.py sdist` (default: python)
// - UPLOADER_CMD: storage copy tool (default: gsutil)
// - INTERPRETER_CMD: interpreter for local runs (default: python3)
// - LOCAL_EXEC: run fragments locally for feedback (default: true)
//
// Session Configuration:
// - STAGING_ROOT: parent of per-job staging directories (default: os.TempDir())
// - SESSION_DB: sqlite session store (default: $HOME/.mlmagic/sessions.db)
//
// Job Defaults:
// - DEFAULT_REGION (default: us-central1)
// - DEFAULT_SCALE_TIER (default: BASIC)
// - DEFAULT_RUNTIME_VERSION (default: 1.15)
//
// Log Tail:
// - POLL_SCHEDULE: cron expression driving log polls (default: @every 1s)
// - LOG_RESOURCE_TYPE: monitored resource type of job logs (default: ml_job)
//
// Logging:
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: write logs to this file instead of stderr
type Config struct {
	API      APIConfig
	Tools    ToolsConfig
	Session  SessionConfig
	Defaults DefaultsConfig
	Tail     TailConfig
	Log      LogConfig
}

type APIConfig struct {
	MLURL       string        `env:"ML_API_URL" envDefault:"https://ml.googleapis.com"`
	LoggingURL  string        `env:"LOGGING_API_URL" envDefault:"https://logging.googleapis.com"`
	Timeout     time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
	AccessToken string        `env:"ACCESS_TOKEN"`
}

type ToolsConfig struct {
	PackagerCmd    string `env:"PACKAGER_CMD" envDefault:"python"`
	UploaderCmd    string `env:"UPLOADER_CMD" envDefault:"gsutil"`
	InterpreterCmd string `env:"INTERPRETER_CMD" envDefault:"python3"`
	LocalExec      bool   `env:"LOCAL_EXEC" envDefault:"true"`
}

type SessionConfig struct {
	StagingRoot string `env:"STAGING_ROOT"`
	DBPath      string `env:"SESSION_DB"`
}

// DefaultsConfig fills settings the user left out of the init command.
type DefaultsConfig struct {
	Region         string `env:"DEFAULT_REGION" envDefault:"us-central1"`
	ScaleTier      string `env:"DEFAULT_SCALE_TIER" envDefault:"BASIC"`
	RuntimeVersion string `env:"DEFAULT_RUNTIME_VERSION" envDefault:"1.15"`
}

type TailConfig struct {
	PollSchedule string `env:"POLL_SCHEDULE" envDefault:"@every 1s"`
	ResourceType string `env:"LOG_RESOURCE_TYPE" envDefault:"ml_job"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	File  string `env:"LOG_FILE"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithStagingRoot(dir string) Option {
	return func(c *Config) {
		c.Session.StagingRoot = dir
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.Session.DBPath = path
	}
}

func WithAPIURLs(mlURL, loggingURL string) Option {
	return func(c *Config) {
		c.API.MLURL = mlURL
		c.API.LoggingURL = loggingURL
	}
}

// NewFromEnv loads an optional .env file, parses the environment and applies options.
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	config := &Config{}
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for _, opt := range opts {
		opt(config)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: ml=%s logging=%s staging=%s db=%s poll=%q",
		config.API.MLURL, config.API.LoggingURL, config.Session.StagingRoot,
		config.Session.DBPath, config.Tail.PollSchedule)

	return config, nil
}

func (c *Config) applyDefaults() {
	c.API.MLURL = strings.TrimRight(c.API.MLURL, "/")
	c.API.LoggingURL = strings.TrimRight(c.API.LoggingURL, "/")
	if strings.TrimSpace(c.Session.StagingRoot) == "" {
		c.Session.StagingRoot = os.TempDir()
	}
	if strings.TrimSpace(c.Session.DBPath) == "" {
		c.Session.DBPath = defaultDBPath()
	}
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.API.MLURL == "" {
		return fmt.Errorf("%sML_API_URL is required", EnvPrefix)
	}
	if c.API.LoggingURL == "" {
		return fmt.Errorf("%sLOGGING_API_URL is required", EnvPrefix)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("%sAPI_TIMEOUT must be positive", EnvPrefix)
	}
	if strings.TrimSpace(c.Tools.PackagerCmd) == "" || strings.TrimSpace(c.Tools.UploaderCmd) == "" {
		return fmt.Errorf("packager and uploader commands are required")
	}
	if _, err := icron.ParseSchedule(c.Tail.PollSchedule); err != nil {
		return fmt.Errorf("%sPOLL_SCHEDULE: %w", EnvPrefix, err)
	}
	if _, err := NormalizeScaleTier(c.Defaults.ScaleTier); err != nil {
		return fmt.Errorf("%sDEFAULT_SCALE_TIER: %w", EnvPrefix, err)
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "mlmagic", "sessions.db")
	}
	return filepath.Join(home, ".mlmagic", "sessions.db")
}
