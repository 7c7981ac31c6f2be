// Package config assembles daemon configuration from, in increasing
// precedence: defaults, an optional YAML file, a .env file, environment
// variables, and command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds orchestration engine settings.
type EngineConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	Timezone              string        `yaml:"timezone"`
	MaxFailureRatePercent float64       `yaml:"max_failure_rate_percent"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	RetentionDays         int           `yaml:"retention_days"`
}

// AgentConfig describes one entry of the agent pool.
type AgentConfig struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

// NotifyConfig holds failure notification settings.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Config holds all runtime configuration for the daemon.
type Config struct {
	Server      ServerConfig  `yaml:"server"`
	Log         LogConfig     `yaml:"log"`
	Engine      EngineConfig  `yaml:"engine"`
	Notify      NotifyConfig  `yaml:"notify"`
	Agents      []AgentConfig `yaml:"agents"`
	Mode        string        `yaml:"mode"`
	ArchivePath string        `yaml:"archive_path"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

const (
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultTickInterval  = time.Second
	defaultMaxFailure    = 25.0
	defaultMaxConcurrent = 4
	defaultRetentionDays = 30
	defaultMode          = "http"
	defaultShutdownGrace = 5 * time.Second
)

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: defaultAddr},
		Log:    LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Engine: EngineConfig{
			TickInterval:          defaultTickInterval,
			Timezone:              "UTC",
			MaxFailureRatePercent: defaultMaxFailure,
			MaxConcurrent:         defaultMaxConcurrent,
			RetentionDays:         defaultRetentionDays,
		},
		Mode:          defaultMode,
		ShutdownGrace: defaultShutdownGrace,
	}
}

// getEnvString returns the environment variable value or default.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvFloat returns the environment variable as float64 or default.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse builds the daemon configuration.
// Priority: CLI flags > environment variables > .env file > YAML file > defaults.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("agentflowd", flag.ContinueOnError)
	var (
		configPath    = fs.String("config", "", "Path to YAML config file")
		addr          = fs.String("addr", "", "HTTP listen address (overrides env)")
		mode          = fs.String("mode", "", "Serving mode: http, mcp, or both")
		logLevel      = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat     = fs.String("log-format", "", "Log format (text or json)")
		tickInterval  = fs.Duration("tick-interval", 0, "Scheduler tick interval")
		timezone      = fs.String("timezone", "", "Reference timezone for daily stats and cron defaults")
		archivePath   = fs.String("archive-path", "", "SQLite file receiving cleaned-up tasks (empty disables archival)")
		retentionDays = fs.Int("retention-days", 0, "Days to keep terminal tasks before cleanup")
		shutdownGrace = fs.Duration("shutdown-grace", 0, "Grace period when shutting down")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	cfg := defaults()

	yamlPath := *configPath
	if yamlPath == "" {
		yamlPath = os.Getenv("AGENTFLOW_CONFIG")
	}
	if yamlPath != "" {
		if err := loadYAML(yamlPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	// CLI flags take precedence over everything.
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *tickInterval > 0 {
		cfg.Engine.TickInterval = *tickInterval
	}
	if *timezone != "" {
		cfg.Engine.Timezone = *timezone
	}
	if *archivePath != "" {
		cfg.ArchivePath = *archivePath
	}
	if *retentionDays > 0 {
		cfg.Engine.RetentionDays = *retentionDays
	}
	if *shutdownGrace > 0 {
		cfg.ShutdownGrace = *shutdownGrace
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnvString("AGENTFLOW_ADDR", cfg.Server.Addr)
	cfg.Server.AuthToken = getEnvString("AGENTFLOW_AUTH_TOKEN", cfg.Server.AuthToken)
	cfg.Log.Level = getEnvString("AGENTFLOW_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvString("AGENTFLOW_LOG_FORMAT", cfg.Log.Format)
	cfg.Engine.TickInterval = getEnvDuration("AGENTFLOW_TICK_INTERVAL", cfg.Engine.TickInterval)
	cfg.Engine.Timezone = getEnvString("AGENTFLOW_TIMEZONE", cfg.Engine.Timezone)
	cfg.Engine.MaxFailureRatePercent = getEnvFloat("AGENTFLOW_MAX_FAILURE_RATE", cfg.Engine.MaxFailureRatePercent)
	cfg.Engine.MaxConcurrent = getEnvInt("AGENTFLOW_MAX_CONCURRENT", cfg.Engine.MaxConcurrent)
	cfg.Engine.RetentionDays = getEnvInt("AGENTFLOW_RETENTION_DAYS", cfg.Engine.RetentionDays)
	cfg.Notify.WebhookURL = getEnvString("AGENTFLOW_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Mode = getEnvString("AGENTFLOW_MODE", cfg.Mode)
	cfg.ArchivePath = getEnvString("AGENTFLOW_ARCHIVE_PATH", cfg.ArchivePath)
	cfg.ShutdownGrace = getEnvDuration("AGENTFLOW_SHUTDOWN_GRACE", cfg.ShutdownGrace)
}

func validate(cfg *Config) error {
	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return fmt.Errorf("invalid mode %q: must be http, mcp, or both", cfg.Mode)
	}
	if cfg.Engine.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", cfg.Engine.TickInterval)
	}
	if cfg.Engine.RetentionDays < 1 {
		cfg.Engine.RetentionDays = defaultRetentionDays
	}
	if _, err := time.LoadLocation(cfg.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Engine.Timezone, err)
	}
	for _, a := range cfg.Agents {
		if strings.TrimSpace(a.Type) == "" {
			return fmt.Errorf("agent pool entry missing type")
		}
	}
	return nil
}
