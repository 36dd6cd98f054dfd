// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	OCServer OCServerConfig `mapstructure:"ocserver"`
	Registry RegistryConfig `mapstructure:"registry"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// OCServerConfig holds the connection details for the host OCServer
// process the backend factory drives sessions against.
type OCServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BridgeConfig holds the worker-to-orchestrator HTTP/SSE bridge configuration.
type BridgeConfig struct {
	Host string `mapstructure:"host"`
	// Host and Port are range-checked by validate but not read by the bridge,
	// which always binds an OS-assigned port on 127.0.0.1.
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// RegistryConfig holds device registry configuration.
type RegistryConfig struct {
	Path           string `mapstructure:"path"`
	InstanceID     string `mapstructure:"instanceId"`
	PruneOnAccess  bool   `mapstructure:"pruneOnAccess"`
}

// WorkflowConfig holds default security limits applied to workflow runs
// that do not specify their own.
type WorkflowConfig struct {
	MaxSteps           int `mapstructure:"maxSteps"`
	MaxTaskChars       int `mapstructure:"maxTaskChars"`
	MaxCarryChars      int `mapstructure:"maxCarryChars"`
	DefaultStepTimeout int `mapstructure:"defaultStepTimeoutMs"`
}

// DatabaseConfig holds the sqlite connection used for paused workflow runs.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlpEndpoint"`
	ServiceName    string `mapstructure:"serviceName"`
}

// PerStepTimeout returns the default per-step timeout as a duration.
func (w *WorkflowConfig) PerStepTimeout() time.Duration {
	return time.Duration(w.DefaultStepTimeout) * time.Millisecond
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for local/terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("NODEFORGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nodeforge")
	}
	return filepath.Join(dir, "nodeforge")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", 0)
	v.SetDefault("bridge.token", "")

	v.SetDefault("ocserver.host", "127.0.0.1")
	v.SetDefault("ocserver.port", 4096)

	v.SetDefault("registry.path", filepath.Join(defaultConfigDir(), "device-registry.json"))
	v.SetDefault("registry.instanceId", "")
	v.SetDefault("registry.pruneOnAccess", true)

	v.SetDefault("workflow.maxSteps", 25)
	v.SetDefault("workflow.maxTaskChars", 20000)
	v.SetDefault("workflow.maxCarryChars", 20000)
	v.SetDefault("workflow.defaultStepTimeoutMs", 600000)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", filepath.Join(defaultConfigDir(), "workflow-runs.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlpEndpoint", "localhost:4318")
	v.SetDefault("tracing.serviceName", "nodeforge-orchestrator")
}

// Load reads configuration from environment variables, an optional config
// file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory (or default
// search locations if empty).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NODEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("bridge.port", "NODEFORGE_BRIDGE_PORT")
	_ = v.BindEnv("bridge.token", "NODEFORGE_BRIDGE_TOKEN")
	_ = v.BindEnv("logging.level", "NODEFORGE_LOG_LEVEL")
	_ = v.BindEnv("registry.path", "NODEFORGE_REGISTRY_PATH")
	_ = v.BindEnv("ocserver.host", "NODEFORGE_OCSERVER_HOST")
	_ = v.BindEnv("ocserver.port", "NODEFORGE_OCSERVER_PORT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/nodeforge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate rejects structurally impossible values; it fills nothing in.
// Unlike a production service, a missing bridge token or instance id is not
// rejected here: orchestrator.New generates both.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Bridge.Port < 0 || cfg.Bridge.Port > 65535 {
		errs = append(errs, "bridge.port must be between 0 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Workflow.MaxSteps <= 0 {
		errs = append(errs, "workflow.maxSteps must be positive")
	}
	if cfg.Workflow.MaxTaskChars <= 0 {
		errs = append(errs, "workflow.maxTaskChars must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
