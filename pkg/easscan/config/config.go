package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/easscan/pkg/easscan/executor"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
	"github.com/jamesainslie/easscan/pkg/easscan/workspace"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Console    string            `mapstructure:"console" yaml:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// Config represents the application configuration.
type Config struct {
	Workers struct {
		// Count is the worker count to use without prompting. 0 prompts
		// (or takes the suggestion when not interactive).
		Count   int `mapstructure:"count" yaml:"count"`
		Ceiling int `mapstructure:"ceiling" yaml:"ceiling"`
	} `mapstructure:"workers" yaml:"workers"`

	Pool struct {
		Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
		SampleTimeout time.Duration `mapstructure:"sample_timeout" yaml:"sample_timeout"`
		Recovery      string        `mapstructure:"recovery" yaml:"recovery"`
		DispatchRate  float64       `mapstructure:"dispatch_rate" yaml:"dispatch_rate"`
	} `mapstructure:"pool" yaml:"pool"`

	Thresholds types.Thresholds `mapstructure:"thresholds" yaml:"thresholds"`

	Targets struct {
		Include  []string `mapstructure:"include" yaml:"include"`
		Exclude  []string `mapstructure:"exclude" yaml:"exclude"`
		StripWWW bool     `mapstructure:"strip_www" yaml:"strip_www"`
	} `mapstructure:"targets" yaml:"targets"`

	Output struct {
		Dir         string `mapstructure:"dir" yaml:"dir"`
		OnConflict  string `mapstructure:"on_conflict" yaml:"on_conflict"`
		Format      string `mapstructure:"format" yaml:"format"`
		Template    string `mapstructure:"template" yaml:"template"`
		SystemTrash bool   `mapstructure:"system_trash" yaml:"system_trash"`
	} `mapstructure:"output" yaml:"output"`

	Tool executor.Profile `mapstructure:"tool" yaml:"tool"`

	Store struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Path    string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"store" yaml:"store"`

	Manifest struct {
		Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
		Path          string `mapstructure:"path" yaml:"path"`
		RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	} `mapstructure:"manifest" yaml:"manifest"`

	Metrics struct {
		Addr string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"metrics" yaml:"metrics"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// New returns a viper instance with defaults, environment binding and the
// config file read in. An explicit file must exist; the default locations
// are optional:
//   - $XDG_CONFIG_HOME/easscan/config.yaml
//   - $HOME/.config/easscan/config.yaml
func New(file string) (*viper.Viper, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, AppName))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers every key so that environment variables can
// override keys that no config file mentions.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.ceiling", DefaultWorkerCeiling)

	v.SetDefault("pool.timeout", DefaultTimeout)
	v.SetDefault("pool.sample_timeout", DefaultSampleTimeout)
	v.SetDefault("pool.recovery", DefaultRecovery)
	v.SetDefault("pool.dispatch_rate", 0.0)

	v.SetDefault("thresholds.cpu_pct", types.DefaultCPUPercent)
	v.SetDefault("thresholds.mem_pct", types.DefaultMemPercent)
	v.SetDefault("thresholds.min_free_ram_gb", types.DefaultMinFreeRAMGB)

	v.SetDefault("targets.include", []string{})
	v.SetDefault("targets.exclude", []string{})
	v.SetDefault("targets.strip_www", true)

	v.SetDefault("output.dir", DefaultOutputDir)
	v.SetDefault("output.on_conflict", DefaultConflict)
	v.SetDefault("output.format", DefaultFormat)
	v.SetDefault("output.template", "")
	v.SetDefault("output.system_trash", false)

	v.SetDefault("tool.name", DefaultTool)
	v.SetDefault("tool.command", "")
	v.SetDefault("tool.args", []string{})
	v.SetDefault("tool.artifact", "")
	v.SetDefault("tool.stdout_artifact", false)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", DefaultStorePath())

	v.SetDefault("manifest.enabled", true)
	v.SetDefault("manifest.path", DefaultManifestDir())
	v.SetDefault("manifest.retention_days", DefaultRetentionDays)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // empty means logging.DefaultLogPath
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})
}

// Decode unmarshals v, expands ~ in path keys and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.Output.Dir, &cfg.Store.Path, &cfg.Manifest.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from file (or the default locations) and the
// environment.
func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c *Config) Validate() error {
	switch {
	case c.Workers.Count < 0:
		return &types.ConfigurationError{Field: "workers.count", Reason: "must not be negative"}
	case c.Workers.Ceiling < 1:
		return &types.ConfigurationError{Field: "workers.ceiling", Reason: fmt.Sprintf("%d must be positive", c.Workers.Ceiling)}
	case c.Pool.Timeout <= 0:
		return &types.ConfigurationError{Field: "pool.timeout", Reason: fmt.Sprintf("%s must be positive", c.Pool.Timeout)}
	case c.Pool.SampleTimeout <= 0:
		return &types.ConfigurationError{Field: "pool.sample_timeout", Reason: fmt.Sprintf("%s must be positive", c.Pool.SampleTimeout)}
	case c.Pool.DispatchRate < 0:
		return &types.ConfigurationError{Field: "pool.dispatch_rate", Reason: "must not be negative"}
	case c.Output.Dir == "":
		return &types.ConfigurationError{Field: "output.dir", Reason: "must not be empty"}
	case c.Manifest.RetentionDays < 0:
		return &types.ConfigurationError{Field: "manifest.retention_days", Reason: "must not be negative"}
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if _, err := c.Recovery(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if _, err := c.rotation(); err != nil {
		return err
	}
	return nil
}

// Recovery returns the parsed guard recovery policy.
func (c *Config) Recovery() (types.Recovery, error) {
	return types.ParseRecovery(c.Pool.Recovery)
}

// Strategy returns the parsed output conflict strategy.
func (c *Config) Strategy() (workspace.Strategy, error) {
	return workspace.ParseStrategy(c.Output.OnConflict)
}

// Profile resolves the scan tool. A built-in name is overridden field by
// field; any other name needs tool.command and tool.artifact.
func (c *Config) Profile() (executor.Profile, error) {
	p, err := executor.Lookup(c.Tool.Name)
	if err != nil {
		if c.Tool.Binary == "" {
			return executor.Profile{}, err
		}
		p = executor.Profile{Name: strings.ToLower(c.Tool.Name)}
	}
	p = p.Override(c.Tool)
	if err := p.Validate(); err != nil {
		return executor.Profile{}, err
	}
	return p, nil
}

// ManifestRetention returns the manifest retention as a duration.
func (c *Config) ManifestRetention() time.Duration {
	return time.Duration(c.Manifest.RetentionDays) * types.Day
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig(consoleLevel string, tui bool) (logging.Config, error) {
	rot, err := c.rotation()
	if err != nil {
		return logging.Config{}, err
	}
	if consoleLevel == "" {
		consoleLevel = c.Logging.Console
	}
	return logging.Config{
		Level:        c.Logging.Level,
		Path:         c.Logging.Path,
		Rotation:     rot,
		Components:   c.Logging.Components,
		ConsoleLevel: consoleLevel,
		TUIMode:      tui,
	}, nil
}

func (c *Config) rotation() (logging.RotationConfig, error) {
	var size int64
	if c.Logging.Rotation.MaxSize != "" {
		var err error
		size, err = types.ParseSize(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.RotationConfig{}, &types.ConfigurationError{Field: "logging.rotation.max_size", Reason: err.Error()}
		}
	}
	return logging.RotationConfig{
		MaxSize:    size,
		MaxAge:     c.Logging.Rotation.MaxAge,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		Daily:      c.Logging.Rotation.Daily,
	}, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, AppName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// DefaultConfigPath returns the config file WriteDefault creates.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/easscan/ for the result store and
// manifest.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// StateDir returns $XDG_STATE_HOME/easscan/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// DefaultStorePath returns the badger directory of the result store.
func DefaultStorePath() string {
	return filepath.Join(DataDir(), "results")
}

// DefaultManifestDir returns the run history directory.
func DefaultManifestDir() string {
	return filepath.Join(DataDir(), "manifest")
}

// WriteDefault writes a commented default config file to path, creating
// parent directories. It returns false without writing when path exists.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	var components strings.Builder
	for _, name := range []string{"tuner", "guard", "scheduler", "executor", "workspace"} {
		fmt.Fprintf(&components, "    %s: %s\n", name, DefaultComponents[name])
	}

	content := fmt.Sprintf(`# easscan configuration

workers:
  # Worker count used without prompting (0 = prompt, or the suggestion
  # when not interactive)
  count: 0
  # Absolute worker ceiling regardless of hardware
  ceiling: %d

pool:
  # Per-target scan timeout
  timeout: %s
  # Bound on a single host resource reading
  sample_timeout: %s
  # After a fallback to one worker: auto restores the confirmed count when
  # the host is healthy again, hold keeps one worker for the rest of the run
  recovery: %s
  # Maximum scans started per second (0 = unlimited)
  dispatch_rate: 0

# Dispatch is throttled above these host usage levels
thresholds:
  cpu_pct: %.0f
  mem_pct: %.0f
  min_free_ram_gb: %.0f

targets:
  strip_www: true
  # Glob patterns with '.' as separator, e.g. "*.staging.example.com"
  include: []
  exclude: []

output:
  dir: %s
  # prompt, skip, overwrite or timestamp
  on_conflict: %s
  # pretty, plain, json, jsonl, yaml, csv, tsv, markdown, template, paths
  format: %s
  # Move overwritten output to the system trash instead of deleting it
  system_trash: false

tool:
  # Built-in: testssl, httpx, nmap, checkdmarc. Any field below overrides
  # the built-in profile.
  name: %s
  # command: testssl.sh
  # args: ["--jsonfile", "{{.Artifact}}", "{{.Target}}"]
  # artifact: testssl.json

store:
  enabled: true
  path: %s

manifest:
  enabled: true
  path: %s
  retention_days: %d

metrics:
  # Serve prometheus metrics during a run, e.g. "127.0.0.1:9464"
  addr: ""

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/easscan/easscan.log)
  path: ""
  # Console (stderr) level; empty disables console logging
  console: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
%s`, DefaultWorkerCeiling, DefaultTimeout, DefaultSampleTimeout, DefaultRecovery,
		types.DefaultCPUPercent, types.DefaultMemPercent, types.DefaultMinFreeRAMGB,
		DefaultOutputDir, DefaultConflict, DefaultFormat, DefaultTool,
		DefaultStorePath(), DefaultManifestDir(), DefaultRetentionDays, components.String())

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write default config: %w", err)
	}
	return true, nil
}
