// Package config provides configuration management for the clipmill agent.
// Values come from defaults, an optional YAML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipmill"

	// Environment variable names
	EnvPort       = "CLIPMILL_PORT"
	EnvLogLevel   = "CLIPMILL_LOG_LEVEL"
	EnvDataDir    = "CLIPMILL_DATA_DIR"
	EnvConfigFile = "CLIPMILL_CONFIG"
	EnvEnvFile    = "CLIPMILL_ENV_FILE"

	// Database filename
	DBFilename = "clipmill.db"

	ConfigFilename = "config.yaml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	JobsDir() string
	Settings() *Settings
}

// EnvConfig is the loaded configuration. It is built once in main and passed
// down by reference.
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	configFile string

	settings *Settings
}

// New loads .env, the YAML file and environment overrides, then validates.
func New() (*EnvConfig, error) {
	envFile := os.Getenv(EnvEnvFile)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
		settings: Defaults(),
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.configFile = os.Getenv(EnvConfigFile)
	explicit := cfg.configFile != ""
	if !explicit {
		cfg.configFile = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.settings.loadFile(cfg.configFile, explicit); err != nil {
		return nil, err
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.port = port
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if err := cfg.settings.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.settings.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// JobsDir returns the directory holding one workspace per job
func (c *EnvConfig) JobsDir() string {
	return filepath.Join(c.dataDir, "jobs")
}

func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

func (c *EnvConfig) Settings() *Settings {
	return c.settings
}

func (s *Settings) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func parseBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
