package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete engine configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration for the verification API
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicensingConfig contains the remote license authority configuration
type LicensingConfig struct {
	ServerURL          string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.example.net"`
	RESTEndpointPath   string        `yaml:"rest_endpoint_path" envconfig:"REST_ENDPOINT_PATH" default:"/api/license/v2"`
	LegacyEndpointPath string        `yaml:"legacy_endpoint_path" envconfig:"LEGACY_ENDPOINT_PATH" default:"/license-server"`
	UseREST            bool          `yaml:"use_rest" envconfig:"USE_REST" default:"true"`
	StoreCode          string        `yaml:"store_code" envconfig:"STORE_CODE"`
	SecretKey          string        `yaml:"secret_key" envconfig:"SECRET_KEY"`
	RequestTimeout     time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// StoreConfig selects and configures the persisted record store
type StoreConfig struct {
	Backend  string `yaml:"backend" envconfig:"BACKEND" default:"file"` // file|bolt
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"data/licenses.json"`
	BoltPath string `yaml:"bolt_path" envconfig:"BOLT_PATH" default:"data/licenses.db"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licmgr.log"`
}

// Load loads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("LICMGR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Licensing.ServerURL == "" {
		envConfig.Licensing.ServerURL = fileConfig.Licensing.ServerURL
	}
	if envConfig.Licensing.StoreCode == "" {
		envConfig.Licensing.StoreCode = fileConfig.Licensing.StoreCode
	}
	if envConfig.Licensing.SecretKey == "" {
		envConfig.Licensing.SecretKey = fileConfig.Licensing.SecretKey
	}
	if envConfig.Store.Backend == "" {
		envConfig.Store.Backend = fileConfig.Store.Backend
	}

	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Licensing.ServerURL == "" {
		return fmt.Errorf("licensing server URL must be set")
	}

	if c.Licensing.RequestTimeout <= 0 {
		c.Licensing.RequestTimeout = DefaultHTTPTimeout
	}

	switch c.Store.Backend {
	case "file", "bolt":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, if one exists
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Licensing: LicensingConfig{
			ServerURL:          DefaultServerURL,
			RESTEndpointPath:   DefaultRESTEndpointPath,
			LegacyEndpointPath: DefaultLegacyEndpointPath,
			UseREST:            true,
			RequestTimeout:     DefaultHTTPTimeout,
		},
		Store: StoreConfig{
			Backend:  "file",
			FilePath: "data/licenses.json",
			BoltPath: "data/licenses.db",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/licmgr.log",
		},
	}
}
