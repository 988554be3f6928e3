package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete client configuration.
type Config struct {
	License LicenseConfig `yaml:"license"`
	Logging LoggingConfig `yaml:"logging"`
}

// LicenseConfig contains the license verification settings.
type LicenseConfig struct {
	Server               string `yaml:"server" envconfig:"LICENSE_SERVER" default:"https://license.daywinlabs.com"`
	VerifySSL            bool   `yaml:"verify_ssl" envconfig:"LICENSE_VERIFY_SSL" default:"true"`
	AllowInsecureServer  bool   `yaml:"allow_insecure_server" envconfig:"ALLOW_INSECURE_LICENSE_SERVER"`
	DisableHTTPSFallback bool   `yaml:"disable_https_fallback" envconfig:"LICENSE_DISABLE_HTTPS_FALLBACK"`
	CacheMaxHours        int    `yaml:"cache_max_hours" envconfig:"LICENSE_CACHE_MAX_HOURS" default:"72"`
	OfflineGraceHours    int    `yaml:"offline_grace_hours" envconfig:"LICENSE_OFFLINE_GRACE_HOURS" default:"12"`
	AppVersion           string `yaml:"app_version" envconfig:"APP_VERSION"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"LOG_OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"LOG_FILE_PATH" default:"logs/license.log"`
}

// Load loads configuration from environment variables and an optional
// config file. Environment values win over file values.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg.License); err != nil {
		return nil, fmt.Errorf("failed to load license config from env: %w", err)
	}
	if err := envconfig.Process("FCC", &cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to load logging config from env: %w", err)
	}

	if configFile := findConfigFile(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the default configuration without reading the
// environment. Used by tests and as a fallback when Load fails early.
func Default() *Config {
	cfg := &Config{
		License: LicenseConfig{
			Server:            "https://license.daywinlabs.com",
			VerifySSL:         true,
			CacheMaxHours:     72,
			OfflineGraceHours: 12,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/license.log",
		},
	}
	cfg.normalize()
	return cfg
}

// loadFromFile loads configuration from a YAML file.
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

// mergeConfigs merges file config with env config (env takes precedence).
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.License.Server == "" {
		envConfig.License.Server = fileConfig.License.Server
	}
	if envConfig.License.CacheMaxHours == 0 {
		envConfig.License.CacheMaxHours = fileConfig.License.CacheMaxHours
	}
	if envConfig.License.OfflineGraceHours == 0 {
		envConfig.License.OfflineGraceHours = fileConfig.License.OfflineGraceHours
	}
	if envConfig.License.AppVersion == "" {
		envConfig.License.AppVersion = fileConfig.License.AppVersion
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if envConfig.Logging.FilePath == "" {
		envConfig.Logging.FilePath = fileConfig.Logging.FilePath
	}
	return envConfig
}

// normalize clamps values to their documented minimums and strips a
// trailing slash from the server URL so candidate building is uniform.
func (c *Config) normalize() {
	c.License.Server = strings.TrimRight(strings.TrimSpace(c.License.Server), "/")
	if c.License.CacheMaxHours < 1 {
		c.License.CacheMaxHours = 1
	}
	if c.License.OfflineGraceHours < 1 {
		c.License.OfflineGraceHours = 1
	}
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.License.Server == "" {
		return fmt.Errorf("license server URL must not be empty")
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		if c.Logging.FilePath == "" {
			return fmt.Errorf("log file path required for output %q", c.Logging.Output)
		}
	}
	return nil
}

// findConfigFile returns the path to the config file, if one exists.
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}
