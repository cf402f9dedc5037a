package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Property keys read by the client wrappers
const (
	ControllerURLKey = "pinot.controller.url"
	BrokerURLKey     = "pinot.broker.url"
)

// Config is the harness configuration
type Config struct {
	Pinot   PinotConfig   `yaml:"pinot" mapstructure:"pinot"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PinotConfig holds the endpoints clients connect to
type PinotConfig struct {
	Controller EndpointConfig `yaml:"controller" mapstructure:"controller"`
	Broker     EndpointConfig `yaml:"broker" mapstructure:"broker"`
}

// EndpointConfig is one HTTP endpoint
type EndpointConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ClusterConfig holds the defaults used when a test fixture builds a cluster
type ClusterConfig struct {
	ZookeeperImage     string        `yaml:"zookeeperImage" mapstructure:"zookeeperImage"`
	PinotImage         string        `yaml:"pinotImage" mapstructure:"pinotImage"`
	ObjectStorageImage string        `yaml:"objectStorageImage" mapstructure:"objectStorageImage"`
	StartupTimeout     time.Duration `yaml:"startupTimeout" mapstructure:"startupTimeout"`
	HealthChecks       bool          `yaml:"healthChecks" mapstructure:"healthChecks"`
	LogLevel           string        `yaml:"logLevel" mapstructure:"logLevel"`
	Region             string        `yaml:"region" mapstructure:"region"`
	Bucket             string        `yaml:"bucket" mapstructure:"bucket"`
}

// LogConfig configures the harness's own logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

var (
	v        *viper.Viper
	instance *Config
	initOnce sync.Once
	mu       sync.RWMutex
)

// ResetConfig drops all loaded and overridden values (for testing)
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	v = nil
	instance = nil
	initOnce = sync.Once{}
}

// InitConfig sets up viper with defaults and environment bindings
func InitConfig() {
	initOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		v = viper.New()

		v.SetDefault(ControllerURLKey, "http://localhost:9000")
		v.SetDefault(BrokerURLKey, "http://localhost:8099")

		v.SetDefault("cluster.zookeeperImage", "zookeeper:3.9")
		v.SetDefault("cluster.pinotImage", "apachepinot/pinot:latest-21-openjdk")
		v.SetDefault("cluster.objectStorageImage", "localstack/localstack:4.0")
		v.SetDefault("cluster.startupTimeout", 2*time.Minute)
		v.SetDefault("cluster.healthChecks", false)
		v.SetDefault("cluster.logLevel", "warn")
		v.SetDefault("cluster.region", "us-east-1")
		v.SetDefault("cluster.bucket", "pinot-ingest")

		v.SetDefault("log.level", "info")
		v.SetDefault("log.format", "compact")

		v.SetEnvPrefix("PINOT_TC")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// The endpoint properties keep their conventional names
		_ = v.BindEnv(ControllerURLKey, "PINOT_CONTROLLER_URL")
		_ = v.BindEnv(BrokerURLKey, "PINOT_BROKER_URL")
	})
}

// LoadConfig reads configPath, or pinot-tc.yaml from the usual places when
// configPath is empty, on top of the defaults and environment.
func LoadConfig(configPath string) (*Config, error) {
	InitConfig()

	mu.Lock()
	defer mu.Unlock()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file does not exist: %s", configPath)
			}
			return nil, fmt.Errorf("failed to access config file: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("pinot-tc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pinot-tc")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	instance = cfg
	return cfg, nil
}

// GetConfig returns the loaded configuration, loading defaults and
// environment on first use.
func GetConfig() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg, err := current()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// current unmarshals the live viper state without caching it
func current() (*Config, error) {
	InitConfig()
	mu.RLock()
	defer mu.RUnlock()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetString returns a string configuration value
func GetString(key string) string {
	InitConfig()
	mu.RLock()
	defer mu.RUnlock()
	return v.GetString(key)
}

// Set overrides a configuration value
func Set(key string, value any) {
	InitConfig()
	mu.Lock()
	defer mu.Unlock()
	v.Set(key, value)
	instance = nil
}

// SetEndpoints publishes a running cluster's URLs under the client properties
func SetEndpoints(controllerURL, brokerURL string) {
	Set(ControllerURLKey, controllerURL)
	Set(BrokerURLKey, brokerURL)
}

// ControllerURL returns pinot.controller.url
func ControllerURL() string {
	return GetString(ControllerURLKey)
}

// BrokerURL returns pinot.broker.url
func BrokerURL() string {
	return GetString(BrokerURLKey)
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if c.Pinot.Controller.URL == "" {
		return fmt.Errorf("%s cannot be empty", ControllerURLKey)
	}
	if c.Pinot.Broker.URL == "" {
		return fmt.Errorf("%s cannot be empty", BrokerURLKey)
	}
	if c.Cluster.PinotImage == "" || c.Cluster.ZookeeperImage == "" {
		return fmt.Errorf("cluster images cannot be empty")
	}
	if c.Cluster.StartupTimeout <= 0 {
		return fmt.Errorf("invalid cluster startup timeout: %s", c.Cluster.StartupTimeout)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}
