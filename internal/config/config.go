// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	GitHub struct {
		// Token is optional. When set it raises the API rate limit; when
		// empty, calls run unauthenticated and the cache does more work.
		Token  string `mapstructure:"token"`
		APIURL string `mapstructure:"api_url"`
	} `mapstructure:"github"`
	Cache struct {
		TTLWeeks int `mapstructure:"ttl_weeks"`
	} `mapstructure:"cache"`
	Download struct {
		TimeoutSeconds int `mapstructure:"timeout_seconds"`
		MaxRetries     int `mapstructure:"max_retries"`
	} `mapstructure:"download"`
	UpdateCheckHours int `mapstructure:"update_check_hours"`
	Device           struct {
		// ManualPath overrides detection. It still goes through validation.
		ManualPath string `mapstructure:"manual_path"`
	} `mapstructure:"device"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or "yaml"
	viper.AddConfigPath(".")      // looking for config in the current directory

	// --- Environment Variable Overrides ---
	// e.g., KOSTORE_GITHUB_TOKEN will override the `github.token` key.
	viper.SetEnvPrefix("KOSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./kostore.db")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", "https://api.github.com")
	viper.SetDefault("cache.ttl_weeks", 4)
	viper.SetDefault("download.timeout_seconds", 30)
	viper.SetDefault("download.max_retries", 3)
	viper.SetDefault("update_check_hours", 6)
	viper.SetDefault("device.manual_path", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
