package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Store struct {
		// Backend selects the workflow store: postgres, sqlite or memory.
		Backend string `mapstructure:"backend"`
		// Path is the database file for the sqlite backend.
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Engine struct {
		// MaxParallel bounds concurrent step dispatch for the parallel,
		// pipeline and collaborative strategies.
		MaxParallel int `mapstructure:"max_parallel"`
		// AdaptivePromoteAfter is the number of consecutive low-risk
		// successes before the adaptive strategy upgrades to parallel.
		AdaptivePromoteAfter int `mapstructure:"adaptive_promote_after"`
		// PersistAttempts bounds retries for transient store failures.
		PersistAttempts int `mapstructure:"persist_attempts"`
	} `mapstructure:"engine"`
	Notify struct {
		// WebhookURL, if set, receives approval events as JSON POSTs.
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"notify"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
// If path is non-empty it names an explicit config file.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus environment are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.path", "orchestrator.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("engine.max_parallel", 4)
	viper.SetDefault("engine.adaptive_promote_after", 2)
	viper.SetDefault("engine.persist_attempts", 5)
}

func validate(c *Config) error {
	switch c.Store.Backend {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Engine.MaxParallel < 1 {
		return fmt.Errorf("engine.max_parallel must be at least 1, got %d", c.Engine.MaxParallel)
	}
	if c.Engine.AdaptivePromoteAfter < 1 {
		return fmt.Errorf("engine.adaptive_promote_after must be at least 1, got %d", c.Engine.AdaptivePromoteAfter)
	}
	return nil
}
