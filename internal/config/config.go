// Package config loads the engine's process-level settings from the
// environment: the data directory to open, whether to attempt the tx
// index, the connected-iterator worker pool size, and an optional
// network override.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config mirrors spec.md §6's construction options plus the ambient
// settings a deployed binary needs that the engine API itself doesn't
// take as arguments.
type Config struct {
	DataDir         string `envconfig:"DATA_DIR" required:"true"`
	TxIndex         bool   `envconfig:"TX_INDEX" default:"true"`
	WorkerPoolSize  int    `envconfig:"WORKER_POOL_SIZE" default:"8"`
	NetworkOverride string `envconfig:"NETWORK_OVERRIDE" default:""`
	ListenAddr      string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads CHAINQUERY_-prefixed environment variables into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("chainquery", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
