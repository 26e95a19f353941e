package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		HealthPort int    `yaml:"health_port"`
	} `yaml:"service"`

	Upstream struct {
		RPCURL string `yaml:"rpc_url"` // Bob node WebSocket endpoint
	} `yaml:"upstream"`

	ClickHouse struct {
		DSN string `yaml:"dsn"`
	} `yaml:"clickhouse"`

	Labels struct {
		BundleURL string `yaml:"bundle_url"`
	} `yaml:"labels"`

	Snapshots struct {
		BaseURL string `yaml:"base_url"` // archive root, .../{epoch}/ep{epoch}-bob.zip
	} `yaml:"snapshots"`

	Flow struct {
		MulticastContract string `yaml:"multicast_contract"` // pass-through disbursement contract
	} `yaml:"flow"`

	Push struct {
		VAPIDPublicKey  string `yaml:"vapid_public_key"`
		VAPIDPrivateKey string `yaml:"vapid_private_key"`
		VAPIDSubject    string `yaml:"vapid_subject"`
	} `yaml:"push"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file with environment
// overrides
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file is optional when everything comes from env
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Upstream.RPCURL = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := os.Getenv("LABEL_BUNDLE_URL"); v != "" {
		cfg.Labels.BundleURL = v
	}
	if v := os.Getenv("SNAPSHOT_BASE_URL"); v != "" {
		cfg.Snapshots.BaseURL = v
	}
	if v := os.Getenv("MULTICAST_CONTRACT"); v != "" {
		cfg.Flow.MulticastContract = v
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.VAPIDPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.VAPIDPrivateKey = v
	}
	if v := os.Getenv("VAPID_SUBJECT"); v != "" {
		cfg.Push.VAPIDSubject = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Set defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "qubic-explorer-core"
	}
	if cfg.Service.HealthPort == 0 {
		cfg.Service.HealthPort = 8090
	}
	if cfg.Snapshots.BaseURL == "" {
		cfg.Snapshots.BaseURL = "https://storage.qubic.li/network"
	}
	if cfg.Push.VAPIDSubject == "" {
		cfg.Push.VAPIDSubject = "mailto:ops@example.org"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Required settings
	if cfg.Upstream.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required")
	}
	if cfg.ClickHouse.DSN == "" {
		return nil, fmt.Errorf("clickhouse dsn is required")
	}
	if cfg.Labels.BundleURL == "" {
		return nil, fmt.Errorf("label bundle_url is required")
	}

	return &cfg, nil
}
