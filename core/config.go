package core

import (
	"fmt"
	"strings"
)

const (
	SecretStoreDriverMemory = "memory"
	SecretStoreDriverSQL    = "sql"
)

type SecretStoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	KeyID  string `koanf:"key_id" mapstructure:"key_id"`
}

type MonitorConfig struct {
	RetryDelaySeconds int `koanf:"retry_delay_seconds" mapstructure:"retry_delay_seconds"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	SecretStore SecretStoreConfig `koanf:"secret_store" mapstructure:"secret_store"`
	Monitor     MonitorConfig     `koanf:"monitor" mapstructure:"monitor"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "signon",
		SecretStore: SecretStoreConfig{
			Driver: SecretStoreDriverMemory,
			KeyID:  "app-key",
		},
		Monitor: MonitorConfig{
			RetryDelaySeconds: 30,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch c.SecretStore.Driver {
	case SecretStoreDriverMemory, SecretStoreDriverSQL:
	default:
		return fmt.Errorf("core: unsupported secret_store.driver %q", c.SecretStore.Driver)
	}
	if c.Monitor.RetryDelaySeconds < 0 {
		return fmt.Errorf("core: monitor.retry_delay_seconds must not be negative")
	}
	return nil
}
