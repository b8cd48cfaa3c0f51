package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type ConfigParam struct {
	ServerPort     string   `toml:"server_port"`
	BaseDomain     string   `toml:"base_domain"`
	CentralDomains []string `toml:"central_domains"`
	HandleCORS     bool     `toml:"handle_cors"`

	CentralDSN     string `toml:"central_dsn"`
	TenantDBPrefix string `toml:"tenant_db_prefix"`

	// Provisioning wait budget for the synchronous registration path.
	ProvisionMaxAttempts int `toml:"provision_max_attempts"`
	ProvisionBaseDelayMs int `toml:"provision_base_delay_ms"`
	ProvisionMaxDelayMs  int `toml:"provision_max_delay_ms"`

	// Unprovisioned tenants younger than this are reported as "not ready"
	// (503) rather than "not found" (404).
	ProvisionGraceMinutes int `toml:"provision_grace_minutes"`

	SessionValidity string `toml:"session_validity"`
}

var cfg *ConfigParam

func Config() *ConfigParam {
	return cfg
}

func LoadConfig(filename string) error {
	if filename == "" {
		cfg = defaultConfig()
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	cp := *defaultConfig()
	if _, err := toml.Decode(string(content), &cp); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}
	cfg = &cp
	return nil
}

func defaultConfig() *ConfigParam {
	return &ConfigParam{
		ServerPort:            "8200",
		BaseDomain:            "localhost",
		CentralDomains:        []string{"localhost", "127.0.0.1", "www.localhost", "admin.localhost"},
		HandleCORS:            false,
		CentralDSN:            "host=localhost port=5432 user=storefront password=storefront dbname=storefront_central sslmode=disable",
		TenantDBPrefix:        "tenant_",
		ProvisionMaxAttempts:  30,
		ProvisionBaseDelayMs:  1000,
		ProvisionMaxDelayMs:   3000,
		ProvisionGraceMinutes: 10,
		SessionValidity:       "24h",
	}
}

func (c *ConfigParam) ProvisionBaseDelay() time.Duration {
	return time.Duration(c.ProvisionBaseDelayMs) * time.Millisecond
}

func (c *ConfigParam) ProvisionMaxDelay() time.Duration {
	return time.Duration(c.ProvisionMaxDelayMs) * time.Millisecond
}

func (c *ConfigParam) ProvisionGraceWindow() time.Duration {
	return time.Duration(c.ProvisionGraceMinutes) * time.Minute
}

func (c *ConfigParam) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionValidity)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// IsCentralDomain reports whether host (without port) is one of the
// configured central domains. Matching is exact; a tenant subdomain of a
// central domain is not central.
func (c *ConfigParam) IsCentralDomain(host string) bool {
	for _, d := range c.CentralDomains {
		if host == d {
			return true
		}
	}
	return false
}

func init() {
	if err := LoadConfig(""); err != nil {
		panic(err)
	}
}
