// Package config holds the server's static and hot-reloadable settings.
// Grounded on the teacher's config package (ConfigSource/ConfigChangeEvent/
// FileSource/ConfigWatcher), trimmed from its general per-module reload
// machinery (module add/remove/diff, ReconfigureModules) — that machinery
// exists to support the teacher's pluggable-module DI system, which this
// spec's fixed-registry Non-goal rules out. What survives is the narrower
// mechanism SPEC_FULL §10.3 actually calls for: watch one YAML file, and
// hot-swap only the two fields safe to change without a restart
// (Webhook, RoleConvention) — never DSNs or the workflow
// registry.
package config

import "time"

// Config is the full set of settings the server boots with.
type Config struct {
	HTTPAddr string `yaml:"httpAddr"`

	PostgresURL string `yaml:"postgresURL"`
	RedisURL    string `yaml:"redisURL"`

	JWTSecret string `yaml:"jwtSecret"`

	LogLevel string `yaml:"logLevel"`

	Webhook WebhookConfig `yaml:"webhook"`

	// RoleConvention maps a caller's raw external role claim to one of the
	// engine's fixed operational roles (registry.Role). Hot-reloadable.
	RoleConvention map[string]string `yaml:"roleConvention"`

	InventoryCacheTTL time.Duration `yaml:"inventoryCacheTTL"`
}

// WebhookConfig controls outbound webhook delivery (spec §6, SPEC_FULL §12.4).
type WebhookConfig struct {
	URL         string `yaml:"url"`
	Environment string `yaml:"environment"`
	Source      string `yaml:"source"`
}

// Default returns a Config with the fallback values the teacher's own
// modules apply when a YAML document omits a field.
func Default() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		InventoryCacheTTL: 5 * time.Second,
		Webhook: WebhookConfig{
			Environment: "production",
			Source:      "automation-core",
		},
		RoleConvention: map[string]string{},
	}
}
