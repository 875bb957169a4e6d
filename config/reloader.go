package config

import (
	"log/slog"
	"sync"
)

// LiveConfig holds the hot-reloadable subset of Config behind a mutex, read
// by request-handling code on every request that needs it. SPEC_FULL §10.3
// restricts the reloadable surface to webhook delivery settings and the
// operational-role convention map — a changed DSN or registry requires a
// restart, never a silent hot-swap, so those fields are intentionally
// excluded from LiveConfig.
type LiveConfig struct {
	mu             sync.RWMutex
	webhook        WebhookConfig
	roleConvention map[string]string
}

func NewLiveConfig(initial *Config) *LiveConfig {
	return &LiveConfig{
		webhook:        initial.Webhook,
		roleConvention: initial.RoleConvention,
	}
}

func (l *LiveConfig) Webhook() WebhookConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.webhook
}

func (l *LiveConfig) RoleConvention() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.roleConvention))
	for k, v := range l.roleConvention {
		out[k] = v
	}
	return out
}

// Reloader applies a ConfigChangeEvent's restricted fields onto a
// LiveConfig. Grounded on the teacher's config.ConfigReloader, stripped of
// its per-module diff/reconfigure machinery: there are no modules to
// reconfigure in this domain, only the two fields above to swap.
type Reloader struct {
	live   *LiveConfig
	logger *slog.Logger
}

func NewReloader(live *LiveConfig, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{live: live, logger: logger}
}

func (r *Reloader) HandleChange(evt ConfigChangeEvent) {
	r.live.mu.Lock()
	r.live.webhook = evt.Config.Webhook
	r.live.roleConvention = evt.Config.RoleConvention
	r.live.mu.Unlock()
	r.logger.Info("applied hot-reloadable config change", "source", evt.Source)
}
