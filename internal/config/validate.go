package config

import (
	"fmt"
	"strings"
)

// Validate checks the parts of a config that would otherwise fail deep inside
// a component at apply time. It is used both at startup and as the Watch
// validator so a bad edit never displaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.cycle_interval", cfg.Scheduler.CycleInterval},
		{"publish.base_delay", cfg.Publish.BaseDelay},
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 0")
	}
	if cfg.Publish.MaxAttempts < 0 {
		return fmt.Errorf("publish.max_attempts must be >= 0")
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return fmt.Errorf("notifier.token is required when the notifier is enabled")
		}
		if len(n.ChatIDs) == 0 {
			return fmt.Errorf("notifier.chat_ids must name at least one chat")
		}
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			return err
		}
	}
	return nil
}
