package config

import (
	"os"
	"time"

	"github.com/leshachaplin/trackpost"
)

// Config is the main config for the forwarding agent.
type Config struct {
	LogLevel string           `mapstructure:"log_level"`
	Addr     string           `mapstructure:"addr"`
	Tracker  trackpost.Config `mapstructure:"tracker"`
}

// Load builds the agent config from environment variables with sane
// defaults. Only the knobs an operator actually turns are exposed here; the
// rest keep the tracker defaults.
func Load() (Config, error) {
	cfg := Config{
		LogLevel: envOr("TRACKAGENT_LOG_LEVEL", "INFO"),
		Addr:     envOr("TRACKAGENT_ADDR", ":8080"),
		Tracker: trackpost.Config{
			BaseURL:             os.Getenv("TRACKAGENT_BASE_URL"),
			SiteID:              os.Getenv("TRACKAGENT_SITE_ID"),
			AuthenticationToken: os.Getenv("TRACKAGENT_AUTH_TOKEN"),
			QueuePath:           envOr("TRACKAGENT_QUEUE_PATH", "trackagent.db"),
			AppName:             envOr("TRACKAGENT_APP_NAME", "trackagent"),
			Debug:               os.Getenv("TRACKAGENT_DEBUG") == "1",
		},
	}

	if raw := os.Getenv("TRACKAGENT_DISPATCH_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Tracker.DispatchInterval = trackpost.Duration(interval)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
