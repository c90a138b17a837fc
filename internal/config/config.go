// Package config loads the process environment into the typed structs
// the rest of the application depends on.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kitfc/litehook/internal/model"
)

const (
	defaultPort         = 4101
	defaultDBPath       = "data/litehook.db"
	defaultPollInterval = 600
)

// EnvConfig holds the process-wide settings that are not part of the
// per-listener merge chain: the HTTP port, the SQLite path, and the
// channels to pre-seed on first boot.
type EnvConfig struct {
	Port     int
	DBPath   string
	Channels []string
}

// Load reads EnvConfig and GlobalListenerConfig from the process
// environment, loading a ".env" file first if one is present (a missing
// ".env" is not an error).
func Load() (EnvConfig, model.GlobalListenerConfig, error) {
	_ = godotenv.Load()

	env := EnvConfig{
		Port:   defaultPort,
		DBPath: defaultDBPath,
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return EnvConfig{}, model.GlobalListenerConfig{}, fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		env.Port = p
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		env.DBPath = v
	}

	if v := os.Getenv("CHANNELS"); v != "" {
		for _, c := range strings.Split(v, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				env.Channels = append(env.Channels, c)
			}
		}
	}

	global := model.GlobalListenerConfig{}

	interval := int64(defaultPollInterval)
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return EnvConfig{}, model.GlobalListenerConfig{}, fmt.Errorf("config: invalid POLL_INTERVAL %q: %w", v, err)
		}
		interval = n
	}
	global.PollIntervalSeconds = &interval

	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		global.WebhookURL = &v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		global.WebhookSecret = &v
	}
	if v := os.Getenv("PROXY_LIST_URL"); v != "" {
		global.ProxyListURL = &v
	}

	if err := ValidateGlobal(global); err != nil {
		return EnvConfig{}, model.GlobalListenerConfig{}, err
	}

	if len(env.Channels) > 0 && (global.WebhookURL == nil || *global.WebhookURL == "") {
		return EnvConfig{}, model.GlobalListenerConfig{}, fmt.Errorf("config: WEBHOOK_URL is required when CHANNELS is set")
	}

	return env, global, nil
}

// ValidateGlobal checks the global defaults in isolation; it does not
// require webhook_url or poll_interval to be present, since those are
// only mandatory after merge with a per-listener config.
func ValidateGlobal(cfg model.GlobalListenerConfig) error {
	if cfg.WebhookURL != nil && *cfg.WebhookURL != "" {
		if _, err := url.ParseRequestURI(*cfg.WebhookURL); err != nil {
			return fmt.Errorf("config: webhook_url is not a valid URL: %w", err)
		}
	}
	if cfg.ProxyListURL != nil && *cfg.ProxyListURL != "" {
		if _, err := url.ParseRequestURI(*cfg.ProxyListURL); err != nil {
			return fmt.Errorf("config: proxy_list_url is not a valid URL: %w", err)
		}
	}
	if cfg.PollIntervalSeconds != nil && *cfg.PollIntervalSeconds < model.MinPollIntervalSeconds {
		return fmt.Errorf("config: poll_interval must be at least %d seconds", model.MinPollIntervalSeconds)
	}
	return nil
}

// ValidateListener enforces the per-listener invariants (I4, P7): the
// channel URL prefix, the post-merge webhook presence, and the minimum
// poll interval. Call after Merge.
func ValidateListener(merged model.ListenerConfig) error {
	if !strings.HasPrefix(merged.ChannelURL, model.ChannelURLPrefix) {
		return fmt.Errorf("config: channel_url must start with %s: %s", model.ChannelURLPrefix, merged.ChannelURL)
	}

	if merged.WebhookURL == nil || *merged.WebhookURL == "" {
		return fmt.Errorf("config: webhook_url is required for listener %s", merged.ID)
	}
	if _, err := url.ParseRequestURI(*merged.WebhookURL); err != nil {
		return fmt.Errorf("config: webhook_url is not a valid URL: %w", err)
	}

	if merged.PollIntervalSeconds == nil || *merged.PollIntervalSeconds < model.MinPollIntervalSeconds {
		return fmt.Errorf("config: poll_interval must be at least %d seconds for listener %s", model.MinPollIntervalSeconds, merged.ID)
	}

	return nil
}

// ChannelURL expands a bare handle ("foo" or "@foo") from CHANNELS into
// a full public-preview URL; a value that already starts with
// ChannelURLPrefix is returned as-is. Any other value, including a URL
// of another form, gets the prefix prepended.
func ChannelURL(handleOrURL string) string {
	if strings.HasPrefix(handleOrURL, model.ChannelURLPrefix) {
		return handleOrURL
	}
	return model.ChannelURLPrefix + strings.TrimPrefix(handleOrURL, "@")
}
