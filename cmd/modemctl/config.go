package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/modemctl/internal/logging"
	"github.com/danmuck/modemctl/internal/modem"
)

type fileConfig struct {
	Endpoint          string  `toml:"endpoint"`
	Slot              int     `toml:"slot"`
	Dialer            string  `toml:"dialer"`
	Baud              int     `toml:"baud"`
	RetryInterval     string  `toml:"retry_interval"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
	QuietAfter        int     `toml:"quiet_after"`
	MaxFrameBytes     uint64  `toml:"max_frame_bytes"`
	SendQueue         int     `toml:"send_queue"`
	DisconnectTimeout string  `toml:"disconnect_timeout"`
	RequestTimeout    string  `toml:"request_timeout"`
	LogLevel          string  `toml:"log_level"`
}

// appConfig is the modem config plus CLI-only settings.
type appConfig struct {
	Modem    modem.Config
	Slot     int
	LogLevel string
}

func defaultAppConfig() appConfig {
	cfg := modem.DefaultConfig()
	cfg.Endpoint = defaultEndpoint
	return appConfig{Modem: cfg, LogLevel: "info"}
}

func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load modemctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load modemctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("endpoint") {
		if v := strings.TrimSpace(raw.Endpoint); v != "" {
			cfg.Modem.Endpoint = v
		}
	}
	if meta.IsDefined("slot") {
		if raw.Slot < 0 {
			return appConfig{}, fmt.Errorf("parse slot: must not be negative, got %d", raw.Slot)
		}
		cfg.Slot = raw.Slot
	}
	if meta.IsDefined("dialer") {
		cfg.Modem.Dialer = strings.ToLower(strings.TrimSpace(raw.Dialer))
	}
	if meta.IsDefined("baud") {
		cfg.Modem.Baud = raw.Baud
	}
	if meta.IsDefined("retry_interval") {
		d, err := parseDuration("retry_interval", raw.RetryInterval)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Modem.Transport.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Modem.Transport.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Modem.Transport.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Modem.Transport.Backoff.Jitter = raw.BackoffJitter
	}
	if meta.IsDefined("quiet_after") {
		cfg.Modem.Transport.QuietAfter = raw.QuietAfter
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Modem.Transport.Limits.MaxPayloadBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("send_queue") {
		cfg.Modem.Transport.SendQueue = raw.SendQueue
	}
	if meta.IsDefined("disconnect_timeout") {
		d, err := parseDuration("disconnect_timeout", raw.DisconnectTimeout)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Modem.Transport.DisconnectTimeout = d
	}
	if meta.IsDefined("request_timeout") {
		d, err := parseDuration("request_timeout", raw.RequestTimeout)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Modem.RequestTimeout = d
	}
	if meta.IsDefined("log_level") {
		level := strings.TrimSpace(raw.LogLevel)
		if _, ok := logging.ParseLevel(level); !ok {
			return appConfig{}, fmt.Errorf("parse log_level: unknown level %q", level)
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

// resolved applies the slot to a unix endpoint.
func (c appConfig) resolved() modem.Config {
	out := c.Modem
	if out.Dialer == modem.DialerUnix {
		out.Endpoint = modem.SlotEndpoint(out.Endpoint, c.Slot)
	}
	return out
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: must not be negative", key)
	}
	return d, nil
}
