package config

import (
	"fmt"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Empty means the
// documented default.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Source     SourceConfig     `json:"source"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default 10s).
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the SQLite database file.
//
// Example:
//
//	"storage": { "path": "./iranfinance.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatcherConfig controls the periodic digest delivery.
//
// Defaults:
//   - interval: 60s
//   - first_delay: 10s
//   - workers: 4
//   - delivery_timeout: 15s
//   - timezone: Asia/Tehran (digest header clock)
type DispatcherConfig struct {
	Interval        string `json:"interval"`
	FirstDelay      string `json:"first_delay"`
	Workers         int    `json:"workers"`
	DeliveryTimeout string `json:"delivery_timeout"`
	Timezone        string `json:"timezone,omitempty"`
}

// SourceConfig controls the price feed. An empty URL disables fetching.
// Interval is a duration ("1m"), an HH:MM interval or a cron expression.
type SourceConfig struct {
	URL      string `json:"url"`
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
}

// OpsConfig controls the local HTTP server for health, metrics and pprof.
// Bind it to loopback.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

const (
	DefaultPollTimeout     = 10 * time.Second
	DefaultBusyTimeout     = 5 * time.Second
	DefaultInterval        = 60 * time.Second
	DefaultFirstDelay      = 10 * time.Second
	DefaultWorkers         = 4
	DefaultDeliveryTimeout = 15 * time.Second
	DefaultSourceInterval  = time.Minute
	DefaultSourceTimeout   = 10 * time.Second
	DefaultStoragePath     = "./iranfinance.db"
	DefaultOpsAddr         = "127.0.0.1:9090"
	DefaultTimezone        = "Asia/Tehran"
)

// Dispatch is the resolved dispatcher section.
type Dispatch struct {
	Interval        time.Duration
	FirstDelay      time.Duration
	Workers         int
	DeliveryTimeout time.Duration
	Location        *time.Location
}

func (d DispatcherConfig) Resolve() (Dispatch, error) {
	var (
		out Dispatch
		err error
	)
	if out.Interval, err = ParseDurationOrDefault("dispatcher.interval", d.Interval, DefaultInterval); err != nil {
		return Dispatch{}, err
	}
	if out.FirstDelay, err = ParseDurationOrDefault("dispatcher.first_delay", d.FirstDelay, DefaultFirstDelay); err != nil {
		return Dispatch{}, err
	}
	if out.DeliveryTimeout, err = ParseDurationOrDefault("dispatcher.delivery_timeout", d.DeliveryTimeout, DefaultDeliveryTimeout); err != nil {
		return Dispatch{}, err
	}
	out.Workers = d.Workers
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers
	}
	tz := d.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	if out.Location, err = time.LoadLocation(tz); err != nil {
		return Dispatch{}, fmt.Errorf("dispatcher.timezone: %w", err)
	}
	return out, nil
}

func (s SourceConfig) ScheduleOrDefault() string {
	if s.Interval == "" {
		return DefaultSourceInterval.String()
	}
	return s.Interval
}

func (s StorageConfig) PathOrDefault() string {
	if s.Path == "" {
		return DefaultStoragePath
	}
	return s.Path
}

func (o OpsConfig) AddrOrDefault() string {
	if o.Addr == "" {
		return DefaultOpsAddr
	}
	return o.Addr
}
