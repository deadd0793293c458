package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`

	Delivery *DeliveryConfig `json:"delivery,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Status   *StatusConfig   `json:"status,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs are the operators: they may grant reset authority, reset
	// everything and receive failure reports by direct message.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ReportChat receives operator reports and forwarded log lines.
	ReportChat string `json:"report_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
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

// LoggingTelegram forwards warnings and errors to telegram.report_chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// EngineConfig controls session bookkeeping.
//
// Defaults (when fields are omitted/zero):
//   - history_cap: 2000
//   - max_cycles: 100
//   - persist: "immediate"
//   - flush_schedule: "@every 60s" (used when persist is "interval")
//   - save_timeout: "10s"
//   - timezone: local time
//   - stats_limit: 10
//   - digest_schedule: "" (disabled)
type EngineConfig struct {
	HistoryCap int    `json:"history_cap,omitempty"`
	MaxCycles  int    `json:"max_cycles,omitempty"`
	Persist    string `json:"persist,omitempty"`

	// FlushSchedule is a cron expression (robfig/cron syntax, "@every 60s"
	// descriptors accepted).
	FlushSchedule string `json:"flush_schedule,omitempty"`
	SaveTimeout   string `json:"save_timeout,omitempty"`

	// Timezone defines "today" in stats and the digest schedule.
	Timezone   string `json:"timezone,omitempty"`
	StatsLimit int    `json:"stats_limit,omitempty"`

	// DigestSchedule posts a daily leaderboard to telegram.report_chat.
	DigestSchedule string `json:"digest_schedule,omitempty"`
}

// DeliveryConfig controls outbound notification pacing.
//
// If the whole section is omitted, defaults apply (3 msg/s, 10s per call).
type DeliveryConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	CallTimeout string `json:"call_timeout,omitempty"`
	// FallbackDefault is the allow-fallback value for sessions that do not
	// set one explicitly.
	FallbackDefault bool `json:"fallback_default,omitempty"`
}

// StorageConfig controls snapshot persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/timers-data.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	KeepCopies  int    `json:"keep_copies,omitempty"`  // sqlite rows kept (default 3)
}

// StatusConfig controls the local operator HTTP endpoint (/healthz,
// /status and optionally /debug/pprof/).
//
// Security: keep addr on loopback (default "127.0.0.1:6061") or set token.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

const (
	DefaultFlushSchedule = "@every 60s"
	DefaultStoragePath   = "./data/timers-data.json"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression accepted by the engine sections.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

// Location resolves Engine.Timezone.
func (c EngineConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Validate checks cross-field constraints the decoder cannot express.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	e := c.Engine
	switch strings.TrimSpace(e.Persist) {
	case "", "immediate", "interval":
	default:
		errs = append(errs, fmt.Errorf("engine.persist: unknown mode %q", e.Persist))
	}
	if e.HistoryCap < 0 {
		errs = append(errs, errors.New("engine.history_cap: must be >= 0"))
	}
	if e.MaxCycles < 0 {
		errs = append(errs, errors.New("engine.max_cycles: must be >= 0"))
	}
	if strings.TrimSpace(e.FlushSchedule) != "" {
		if _, err := ParseSchedule(e.FlushSchedule); err != nil {
			errs = append(errs, fmt.Errorf("engine.flush_schedule: %w", err))
		}
	}
	if strings.TrimSpace(e.DigestSchedule) != "" {
		if _, err := ParseSchedule(e.DigestSchedule); err != nil {
			errs = append(errs, fmt.Errorf("engine.digest_schedule: %w", err))
		}
	}
	if _, err := ParseDurationField("engine.save_timeout", e.SaveTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.Location(); err != nil {
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}

	if d := c.Delivery; d != nil {
		if d.RatePerSec < 0 {
			errs = append(errs, errors.New("delivery.rate_per_sec: must be >= 0"))
		}
		if _, err := ParseDurationField("delivery.call_timeout", d.CallTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if st := c.Status; st != nil && st.Enabled && strings.TrimSpace(st.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(st.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
