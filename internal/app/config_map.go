package app

import (
	"strconv"
	"strings"
	"time"

	"focusbot/internal/config"
	"focusbot/internal/delivery"
	"focusbot/internal/engine"
	"focusbot/internal/observability/status"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

// The mappers below assume cfg passed config.Validate.

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: storage.DriverFile, Path: config.DefaultStoragePath}
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case storage.DriverNone:
		return storage.Config{Driver: storage.DriverNone}
	case storage.DriverSQLite, "sqlite3":
		if path == "" {
			path = "./data/focusbot.db"
		}
		return storage.Config{
			Driver:      driver,
			Path:        path,
			BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
			KeepCopies:  sc.KeepCopies,
		}
	default:
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: storage.DriverFile, Path: path}
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Ops: logx.OpsConfig{
			Enabled:    l.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.ReportChat) != "",
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine
	loc, err := e.Location()
	if err != nil {
		loc = time.Local
	}
	return engine.Config{
		HistoryCap:  e.HistoryCap,
		MaxCycles:   e.MaxCycles,
		Persist:     strings.TrimSpace(e.Persist),
		SaveTimeout: config.DurationOr(e.SaveTimeout, 10*time.Second),
		Location:    loc,
		StatsLimit:  e.StatsLimit,
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	out := delivery.Config{ReportScope: strings.TrimSpace(cfg.Telegram.ReportChat)}
	if owners := ownerIDs(cfg); len(owners) > 0 {
		out.OperatorID = owners[0]
	}
	if d := cfg.Delivery; d != nil {
		out.RatePerSec = d.RatePerSec
		out.CallTimeout = config.DurationOr(d.CallTimeout, 0)
	}
	return out
}

func flushSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Engine.FlushSchedule); s != "" {
		return s
	}
	return config.DefaultFlushSchedule
}

func ownerIDs(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func fallbackDefault(cfg *config.Config) bool {
	return cfg.Delivery != nil && cfg.Delivery.FallbackDefault
}

func mapStatusConfig(cfg *config.Config) status.Config {
	st := cfg.Status
	if st == nil {
		return status.Config{}
	}
	return status.Config{
		Enabled:       st.Enabled,
		Addr:          st.Addr,
		Token:         st.Token,
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
	}
}
