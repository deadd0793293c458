package config

import (
	"reflect"
	"sort"
	"strings"

	logx "focusbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log
// fields describing them. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.ReportChat) != strings.TrimSpace(nt.ReportChat) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.report_chat_set", strings.TrimSpace(nt.ReportChat) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		e := newCfg.Engine
		attrs = append(attrs,
			logx.String("engine.persist", e.Persist),
			logx.String("engine.flush_schedule", e.FlushSchedule),
			logx.String("engine.digest_schedule", e.DigestSchedule),
			logx.String("engine.timezone", e.Timezone),
		)
	}

	od, nd := derefDelivery(oldCfg.Delivery), derefDelivery(newCfg.Delivery)
	if od != nd {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.rate_per_sec", nd.RatePerSec),
			logx.String("delivery.call_timeout", nd.CallTimeout),
			logx.Bool("delivery.fallback_default", nd.FallbackDefault),
		)
	}

	oldS, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(ns.BusyTimeout)),
		)
	}

	ost, nst := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if ost != nst {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nst.Enabled),
			logx.String("status.addr", strings.TrimSpace(nst.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(nst.Token) != ""),
			logx.Bool("status.pprof", nst.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	var out []string
	for _, s := range changed {
		switch s {
		case "storage":
			out = append(out, s)
		case "telegram":
			if oldCfg.Telegram.Token != newCfg.Telegram.Token {
				out = append(out, "telegram.token")
			}
		case "engine":
			o, n := oldCfg.Engine, newCfg.Engine
			if o.HistoryCap != n.HistoryCap || o.MaxCycles != n.MaxCycles || o.Persist != n.Persist ||
				o.SaveTimeout != n.SaveTimeout || o.StatsLimit != n.StatsLimit || o.Timezone != n.Timezone {
				out = append(out, "engine")
			}
		}
	}
	return out
}

func derefDelivery(d *DeliveryConfig) DeliveryConfig {
	if d == nil {
		return DeliveryConfig{}
	}
	return *d
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}
