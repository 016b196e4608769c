package config

import (
	"reflect"
	"sort"
	"strings"

	"groupcast/pkg/logx"
)

// Change describes what differs between two configs.
type Change struct {
	// Sections lists changed top-level keys, sorted.
	Sections []string
	// Fields are safe to log; secrets are reported as set/unset only.
	Fields []logx.Field
	// RestartRequired names sections that only take effect after a restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff summarizes a reload.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Fields = append(ch.Fields,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
		// group_log and display_msg_id apply live; the bot client does not.
		o, n := oldCfg.Telegram, newCfg.Telegram
		o.GroupLog, n.GroupLog = "", ""
		o.DisplayMsgID, n.DisplayMsgID = false, false
		if o != n {
			ch.RestartRequired = append(ch.RestartRequired, "telegram")
		}
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		ch.Sections = append(ch.Sections, "delivery")
		ch.RestartRequired = append(ch.RestartRequired, "delivery")
	}
	if !reflect.DeepEqual(oldCfg.Outbox, newCfg.Outbox) {
		ch.Sections = append(ch.Sections, "outbox")
		if oldCfg.Outbox != nil && newCfg.Outbox != nil {
			ch.Fields = append(ch.Fields, logx.Int("outbox.rate_per_sec", newCfg.Outbox.RatePerSec))
			if oldCfg.Outbox.Enabled != newCfg.Outbox.Enabled || oldCfg.Outbox.PersistDedup != newCfg.Outbox.PersistDedup {
				ch.RestartRequired = append(ch.RestartRequired, "outbox")
			}
		}
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		ch.Sections = append(ch.Sections, "schedules")
		ch.Fields = append(ch.Fields, logx.Int("schedules.count", len(newCfg.Schedules)))
	}
	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		ch.Sections = append(ch.Sections, "ops")
		ch.RestartRequired = append(ch.RestartRequired, "ops")
		ch.Fields = append(ch.Fields,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
