package config

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Delivery  DeliveryConfig   `json:"delivery"`
	Outbox    *OutboxConfig    `json:"outbox,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
	Ops       OpsConfig        `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty when GROUPCAST_TELEGRAM_TOKEN is set.
	Token       string `json:"token"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SeqGuardTTL string `json:"seq_guard_ttl,omitempty"`
	// DisplayMsgID appends a short random tag to every sent message.
	DisplayMsgID bool `json:"display_msg_id,omitempty"`
	// GroupLog is the "chat[:thread]" that receives mirrored warnings.
	GroupLog string `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeliveryConfig mirrors delivery.Config. Omitted fields take the defaults
// of delivery.DefaultConfig; a present zero is kept as zero.
type DeliveryConfig struct {
	MaxRetry        *int   `json:"max_retry,omitempty"`
	RetryDelay      string `json:"retry_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	SeqStep         int    `json:"seq_step,omitempty"`
	RateLimit       string `json:"rate_limit,omitempty"`
	CleanupInterval string `json:"cleanup_interval,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
}

// OutboxConfig controls the async submit path. If the whole section is
// omitted the outbox is enabled with defaults.
type OutboxConfig struct {
	Enabled         bool   `json:"enabled"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls dedup persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/groupcast.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type ScheduleConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Group   string `json:"group"`
	Text    string `json:"text"`
	MsgType string `json:"msg_type,omitempty"` // default "text"
	// MediaURL and MediaType apply to msg_type "media".
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// OpsConfig controls the metrics/health/pprof listener.
//
// Prefer binding to loopback. A non-loopback address needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
