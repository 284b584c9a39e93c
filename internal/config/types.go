package config

// Config is the full bot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Platform PlatformConfig `json:"platform"`
	Poll     PollConfig     `json:"poll"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PlatformConfig points at the learning platform HTTP API.
type PlatformConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout bounds a single API call. Default: "15s".
	Timeout string `json:"timeout,omitempty"`
}

// PollConfig controls per-subscription recurring checks.
//
// Interval is the cadence of one subscription's check. The first run of a
// new job is spread by a random jitter so many subscriptions created at
// the same time don't tick in lockstep.
type PollConfig struct {
	// Interval is a Go duration string. Default: "1h".
	Interval string `json:"interval,omitempty"`
	// Timezone for the cron runner (e.g. "Asia/Hong_Kong"). Default: local.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the outbound notification queue.
type NotifierConfig struct {
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
