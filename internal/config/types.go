package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Publish   PublishConfig   `json:"publish"`
	Media     MediaConfig     `json:"media"`
	Feed      FeedConfig      `json:"feed,omitempty"`
	API       APIConfig       `json:"api"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
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

// StorageConfig selects the task store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reelsync.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the dispatch loop.
//
// All durations are Go duration strings (e.g. "500ms", "20s", "1m").
type SchedulerConfig struct {
	// CycleInterval is the pause between due-task sweeps. Default "20s".
	CycleInterval string `json:"cycle_interval,omitempty"`
	// MaxConcurrent bounds simultaneous pipeline runs. Default 4.
	MaxConcurrent int `json:"max_concurrent,omitempty"`
	// BatchSize caps due tasks loaded per sweep. Default 32.
	BatchSize int `json:"batch_size,omitempty"`
}

// PublishConfig controls the upload stage and its retry schedule.
type PublishConfig struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"` // do not log
	Caption  string `json:"caption,omitempty"`
	// MaxAttempts per task before it is marked failed. Default 3.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// BaseDelay scales linearly with the attempt number. Default "30s".
	BaseDelay string `json:"base_delay,omitempty"`
}

type MediaConfig struct {
	DownloadDir  string `json:"download_dir"`
	ProcessedDir string `json:"processed_dir"`
	UserAgent    string `json:"user_agent,omitempty"`
	// KeepArtifacts disables cleanup after completion.
	KeepArtifacts bool `json:"keep_artifacts,omitempty"`
}

type FeedConfig struct {
	// Retain caps in-memory feed entries per stream. Default 1024.
	Retain int `json:"retain,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 so the
	// event stream endpoint can hold connections open.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls failure alerts over Telegram. Omitting the section
// disables alerts entirely.
type NotifierConfig struct {
	Enabled    bool    `json:"enabled"`
	Token      string  `json:"token"` // do not log
	ChatIDs    []int64 `json:"chat_ids"`
	RatePerSec int     `json:"rate_per_sec,omitempty"`
	// DedupWindow suppresses repeat alerts for the same task. Default "1m".
	DedupWindow string `json:"dedup_window,omitempty"`
}
