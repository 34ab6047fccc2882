package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./reelsync.db
scheduler:
  cycle_interval: 20s
  max_concurrent: 8
publish:
  endpoint: https://publish.example.com/upload
  token: secret
media:
  download_dir: ./downloads
  processed_dir: ./processed
api:
  enabled: true
  addr: 127.0.0.1:9090
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./reelsync.db" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Scheduler.MaxConcurrent != 8 || cfg.Scheduler.CycleInterval != "20s" {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.API.Addr != "127.0.0.1:9090" {
		t.Fatalf("api: %+v", cfg.API)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
storage:
  driver: memory
  busy_timout: 5s
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty defaults to memory", cfg: Config{}},
		{name: "sqlite needs path", cfg: Config{Storage: StorageConfig{Driver: "sqlite"}}, wantErr: true},
		{name: "postgres needs dsn", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}, wantErr: true},
		{name: "unknown driver", cfg: Config{Storage: StorageConfig{Driver: "cassandra"}}, wantErr: true},
		{name: "bad duration", cfg: Config{Scheduler: SchedulerConfig{CycleInterval: "soon"}}, wantErr: true},
		{name: "negative attempts", cfg: Config{Publish: PublishConfig{MaxAttempts: -1}}, wantErr: true},
		{
			name:    "notifier without token",
			cfg:     Config{Notifier: &NotifierConfig{Enabled: true, ChatIDs: []int64{1}}},
			wantErr: true,
		},
		{
			name: "valid full config",
			cfg: Config{
				Storage:   StorageConfig{Driver: "sqlite", Path: "./db"},
				Scheduler: SchedulerConfig{CycleInterval: "20s"},
				Publish:   PublishConfig{MaxAttempts: 3, BaseDelay: "30s"},
				Notifier:  &NotifierConfig{Enabled: true, Token: "t", ChatIDs: []int64{1}},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
