package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  bot_token: "123:abc"
  api_id: 12345
  api_hash: "deadbeef"
storage:
  driver: sqlite
  path: ./relay.db
logging:
  level: debug
  console: true
mailing:
  min_interval: 5m
  max_destinations: 25
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.APIID != 12345 {
		t.Fatalf("api_id = %d, want 12345", cfg.Telegram.APIID)
	}
	if cfg.Mailing.MaxDestinations != 25 {
		t.Fatalf("max_destinations = %d, want 25", cfg.Mailing.MaxDestinations)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
telegram:
  bot_token: "123:abc"
  api_id: 1
  api_hash: "x"
storage: { driver: sqlite, path: ./x.db }
no_such_section: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "42:token")
	path := writeConfig(t, `
telegram:
  bot_token: "${RELAY_TEST_TOKEN}"
  api_id: 1
  api_hash: "x"
storage: { driver: sqlite, path: ./x.db }
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "42:token" {
		t.Fatalf("token = %q", cfg.Telegram.BotToken)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.BotToken = "" }, wantErr: true},
		{name: "missing api id", mutate: func(c *Config) { c.Telegram.APIID = 0 }, wantErr: true},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "oracle" }, wantErr: true},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Mailing.MinInterval = "five minutes" }, wantErr: true},
		{name: "events need url", mutate: func(c *Config) { c.Events = &EventsConfig{Enabled: true} }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Telegram: TelegramConfig{BotToken: "1:a", APIID: 1, APIHash: "h"},
				Storage:  StorageConfig{Driver: "sqlite", Path: "./x.db"},
			}
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
