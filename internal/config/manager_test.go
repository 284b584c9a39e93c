package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
platform:
  base_url: "https://api.example.com"
  timeout: "5s"
poll:
  interval: "30m"
  timezone: "Asia/Hong_Kong"
notifier:
  rate_per_sec: 3
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Poll.Interval != "30m" || cfg.Poll.Timezone != "Asia/Hong_Kong" {
		t.Fatalf("poll = %+v", cfg.Poll)
	}
	if cfg.Notifier.RatePerSec != 3 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "x"
  polling_timeout: "10s"
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{name: "empty uses default", raw: "", def: time.Hour, want: time.Hour},
		{name: "explicit", raw: "90s", def: time.Hour, want: 90 * time.Second},
		{name: "invalid", raw: "soon", def: time.Hour, wantErr: true},
		{name: "negative", raw: "-5s", def: time.Hour, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationOrDefault("poll.interval", tt.raw, tt.def)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationOrDefault(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationOrDefault(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published config")
	}
}
