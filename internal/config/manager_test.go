package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewManager(path)
}

func TestParseYAML(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  admin_user_ids: [42, 7]
  poll_timeout: "10s"
logging:
  level: "DEBUG"
  console: true
storage:
  path: "test.db"
broadcast:
  tick: "8s"
  min_interval: "15s"
  pacing: "500ms"
  tagline: "via xabar"
billing:
  daily_price: 1500
  card: "8600"
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[0] != 42 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Broadcast == nil || cfg.Broadcast.Tagline != "via xabar" {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
	if cfg.Billing.DailyPrice != 1500 {
		t.Fatalf("daily price = %d", cfg.Billing.DailyPrice)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  not_a_real_field: true
logging:
  level: "INFO"
storage:
  path: "test.db"
billing:
  daily_price: 1000
`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env:token")
	t.Setenv("ADMIN_ID", "987")
	t.Setenv("DAILY_PRICE", "2500")
	t.Setenv("ADMIN_CARD", "8600 1111")
	t.Setenv("TAGLINE", "env tagline")

	m := writeConfig(t, "config.yaml", `
telegram:
  token: ""
logging:
  level: "INFO"
storage:
  path: "test.db"
billing:
  daily_price: 0
  card: ""
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 1 || cfg.Telegram.AdminUserIDs[0] != 987 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Billing.DailyPrice != 2500 {
		t.Fatalf("daily price = %d", cfg.Billing.DailyPrice)
	}
	if cfg.Billing.Card != "8600 1111" {
		t.Fatalf("card = %q", cfg.Billing.Card)
	}
	if cfg.Broadcast == nil || cfg.Broadcast.Tagline != "env tagline" {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
}

func TestFileValuesWinOverEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env:token")
	t.Setenv("DAILY_PRICE", "9999")

	m := writeConfig(t, "config.yaml", `
telegram:
  token: "file:token"
logging:
  level: "INFO"
storage:
  path: "test.db"
billing:
  daily_price: 1000
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "file:token" {
		t.Fatalf("token = %q, file value must win", cfg.Telegram.Token)
	}
	if cfg.Billing.DailyPrice != 1000 {
		t.Fatalf("daily price = %d, file value must win", cfg.Billing.DailyPrice)
	}
}

func TestParseDurations(t *testing.T) {
	t.Parallel()

	if _, err := ParseDurationField("x", "nonsense"); err == nil {
		t.Fatal("bad duration must be rejected")
	}
	d, err := ParseDurationOrDefault("x", "", 8)
	if err != nil || d != 8 {
		t.Fatalf("empty input must yield the default, got (%v, %v)", d, err)
	}
	d, err = ParseDurationOrDefault("x", "2s", 8)
	if err != nil || d.Seconds() != 2 {
		t.Fatalf("got (%v, %v)", d, err)
	}
}
