package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.AppPort != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.AppPort)
	}
	if cfg.Dungeon != (PoolConfig{DailyAllotment: 5, Cap: 20, ShopDailyLimit: 5}) {
		t.Fatalf("dungeon pool = %+v", cfg.Dungeon)
	}
	if cfg.BossPool != (PoolConfig{DailyAllotment: 1, Cap: 5, ShopDailyLimit: 3}) {
		t.Fatalf("worldboss pool = %+v", cfg.BossPool)
	}
	if cfg.Retry.MaxAttempts != 6 || cfg.Retry.BaseDelay != 10*time.Millisecond {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if cfg.Validator.GoldPerSecond != 5 || cfg.Validator.GoldSlack != 1000 {
		t.Fatalf("validator = %+v", cfg.Validator)
	}
	if len(cfg.Validator.ServerOnlyItems) != 1 || cfg.Validator.ServerOnlyItems[0] != "dungeon_key" {
		t.Fatalf("server only items = %v", cfg.Validator.ServerOnlyItems)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DUNGEON_CAP", "30")
	t.Setenv("WORLDBOSS_CYCLE_DURATION", "2h")
	t.Setenv("VALIDATOR_SERVER_ONLY_ITEMS", "dungeon_key,boss_ticket")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Dungeon.Cap != 30 || cfg.Dungeon.DailyAllotment != 5 {
		t.Fatalf("dungeon pool = %+v", cfg.Dungeon)
	}
	if cfg.WorldBoss.CycleDuration != 2*time.Hour {
		t.Fatalf("cycle = %v", cfg.WorldBoss.CycleDuration)
	}
	if len(cfg.Validator.ServerOnlyItems) != 2 {
		t.Fatalf("server only items = %v", cfg.Validator.ServerOnlyItems)
	}
}

func TestParseRejectsCapBelowAllotment(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WORLDBOSS_TICKET_CAP", "0")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for cap below allotment")
	}
}

func TestParseRequiresSecrets(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for missing secrets")
	}
}
