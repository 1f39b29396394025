package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_STORE_ID", "")
	t.Setenv("HEARTBEAT_STALE_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreID != "main-store" {
		t.Fatalf("store id = %q, want main-store", cfg.StoreID)
	}
	if cfg.HeartbeatStaleMinutes != 15 {
		t.Fatalf("stale minutes = %d, want 15", cfg.HeartbeatStaleMinutes)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_STORE_ID", "store-7")
	t.Setenv("SHUTDOWN_EVENT_DEDUP_MINUTES", "10")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.StoreID != "store-7" {
		t.Fatalf("store id = %q, want store-7", cfg.StoreID)
	}
	if cfg.ShutdownDedupMinutes != 10 {
		t.Fatalf("dedup minutes = %d, want 10", cfg.ShutdownDedupMinutes)
	}
}

func TestGetEnvIntRejectsGarbage(t *testing.T) {
	t.Setenv("LIVENESS_SWEEP_SECONDS", "not-a-number")
	if cfg := Load(); cfg.LivenessSweepSeconds != 120 {
		t.Fatalf("sweep seconds = %d, want fallback 120", cfg.LivenessSweepSeconds)
	}

	t.Setenv("LIVENESS_SWEEP_SECONDS", "-5")
	if cfg := Load(); cfg.LivenessSweepSeconds != 120 {
		t.Fatalf("sweep seconds = %d, want fallback 120 for negative input", cfg.LivenessSweepSeconds)
	}
}
