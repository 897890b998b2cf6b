package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}

	rules := cfg.Rules()
	if err := rules.Validate(); err != nil {
		t.Errorf("default rules invalid: %v", err)
	}
	want := []float64{2000, 1000, 500, 250, 100}
	if len(rules.RadiusLevels) != len(want) {
		t.Fatalf("RadiusLevels = %v", rules.RadiusLevels)
	}
	for i, lv := range want {
		if rules.RadiusLevels[i] != lv {
			t.Errorf("RadiusLevels[%d] = %v, want %v", i, rules.RadiusLevels[i], lv)
		}
	}
	if rules.DefaultGameDuration != time.Hour {
		t.Errorf("DefaultGameDuration = %v", rules.DefaultGameDuration)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RADIUS_LEVELS", "800,400,50")
	t.Setenv("DEFAULT_ACTIVATION_DELAY", "90s")
	t.Setenv("LOCATION_THROTTLE", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	rules := cfg.Rules()
	if len(rules.RadiusLevels) != 3 || rules.RadiusLevels[2] != 50 {
		t.Errorf("RadiusLevels = %v", rules.RadiusLevels)
	}
	if rules.DefaultActivationDelay != 90*time.Second || rules.LocationThrottle != 0 {
		t.Errorf("timings = %v/%v", rules.DefaultActivationDelay, rules.LocationThrottle)
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	t.Setenv("RADIUS_LEVELS", "100,500") // ascending
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an ascending radius schedule")
	}
}
