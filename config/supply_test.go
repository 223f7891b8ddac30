package config

import (
	"testing"
	"time"
)

func TestLoadSupplyConfig_Defaults(t *testing.T) {
	for _, k := range []string{"SUPPLY_ENABLED", "SUPPLY_WINDOW_DAYS", "SUPPLY_SCHEDULE_TIME", "SUPPLY_TIMEZONE",
		"SUPPLY_BATCH_SIZE", "SUPPLY_RETENTION", "SUPPLY_DRY_RUN", "SUPPLY_LOCK_TTL_SECONDS", "SUPPLY_BLOCKED_SUPPLIER_DEFAULT"} {
		t.Setenv(k, "")
	}
	cfg := LoadSupplyConfig()
	if cfg.Enabled {
		t.Fatalf("expected disabled by default")
	}
	if cfg.WindowDays != 28 || cfg.BatchSize != 200 || cfg.Retention != 60 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LockTTL != 30*time.Minute {
		t.Fatalf("expected 30m lock ttl, got %s", cfg.LockTTL)
	}
	if cfg.BlockedSupplierDefault {
		t.Fatalf("absent blocked flag should read as active by default")
	}
}

func TestLoadSupplyConfig_Overrides(t *testing.T) {
	t.Setenv("SUPPLY_ENABLED", "yes")
	t.Setenv("SUPPLY_WINDOW_DAYS", "14")
	t.Setenv("SUPPLY_RETENTION", "-3")
	t.Setenv("SUPPLY_DRY_RUN", "1")
	cfg := LoadSupplyConfig()
	if !cfg.Enabled || !cfg.DryRun {
		t.Fatalf("expected enabled dry-run config: %+v", cfg)
	}
	if cfg.WindowDays != 14 {
		t.Fatalf("expected 14 window days, got %d", cfg.WindowDays)
	}
	if cfg.Retention != 60 {
		t.Fatalf("non-positive retention should fall back to default, got %d", cfg.Retention)
	}
}

func TestSupplyConfig_CronSpec(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"02:30", "0 30 2 * * *", false},
		{"23:05", "0 5 23 * * *", false},
		{"24:00", "", true},
		{"0230", "", true},
	}
	for _, tc := range cases {
		got, err := SupplyConfig{ScheduleTime: tc.in}.CronSpec()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CronSpec(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("CronSpec(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestSupplyConfig_Window(t *testing.T) {
	cfg := SupplyConfig{WindowDays: 7, Timezone: "UTC"}
	start, end := cfg.Window(time.Date(2026, 10, 14, 15, 4, 5, 0, time.UTC))
	if !start.Equal(time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if !end.Equal(time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}
}
