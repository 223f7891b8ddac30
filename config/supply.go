package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SupplyConfig is the reconciliation run configuration surface.
type SupplyConfig struct {
	Enabled      bool
	WindowDays   int
	ScheduleTime string // HH:MM
	Timezone     string
	BatchSize    int
	Retention    int
	DryRun       bool
	LogChannel   string
	LockTTL      time.Duration
	LockFile     string
	// BlockedSupplierDefault is how a supplier row without an explicit blocked flag is read.
	BlockedSupplierDefault bool
}

// LoadSupplyConfig reads SUPPLY_* env vars.
//
// - SUPPLY_ENABLED=true
// - SUPPLY_WINDOW_DAYS=28
// - SUPPLY_SCHEDULE_TIME=02:30
// - SUPPLY_TIMEZONE=Europe/Rome
// - SUPPLY_BATCH_SIZE=200
// - SUPPLY_RETENTION=60
// - SUPPLY_DRY_RUN=false
// - SUPPLY_LOG_CHANNEL=stdout
// - SUPPLY_LOCK_TTL_SECONDS=1800
// - SUPPLY_BLOCKED_SUPPLIER_DEFAULT=false
func LoadSupplyConfig() SupplyConfig {
	return SupplyConfig{
		Enabled:                boolFromEnv("SUPPLY_ENABLED", false),
		WindowDays:             positiveIntFromEnv("SUPPLY_WINDOW_DAYS", 28),
		ScheduleTime:           stringFromEnv("SUPPLY_SCHEDULE_TIME", "02:30"),
		Timezone:               stringFromEnv("SUPPLY_TIMEZONE", "UTC"),
		BatchSize:              positiveIntFromEnv("SUPPLY_BATCH_SIZE", 200),
		Retention:              positiveIntFromEnv("SUPPLY_RETENTION", 60),
		DryRun:                 boolFromEnv("SUPPLY_DRY_RUN", false),
		LogChannel:             stringFromEnv("SUPPLY_LOG_CHANNEL", "stdout"),
		LockTTL:                time.Duration(positiveIntFromEnv("SUPPLY_LOCK_TTL_SECONDS", 1800)) * time.Second,
		LockFile:               stringFromEnv("SUPPLY_LOCK_FILE", filepath.Join(os.TempDir(), "mto-supply-run.lock")),
		BlockedSupplierDefault: boolFromEnv("SUPPLY_BLOCKED_SUPPLIER_DEFAULT", false),
	}
}

// Location resolves Timezone, falling back to UTC.
func (c SupplyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CronSpec converts ScheduleTime into a seconds-first cron expression.
func (c SupplyConfig) CronSpec() (string, error) {
	parts := strings.Split(strings.TrimSpace(c.ScheduleTime), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid SUPPLY_SCHEDULE_TIME %q (want HH:MM)", c.ScheduleTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in SUPPLY_SCHEDULE_TIME %q", c.ScheduleTime)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in SUPPLY_SCHEDULE_TIME %q", c.ScheduleTime)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// Window returns [start, start+WindowDays) with start truncated to the day in loc.
func (c SupplyConfig) Window(start time.Time) (time.Time, time.Time) {
	loc := c.Location()
	s := start.In(loc)
	s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	return s.UTC(), s.AddDate(0, 0, c.WindowDays).UTC()
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func positiveIntFromEnv(key string, def int) int {
	n := intFromEnv(key, def)
	if n <= 0 {
		return def
	}
	return n
}

func stringFromEnv(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
