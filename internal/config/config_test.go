package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		StartTimeSeconds: 21600,
		EndTimeSeconds:   86400,
		NumRounds:        1,
		Date:             time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		SchedulerType:    "adaptive_headway",
		BetaTarget:       1.0,
		BusCapacity:      75,
		HMin:             600,
		HMax:             1800,
		MaxHold:          30,
		HeadwayTolerance: 0.1,
		MonitoredStops:   map[string][]string{"northbound": {"9769", "9770"}},
		DefaultInterval:  1800,
		Accel:            1.0,
		Decel:            1.0,
		MaxSpeed:         15.0,
		DisabledProbability: 0.01,
		RequeueProportion:   1.0,
		ArrivalRatesFile:    "rates.json",
		WeightsFile:         "weights.json",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid adaptive", func(c *Config) {}, false},
		{"valid interval", func(c *Config) { c.SchedulerType = "interval"; c.MonitoredStops = nil }, false},
		{"bad scheduler", func(c *Config) { c.SchedulerType = "magic" }, true},
		{"inverted window", func(c *Config) { c.EndTimeSeconds = 0 }, true},
		{"zero rounds", func(c *Config) { c.NumRounds = 0 }, true},
		{"capacity", func(c *Config) { c.BusCapacity = -1 }, true},
		{"beta low", func(c *Config) { c.BetaTarget = 0.5 }, true},
		{"beta high", func(c *Config) { c.BetaTarget = 1.2 }, true},
		{"h_min over h_max", func(c *Config) { c.HMin = 2000 }, true},
		{"negative hold", func(c *Config) { c.MaxHold = -1 }, true},
		{"tolerance", func(c *Config) { c.HeadwayTolerance = 1.0 }, true},
		{"adaptive without monitored", func(c *Config) { c.MonitoredStops = nil }, true},
		{"interval without interval", func(c *Config) {
			c.SchedulerType = "interval"
			c.DefaultInterval = 0
		}, true},
		{"timetable without departures", func(c *Config) { c.SchedulerType = "timetable" }, true},
		{"probability", func(c *Config) { c.RequeueProportion = 1.5 }, true},
		{"dynamics", func(c *Config) { c.MaxSpeed = 0 }, true},
		{"no demand source", func(c *Config) { c.ArrivalRatesFile = "" }, true},
		{"db replaces files", func(c *Config) {
			c.ArrivalRatesFile = ""
			c.WeightsFile = ""
			c.DatabaseURL = "postgres://localhost/sim"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDirectionLists(t *testing.T) {
	got, err := parseDirectionLists("northbound=9769,9770, 9723; southbound=9819")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("directions = %d, want 2", len(got))
	}
	if len(got["northbound"]) != 3 || got["northbound"][2] != "9723" {
		t.Fatalf("northbound = %v", got["northbound"])
	}
	if len(got["southbound"]) != 1 || got["southbound"][0] != "9819" {
		t.Fatalf("southbound = %v", got["southbound"])
	}

	if _, err := parseDirectionLists("no-equals-here"); err == nil {
		t.Fatal("expected error for malformed group")
	}
}

func TestParseTimetable(t *testing.T) {
	got, err := parseTimetable("northbound=21600,23400;southbound=21900")
	if err != nil {
		t.Fatal(err)
	}
	if len(got["northbound"]) != 2 || got["northbound"][1] != 23400 {
		t.Fatalf("northbound = %v", got["northbound"])
	}
	if _, err := parseTimetable("northbound=abc"); err == nil {
		t.Fatal("expected error for non-numeric departure")
	}
}

func TestParseSpecialEvents(t *testing.T) {
	got, err := parseSpecialEvents("2025-07-01=2.5; 2025-12-25=0.3")
	if err != nil {
		t.Fatal(err)
	}
	if got["2025-07-01"] != 2.5 || got["2025-12-25"] != 0.3 {
		t.Fatalf("parsed = %v", got)
	}
	if _, err := parseSpecialEvents("not-a-date=2"); err == nil {
		t.Fatal("expected error for bad date")
	}
	if _, err := parseSpecialEvents("2025-07-01=-1"); err == nil {
		t.Fatal("expected error for negative multiplier")
	}
}

func TestLoadDefaults(t *testing.T) {
	// With a clean environment, Load returns the documented defaults.
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PGDATABASE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchedulerType != "adaptive_headway" {
		t.Errorf("SchedulerType = %q", cfg.SchedulerType)
	}
	if cfg.BusCapacity != 75 || cfg.HMin != 600 || cfg.HMax != 1800 || cfg.MaxHold != 30 {
		t.Errorf("adaptive defaults = C%d [%v,%v] hold %v", cfg.BusCapacity, cfg.HMin, cfg.HMax, cfg.MaxHold)
	}
	if cfg.DisabledProbability != 0.01 || cfg.RequeueProportion != 1.0 {
		t.Errorf("passenger defaults = %v/%v", cfg.DisabledProbability, cfg.RequeueProportion)
	}
	if cfg.Accel != 1.0 || cfg.Decel != 1.0 || cfg.MaxSpeed != 15.0 {
		t.Errorf("dynamics defaults = %v/%v/%v", cfg.Accel, cfg.Decel, cfg.MaxSpeed)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("H_MIN", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric H_MIN")
	}
}
