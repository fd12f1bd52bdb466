package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full recognised option surface of the simulator.
type Config struct {
	// Simulation window.
	StartTimeSeconds float64
	EndTimeSeconds   float64
	RandomSeed       int64
	NumRounds        int
	Date             time.Time

	// Scheduler selection: timetable, interval or adaptive_headway.
	SchedulerType string

	// Adaptive headway.
	BetaTarget       float64
	BusCapacity      int
	HMin             float64
	HMax             float64
	MaxHold          float64
	HeadwayTolerance float64
	MonitoredStops   map[string][]string // direction -> stop IDs
	EnableKPI        bool
	KPIExportInterval float64

	// Fixed interval.
	DefaultInterval float64
	PeakInterval    float64
	OffPeakInterval float64
	PeakDayparts    []string

	// Timetable: direction -> departure seconds.
	Timetable map[string][]float64

	// Vehicle dynamics.
	Accel    float64
	Decel    float64
	MaxSpeed float64

	// Passenger model.
	DisabledProbability   float64
	RequeueProportion     float64
	RegularBoardingTime   float64
	RegularAlightingTime  float64
	DisabledBoardingTime  float64
	DisabledAlightingTime float64
	MaxWheelchair         int
	FixedDwellTime        float64
	ServiceOpenSecond     float64

	MeanTimeBetweenFailures float64

	// SpecialEvents maps dates (2006-01-02) to demand multipliers.
	SpecialEvents map[string]float64

	// Data inputs. Postgres wins when DatabaseURL is set; otherwise the
	// JSON files are required.
	RouteID          string
	RoutesFile       string
	ArrivalRatesFile string
	WeightsFile      string
	DatabaseURL      string

	// Outputs.
	NATSURL         string
	LogNATSSubjects bool
	MetricsAddr     string
	LogLevel        string
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var err error
	if cfg.StartTimeSeconds, err = floatEnv("START_TIME_SECONDS", 21600); err != nil {
		return nil, err
	}
	if cfg.EndTimeSeconds, err = floatEnv("END_TIME_SECONDS", 86400); err != nil {
		return nil, err
	}
	if cfg.RandomSeed, err = intEnv64("RANDOM_SEED", 1); err != nil {
		return nil, err
	}
	rounds, err := intEnv("NUM_ROUNDS", 1)
	if err != nil {
		return nil, err
	}
	cfg.NumRounds = rounds

	dateStr := getenvDefault("SIM_DATE", "2025-03-03")
	cfg.Date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SIM_DATE %q: %v", dateStr, err)
	}

	cfg.SchedulerType = getenvDefault("SCHEDULER_TYPE", "adaptive_headway")

	if cfg.BetaTarget, err = floatEnv("BETA_TARGET", 1.0); err != nil {
		return nil, err
	}
	if cfg.BusCapacity, err = intEnv("BUS_CAPACITY", 75); err != nil {
		return nil, err
	}
	if cfg.HMin, err = floatEnv("H_MIN", 600); err != nil {
		return nil, err
	}
	if cfg.HMax, err = floatEnv("H_MAX", 1800); err != nil {
		return nil, err
	}
	if cfg.MaxHold, err = floatEnv("MAX_HOLD", 30); err != nil {
		return nil, err
	}
	if cfg.HeadwayTolerance, err = floatEnv("HEADWAY_TOLERANCE", 0.10); err != nil {
		return nil, err
	}
	cfg.MonitoredStops, err = parseDirectionLists(os.Getenv("MONITORED_STOPS"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONITORED_STOPS: %v", err)
	}
	cfg.EnableKPI = boolEnv("ENABLE_KPI")
	if cfg.KPIExportInterval, err = floatEnv("KPI_EXPORT_INTERVAL", 3600); err != nil {
		return nil, err
	}

	if cfg.DefaultInterval, err = floatEnv("DEFAULT_INTERVAL", 1800); err != nil {
		return nil, err
	}
	if cfg.PeakInterval, err = floatEnv("PEAK_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.OffPeakInterval, err = floatEnv("OFF_PEAK_INTERVAL", 0); err != nil {
		return nil, err
	}
	cfg.PeakDayparts = splitList(getenvDefault("PEAK_DAYPARTS", "1,3"))

	cfg.Timetable, err = parseTimetable(os.Getenv("TIMETABLE_DEPARTURES"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMETABLE_DEPARTURES: %v", err)
	}

	if cfg.Accel, err = floatEnv("ACCEL", 1.0); err != nil {
		return nil, err
	}
	if cfg.Decel, err = floatEnv("DECEL", 1.0); err != nil {
		return nil, err
	}
	if cfg.MaxSpeed, err = floatEnv("MAX_SPEED", 15.0); err != nil {
		return nil, err
	}

	if cfg.DisabledProbability, err = floatEnv("DISABLED_PROBABILITY", 0.01); err != nil {
		return nil, err
	}
	if cfg.RequeueProportion, err = floatEnv("REQUEUE_PROPORTION", 1.0); err != nil {
		return nil, err
	}
	if cfg.RegularBoardingTime, err = floatEnv("REGULAR_BOARDING_TIME", 2.0); err != nil {
		return nil, err
	}
	if cfg.RegularAlightingTime, err = floatEnv("REGULAR_ALIGHTING_TIME", 1.0); err != nil {
		return nil, err
	}
	if cfg.DisabledBoardingTime, err = floatEnv("DISABLED_BOARDING_TIME", 45.0); err != nil {
		return nil, err
	}
	if cfg.DisabledAlightingTime, err = floatEnv("DISABLED_ALIGHTING_TIME", 45.0); err != nil {
		return nil, err
	}
	if cfg.MaxWheelchair, err = intEnv("MAX_WHEELCHAIR", 1); err != nil {
		return nil, err
	}
	if cfg.FixedDwellTime, err = floatEnv("FIXED_DWELL_TIME", 3.0); err != nil {
		return nil, err
	}
	if cfg.ServiceOpenSecond, err = floatEnv("SERVICE_OPEN_SECOND", 21000); err != nil {
		return nil, err
	}
	if cfg.MeanTimeBetweenFailures, err = floatEnv("MEAN_TIME_BETWEEN_FAILURES", 0); err != nil {
		return nil, err
	}

	cfg.SpecialEvents, err = parseSpecialEvents(os.Getenv("SPECIAL_EVENTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SPECIAL_EVENTS: %v", err)
	}

	cfg.RouteID = getenvDefault("ROUTE_ID", "601")
	cfg.RoutesFile = getenvDefault("ROUTES_FILE", "data/routes.json")
	cfg.ArrivalRatesFile = os.Getenv("ARRIVAL_RATES_FILE")
	cfg.WeightsFile = os.Getenv("WEIGHTS_FILE")

	// Database DSN: DATABASE_URL / PG_DSN, else build from PG* vars when
	// PGDATABASE is set.
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// Validate applies the data-integrity policy: anything wrong here is a
// fatal setup error naming the offending option.
func (c *Config) Validate() error {
	if c.EndTimeSeconds <= c.StartTimeSeconds {
		return fmt.Errorf("END_TIME_SECONDS (%v) must be after START_TIME_SECONDS (%v)", c.EndTimeSeconds, c.StartTimeSeconds)
	}
	if c.NumRounds <= 0 {
		return fmt.Errorf("NUM_ROUNDS must be positive, got %d", c.NumRounds)
	}
	switch c.SchedulerType {
	case "timetable", "interval", "adaptive_headway":
	default:
		return fmt.Errorf("SCHEDULER_TYPE must be timetable, interval or adaptive_headway, got %q", c.SchedulerType)
	}
	if c.BusCapacity <= 0 {
		return fmt.Errorf("BUS_CAPACITY must be positive, got %d", c.BusCapacity)
	}
	if c.SchedulerType == "adaptive_headway" {
		if c.BetaTarget < 0.7 || c.BetaTarget > 1.0 {
			return fmt.Errorf("BETA_TARGET must be in [0.7, 1.0], got %v", c.BetaTarget)
		}
		if len(c.MonitoredStops) == 0 {
			return errors.New("adaptive_headway requires MONITORED_STOPS")
		}
	}
	if c.HMin > c.HMax {
		return fmt.Errorf("H_MIN (%v) exceeds H_MAX (%v)", c.HMin, c.HMax)
	}
	if c.HMin <= 0 {
		return fmt.Errorf("H_MIN must be positive, got %v", c.HMin)
	}
	if c.MaxHold < 0 {
		return fmt.Errorf("MAX_HOLD must be non-negative, got %v", c.MaxHold)
	}
	if c.HeadwayTolerance < 0 || c.HeadwayTolerance >= 1 {
		return fmt.Errorf("HEADWAY_TOLERANCE must be in [0, 1), got %v", c.HeadwayTolerance)
	}
	if c.SchedulerType == "interval" && c.DefaultInterval <= 0 {
		return fmt.Errorf("DEFAULT_INTERVAL must be positive, got %v", c.DefaultInterval)
	}
	if c.SchedulerType == "timetable" && len(c.Timetable) == 0 {
		return errors.New("timetable scheduler requires TIMETABLE_DEPARTURES")
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"DISABLED_PROBABILITY", c.DisabledProbability},
		{"REQUEUE_PROPORTION", c.RequeueProportion},
	} {
		if p.v < 0 || p.v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", p.name, p.v)
		}
	}
	if c.Accel <= 0 || c.Decel <= 0 || c.MaxSpeed <= 0 {
		return fmt.Errorf("vehicle dynamics must be positive: accel=%v decel=%v max_speed=%v", c.Accel, c.Decel, c.MaxSpeed)
	}
	if c.DatabaseURL == "" && (c.ArrivalRatesFile == "" || c.WeightsFile == "") {
		return errors.New("demand data required: set DATABASE_URL or both ARRIVAL_RATES_FILE and WEIGHTS_FILE")
	}
	return nil
}

// parseDirectionLists parses "northbound=9769,9770;southbound=9819".
func parseDirectionLists(s string) (map[string][]string, error) {
	out := make(map[string][]string)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		dir, list, ok := strings.Cut(group, "=")
		if !ok {
			return nil, fmt.Errorf("expected direction=stop,stop in %q", group)
		}
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return nil, fmt.Errorf("empty direction in %q", group)
		}
		out[dir] = splitList(list)
	}
	return out, nil
}

// parseTimetable parses "northbound=21600,23400,25200;southbound=21900".
func parseTimetable(s string) (map[string][]float64, error) {
	out := make(map[string][]float64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		dir, list, ok := strings.Cut(group, "=")
		if !ok {
			return nil, fmt.Errorf("expected direction=sec,sec in %q", group)
		}
		var times []float64
		for _, item := range splitList(list) {
			v, err := strconv.ParseFloat(item, 64)
			if err != nil {
				return nil, fmt.Errorf("bad departure time %q: %v", item, err)
			}
			times = append(times, v)
		}
		out[strings.TrimSpace(dir)] = times
	}
	return out, nil
}

// parseSpecialEvents parses "2025-07-01=2.5;2025-12-25=0.3".
func parseSpecialEvents(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		date, multStr, ok := strings.Cut(group, "=")
		if !ok {
			return nil, fmt.Errorf("expected date=multiplier in %q", group)
		}
		date = strings.TrimSpace(date)
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("bad date %q: %v", date, err)
		}
		mult, err := strconv.ParseFloat(strings.TrimSpace(multStr), 64)
		if err != nil || mult < 0 {
			return nil, fmt.Errorf("bad multiplier %q", multStr)
		}
		out[date] = mult
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func intEnv64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars.
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
