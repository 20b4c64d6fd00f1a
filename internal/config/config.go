package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Jamieflana/Urban-Computing-Frontend/internal/logging"
)

// ConfigError reports one missing or invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

type Config struct {
	BackendURL string
	RouterURL  string
	IDToken    string

	SampleInterval      time.Duration
	StationPollInterval time.Duration
	FusionPollInterval  time.Duration
	RouteThrottle       time.Duration
	HTTPTimeout         time.Duration

	GPSSource string
	AutoStart bool

	ListenAddr        string
	MetricsAddr       string
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	LogLevel          slog.Level
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an arbitrary lookup so tests don't touch the
// process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(getenv("BACKEND_URL")), "/")
	if cfg.BackendURL == "" {
		errs = append(errs, &ConfigError{Field: "BACKEND_URL", Message: "required but not set"})
	} else if err := validateURL(cfg.BackendURL); err != nil {
		errs = append(errs, &ConfigError{Field: "BACKEND_URL", Message: err.Error()})
	}

	cfg.RouterURL = strings.TrimRight(getenvDefault(getenv, "ROUTER_URL", "https://router.project-osrm.org"), "/")
	if err := validateURL(cfg.RouterURL); err != nil {
		errs = append(errs, &ConfigError{Field: "ROUTER_URL", Message: err.Error()})
	}

	cfg.IDToken = strings.TrimSpace(getenv("ID_TOKEN"))

	var err error
	if cfg.SampleInterval, err = durationVar(getenv, "SAMPLE_INTERVAL_MS", time.Millisecond, 1500*time.Millisecond); err != nil {
		errs = append(errs, err)
	}
	if cfg.StationPollInterval, err = durationVar(getenv, "STATION_POLL_INTERVAL_SEC", time.Second, 180*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.FusionPollInterval, err = durationVar(getenv, "FUSION_POLL_INTERVAL_SEC", time.Second, 18*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RouteThrottle, err = durationVar(getenv, "ROUTE_THROTTLE_MS", time.Millisecond, 500*time.Millisecond); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPTimeout, err = durationVar(getenv, "HTTP_TIMEOUT_MS", time.Millisecond, 10*time.Second); err != nil {
		errs = append(errs, err)
	}

	cfg.GPSSource = getenvDefault(getenv, "GPS_SOURCE", "none")
	cfg.AutoStart = parseBool(getenv("AUTO_START"))

	// Empty disables the local API.
	cfg.ListenAddr = getenvDefault(getenv, "LISTEN_ADDR", ":8088")
	if getenv("LISTEN_ADDR") == "-" {
		cfg.ListenAddr = ""
	}
	cfg.MetricsAddr = getenv("METRICS_ADDR")
	cfg.NATSURL = getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault(getenv, "NATS_SUBJECT_PREFIX", "bikecompanion")
	cfg.LogNATSSubjects = parseBool(getenv("LOG_NATS_SUBJECTS"))

	if cfg.LogLevel, err = logging.ParseLevel(getenv("LOG_LEVEL")); err != nil {
		errs = append(errs, &ConfigError{Field: "LOG_LEVEL", Message: err.Error()})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func durationVar(getenv func(string) string, key string, unit, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("must be a positive integer, got %q", v)}
	}
	return time.Duration(n) * unit, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(getenv func(string) string, k, def string) string {
	if v := getenv(k); v != "" {
		return v
	}
	return def
}
