package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/robfig/cron/v3"
)

// Geocoder providers accepted by GEOCODER_PROVIDER.
const (
	ProviderNominatim = "nominatim"
	ProviderMapbox    = "mapbox"
	ProviderNone      = "none"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// Config holds all service settings, populated from environment variables.
type Config struct {
	RosterPath            string
	RosterState           string
	EventLogPath          string
	QueueDBPath           string
	CalendarOverridesPath string

	// Zero values mean "derive from the clock when the aggregator is built".
	DefaultYear int
	UndatedDate string

	GeocoderProvider   string
	GeocoderTimeout    time.Duration
	GeocoderAttempts   int
	NominatimURL       string
	NominatimUserAgent string
	MapboxToken        string

	BrowserEnabled bool
	BrowserTimeout time.Duration
	FetchTimeout   time.Duration

	IngestSchedule string

	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether capture batches are published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	geocoderTimeout, err := parsePositiveDuration("GEOCODER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	browserTimeout, err := parsePositiveDuration("BROWSER_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	attempts, err := parseGeocoderAttempts()
	if err != nil {
		return nil, err
	}
	defaultYear, err := parseDefaultYear()
	if err != nil {
		return nil, err
	}
	undatedDate, err := parseUndatedDate()
	if err != nil {
		return nil, err
	}
	browserEnabled, err := parseBool("BROWSER_ENABLED")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RosterPath:            sharedcfg.EnvOrDefault("ROSTER_PATH", "libraries.csv"),
		RosterState:           strings.ToUpper(sharedcfg.EnvOrDefault("ROSTER_STATE", "CA")),
		EventLogPath:          sharedcfg.EnvOrDefault("EVENT_LOG_PATH", "library_events.csv"),
		QueueDBPath:           sharedcfg.EnvOrDefault("QUEUE_DB_PATH", "ingest.db"),
		CalendarOverridesPath: os.Getenv("CALENDAR_OVERRIDES_PATH"),

		DefaultYear: defaultYear,
		UndatedDate: undatedDate,

		GeocoderProvider:   strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER_PROVIDER", ProviderNominatim)),
		GeocoderTimeout:    geocoderTimeout,
		GeocoderAttempts:   attempts,
		NominatimURL:       sharedcfg.EnvOrDefault("NOMINATIM_URL", defaultNominatimURL),
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "library_events"),
		MapboxToken:        os.Getenv("MAPBOX_TOKEN"),

		BrowserEnabled: browserEnabled,
		BrowserTimeout: browserTimeout,
		FetchTimeout:   fetchTimeout,

		IngestSchedule: strings.TrimSpace(os.Getenv("INGEST_SCHEDULE")),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "library-events"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":5001"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	switch cfg.GeocoderProvider {
	case ProviderNominatim, ProviderNone:
	case ProviderMapbox:
		if cfg.MapboxToken == "" {
			return nil, errors.New("GEOCODER_PROVIDER is mapbox but MAPBOX_TOKEN is not set")
		}
	default:
		return nil, fmt.Errorf("invalid GEOCODER_PROVIDER %q: must be nominatim, mapbox, or none", cfg.GeocoderProvider)
	}
	if len(cfg.RosterState) != 2 {
		return nil, errors.New("invalid ROSTER_STATE: must be a two-letter state code")
	}
	if cfg.IngestSchedule != "" {
		if _, err := cron.ParseStandard(cfg.IngestSchedule); err != nil {
			return nil, fmt.Errorf("invalid INGEST_SCHEDULE: %w", err)
		}
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseGeocoderAttempts() (int, error) {
	s := os.Getenv("GEOCODER_ATTEMPTS")
	if s == "" {
		return 2, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 2 {
		return 0, errors.New("invalid GEOCODER_ATTEMPTS: must be 1 or 2")
	}
	return n, nil
}

func parseDefaultYear() (int, error) {
	s := os.Getenv("DEFAULT_YEAR")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 9999 {
		return 0, errors.New("invalid DEFAULT_YEAR: must be a four-digit year")
	}
	return n, nil
}

func parseUndatedDate() (string, error) {
	s := os.Getenv("UNDATED_DATE")
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", errors.New("invalid UNDATED_DATE: must be YYYY-MM-DD")
	}
	return s, nil
}

func parseBool(key string) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return b, nil
}
