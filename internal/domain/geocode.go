package domain

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultGeocodeTimeout bounds a single provider lookup.
	DefaultGeocodeTimeout = 10 * time.Second
	// MaxGeocodeAttempts is the full-address lookup plus the city fallback.
	MaxGeocodeAttempts = 2
)

// LocatorOptions configures an AddressLocator.
type LocatorOptions struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int           // 1 disables the city fallback
	State       string        // two-letter state used for the city fallback, e.g. "CA"
}

// AddressLocator resolves library street addresses to coordinates with at
// most two provider lookups: the full address, then "<city>, <state>, USA".
type AddressLocator struct {
	geocoder    Geocoder
	timeout     time.Duration
	maxAttempts int
	state       string
	cityRe      *regexp.Regexp
	logger      *slog.Logger
}

// NewAddressLocator creates a locator. A nil geocoder makes every lookup miss.
func NewAddressLocator(geocoder Geocoder, opts LocatorOptions, logger *slog.Logger) *AddressLocator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGeocodeTimeout
	}
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > MaxGeocodeAttempts {
		opts.MaxAttempts = MaxGeocodeAttempts
	}
	if opts.State == "" {
		opts.State = "CA"
	}
	return &AddressLocator{
		geocoder:    geocoder,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		state:       opts.State,
		cityRe:      regexp.MustCompile(`([^,]+),\s*` + regexp.QuoteMeta(opts.State)),
		logger:      logger,
	}
}

// Locate returns the coordinates for address. It never returns an error:
// blank addresses, provider errors, timeouts and misses all yield ok=false
// (graceful degradation, the caller just omits the map pin).
func (l *AddressLocator) Locate(ctx context.Context, address string) (Geo, bool) {
	if strings.TrimSpace(address) == "" {
		l.logger.Warn("empty address provided")
		return Geo{}, false
	}
	if l.geocoder == nil {
		return Geo{}, false
	}

	query := WithCountry(address)

	result, err := l.attempt(ctx, query)
	if err != nil {
		l.logFailure(address, query, err)
		return Geo{}, false
	}

	if !result.Found() && l.maxAttempts > 1 {
		if city, ok := l.fallbackCity(query); ok {
			query = city + ", " + l.state + ", USA"
			result, err = l.attempt(ctx, query)
			if err != nil {
				l.logFailure(address, query, err)
				return Geo{}, false
			}
		}
	}

	if !result.Found() {
		l.logger.Warn("no coordinates found for address", "address", address)
		return Geo{}, false
	}

	l.logger.Debug("found coordinates for address",
		"address", address,
		"lat", result.Lat,
		"lon", result.Lon,
	)
	return Geo{Lat: result.Lat, Lon: result.Lon}, true
}

func (l *AddressLocator) attempt(ctx context.Context, query string) (GeocodingResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.geocoder.Geocode(attemptCtx, query)
}

// fallbackCity extracts the city preceding ", <state>" in query.
func (l *AddressLocator) fallbackCity(query string) (string, bool) {
	if !strings.Contains(query, ", "+l.state) {
		return "", false
	}
	m := l.cityRe.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	city := strings.TrimSpace(m[1])
	return city, city != ""
}

func (l *AddressLocator) logFailure(address, query string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		l.logger.Error("geocoding timeout for address", "address", address, "query", query)
		return
	}
	l.logger.Error("geocoding address failed", "address", address, "query", query, "error", err)
}

// WithCountry appends ", USA" unless the address already names the country.
func WithCountry(address string) string {
	if strings.Contains(address, "USA") || strings.Contains(address, "US") {
		return address
	}
	return address + ", USA"
}
