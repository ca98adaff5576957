package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score, when reported
}

// Found reports whether the provider returned a usable coordinate.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves a free-text address query to coordinates.
// An empty result with a nil error means the provider had no match.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeocodingResult, error)
}
