package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock geocoder ---

type mockGeocoder struct {
	results map[string]GeocodingResult
	errs    map[string]error
	queries []string
}

func (m *mockGeocoder) Geocode(_ context.Context, query string) (GeocodingResult, error) {
	m.queries = append(m.queries, query)
	if err, ok := m.errs[query]; ok {
		return GeocodingResult{}, err
	}
	return m.results[query], nil
}

// slowGeocoder blocks until the attempt deadline expires.
type slowGeocoder struct {
	calls int
}

func (s *slowGeocoder) Geocode(ctx context.Context, _ string) (GeocodingResult, error) {
	s.calls++
	<-ctx.Done()
	return GeocodingResult{}, ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLocator(g Geocoder) *AddressLocator {
	return NewAddressLocator(g, LocatorOptions{Timeout: time.Second, State: "CA"}, discardLogger())
}

const (
	testAddress      = "1234 Main St, Fresno, CA 93721"
	testFullQuery    = "1234 Main St, Fresno, CA 93721, USA"
	testFallbackCity = "Fresno, CA, USA"
)

// --- tests ---

func TestLocate_FullAddressSuccess(t *testing.T) {
	geo := &mockGeocoder{results: map[string]GeocodingResult{
		testFullQuery: {Lat: 36.7378, Lon: -119.7871},
	}}

	got, ok := newTestLocator(geo).Locate(context.Background(), testAddress)

	require.True(t, ok)
	assert.Equal(t, Geo{Lat: 36.7378, Lon: -119.7871}, got)
	assert.Equal(t, []string{testFullQuery}, geo.queries)
}

func TestLocate_FallbackToCitySuccess(t *testing.T) {
	geo := &mockGeocoder{results: map[string]GeocodingResult{
		testFallbackCity: {Lat: 36.74, Lon: -119.79},
	}}

	got, ok := newTestLocator(geo).Locate(context.Background(), testAddress)

	require.True(t, ok)
	assert.Equal(t, Geo{Lat: 36.74, Lon: -119.79}, got)
	assert.Equal(t, []string{testFullQuery, testFallbackCity}, geo.queries)
}

func TestLocate_BothAttemptsMiss(t *testing.T) {
	geo := &mockGeocoder{}

	_, ok := newTestLocator(geo).Locate(context.Background(), testAddress)

	assert.False(t, ok)
	assert.Len(t, geo.queries, 2, "at most two network attempts")
}

func TestLocate_FirstAttemptErrorIsTerminal(t *testing.T) {
	geo := &mockGeocoder{errs: map[string]error{
		testFullQuery: errors.New("service unavailable"),
	}}

	_, ok := newTestLocator(geo).Locate(context.Background(), testAddress)

	assert.False(t, ok)
	assert.Equal(t, []string{testFullQuery}, geo.queries, "no fallback after an error")
}

func TestLocate_FallbackError(t *testing.T) {
	geo := &mockGeocoder{errs: map[string]error{
		testFallbackCity: errors.New("rate limited"),
	}}

	_, ok := newTestLocator(geo).Locate(context.Background(), testAddress)

	assert.False(t, ok)
	assert.Len(t, geo.queries, 2)
}

func TestLocate_TimeoutIsTerminal(t *testing.T) {
	geo := &slowGeocoder{}
	l := NewAddressLocator(geo, LocatorOptions{Timeout: 20 * time.Millisecond}, discardLogger())

	_, ok := l.Locate(context.Background(), testAddress)

	assert.False(t, ok)
	assert.Equal(t, 1, geo.calls)
}

func TestLocate_EmptyAddress(t *testing.T) {
	geo := &mockGeocoder{}

	_, ok := newTestLocator(geo).Locate(context.Background(), "  ")

	assert.False(t, ok)
	assert.Empty(t, geo.queries, "no network call for a blank address")
}

func TestLocate_NilGeocoder(t *testing.T) {
	_, ok := newTestLocator(nil).Locate(context.Background(), testAddress)
	assert.False(t, ok)
}

func TestLocate_NoFallbackOutsideState(t *testing.T) {
	geo := &mockGeocoder{}

	_, ok := newTestLocator(geo).Locate(context.Background(), "10 Elm St, Reno, NV 89501")

	assert.False(t, ok)
	assert.Equal(t, []string{"10 Elm St, Reno, NV 89501, USA"}, geo.queries)
}

func TestLocate_SingleAttemptBudget(t *testing.T) {
	geo := &mockGeocoder{}
	l := NewAddressLocator(geo, LocatorOptions{Timeout: time.Second, MaxAttempts: 1}, discardLogger())

	_, ok := l.Locate(context.Background(), testAddress)

	assert.False(t, ok)
	assert.Len(t, geo.queries, 1)
}

func TestLocate_AlreadyHasCountry(t *testing.T) {
	geo := &mockGeocoder{results: map[string]GeocodingResult{
		"1 Library Way, Oakland, CA, USA": {Lat: 37.8, Lon: -122.27},
	}}

	_, ok := newTestLocator(geo).Locate(context.Background(), "1 Library Way, Oakland, CA, USA")

	assert.True(t, ok)
	assert.Equal(t, []string{"1 Library Way, Oakland, CA, USA"}, geo.queries)
}

func TestWithCountry(t *testing.T) {
	assert.Equal(t, "5 Oak Ave, Davis, CA 95616, USA", WithCountry("5 Oak Ave, Davis, CA 95616"))
	assert.Equal(t, "5 Oak Ave, Davis, CA, USA", WithCountry("5 Oak Ave, Davis, CA, USA"))
	assert.Equal(t, "PO Box 1, Davis, CA, US", WithCountry("PO Box 1, Davis, CA, US"))
}
