// Package geo resolves country codes to coordinates.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the geocoder has no result for a query.
var ErrNotFound = errors.New("no geocoding result")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Geocoder turns a place query into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Point, error)
}

// NominatimConfig configures the Nominatim client.
type NominatimConfig struct {
	BaseURL   string
	UserAgent string
	// Delay is the fixed pause between two requests.
	Delay   time.Duration
	Timeout time.Duration
}

// Nominatim queries the search endpoint of a Nominatim server. Requests are spaced by a
// fixed delay and never retried.
type Nominatim struct {
	base    string
	agent   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewNominatim returns a client for cfg. Zero fields get the public server defaults.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "geo-contacts"
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Nominatim{
		base:    cfg.BaseURL,
		agent:   cfg.UserAgent,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
	}
}

// Geocode returns the first search result for query.
func (n *Nominatim) Geocode(ctx context.Context, query string) (Point, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return Point{}, err
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/search?"+params.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", n.agent)

	resp, err := n.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: %w", query, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("geocode %q: unexpected status %s", query, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: %w", query, err)
	}
	if !gjson.ValidBytes(body) {
		return Point{}, fmt.Errorf("geocode %q: invalid JSON response", query)
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return Point{}, fmt.Errorf("%w for %q", ErrNotFound, query)
	}
	// Nominatim returns coordinates as strings.
	lat, err := strconv.ParseFloat(first.Get("lat").String(), 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: latitude: %w", query, err)
	}
	lon, err := strconv.ParseFloat(first.Get("lon").String(), 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: longitude: %w", query, err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}
