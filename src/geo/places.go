package geo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

// Place is a geocoded country with its internal contact count.
type Place struct {
	Code  string
	Count int64
	Point
}

// TableConfig controls which rows of a country table are geocoded.
type TableConfig struct {
	// MinCount drops places with fewer contacts.
	MinCount int64
	// Overrides replace the geocoder for the given codes, matched case-insensitively.
	Overrides map[string]Point
	Logger    *slog.Logger
}

// TableStats are the diagnostics of GeocodeTable.
type TableStats struct {
	Rows       int
	Kept       int
	Geocoded   int
	Overridden int
	Failed     int
}

// GeocodeTable geocodes the same-country rows of t, where source and destination are the
// same known code, using the first weight column as the count. Geocoding failures are logged,
// counted and skipped. Context cancellation aborts the run.
func GeocodeTable(ctx context.Context, t *pipeline.Table, g Geocoder, cfg TableConfig) ([]Place, TableStats, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var (
		stats  TableStats
		places []Place
	)
	overrides := make(map[string]Point, len(cfg.Overrides))
	for code, p := range cfg.Overrides {
		overrides[strings.ToLower(cleanCode(code))] = p
	}
	for _, e := range t.Entries() {
		stats.Rows++
		src, dst := e.Pair.Source, e.Pair.Destination
		if !src.Known || !dst.Known || src.Value != dst.Value {
			continue
		}
		count := e.Weights[0]
		if count < cfg.MinCount {
			continue
		}
		stats.Kept++
		code := cleanCode(src.Value)

		if p, ok := overrides[strings.ToLower(code)]; ok {
			stats.Overridden++
			places = append(places, Place{Code: code, Count: count, Point: p})
			continue
		}
		p, err := g.Geocode(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return places, stats, ctx.Err()
			}
			stats.Failed++
			logger.Warn("Geocoding failed", "code", code, "error", err)
			continue
		}
		stats.Geocoded++
		places = append(places, Place{Code: code, Count: count, Point: p})
	}
	return places, stats, nil
}

// cleanCode strips the list punctuation older tables left around codes, as in 'us'.
func cleanCode(v string) string {
	return strings.Trim(v, "[]'\" ")
}

var placeHeader = []string{"code", "count", "lat", "lon"}

// WritePlaces writes code,count,lat,lon rows.
func WritePlaces(w io.Writer, places []Place) error {
	out := csv.NewWriter(w)
	out.Write(placeHeader)
	for _, p := range places {
		out.Write([]string{
			p.Code,
			strconv.FormatInt(p.Count, 10),
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
		})
	}
	out.Flush()
	return out.Error()
}

// ReadPlaces reads a file written by WritePlaces.
func ReadPlaces(r io.Reader) ([]Place, error) {
	reader := csv.NewReader(records.StripNUL(r))
	reader.FieldsPerRecord = len(placeHeader)
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read places header: %w", err)
	}
	var places []Place
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return places, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read places: %w", err)
		}
		var p Place
		p.Code = row[0]
		if p.Count, err = strconv.ParseInt(row[1], 10, 64); err != nil {
			return nil, fmt.Errorf("%w: count %q", records.ErrMalformed, row[1])
		}
		if p.Lat, err = strconv.ParseFloat(row[2], 64); err != nil {
			return nil, fmt.Errorf("%w: latitude %q", records.ErrMalformed, row[2])
		}
		if p.Lon, err = strconv.ParseFloat(row[3], 64); err != nil {
			return nil, fmt.Errorf("%w: longitude %q", records.ErrMalformed, row[3])
		}
		places = append(places, p)
	}
}
