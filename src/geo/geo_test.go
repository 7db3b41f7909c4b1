package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

func nominatimServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.Header.Get("User-Agent") != "geo-contacts-test" {
			http.Error(w, "missing user agent", http.StatusForbidden)
			return
		}
		switch r.URL.Query().Get("q") {
		case "us":
			w.Write([]byte(`[{"lat":"39.7837304","lon":"-100.445882","display_name":"United States"}]`))
		case "de":
			w.Write([]byte(`[{"lat":"51.1638175","lon":"10.4478313"}]`))
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNominatimGeocode(t *testing.T) {
	var calls int32
	srv := nominatimServer(t, &calls)
	n := NewNominatim(NominatimConfig{BaseURL: srv.URL, UserAgent: "geo-contacts-test", Delay: time.Millisecond})

	p, err := n.Geocode(context.Background(), "us")
	if err != nil {
		t.Fatalf("Geocode failed: %v", err)
	}
	if p.Lat != 39.7837304 || p.Lon != -100.445882 {
		t.Errorf("unexpected point %+v", p)
	}
	if _, err := n.Geocode(context.Background(), "atlantis"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := n.Geocode(context.Background(), "broken"); err == nil {
		t.Error("Expected an error for a server failure")
	}
	if calls != 3 {
		t.Errorf("Expected 3 requests without retries, got %d", calls)
	}
}

// TestNominatimDelay checks the fixed spacing between requests.
func TestNominatimDelay(t *testing.T) {
	var calls int32
	srv := nominatimServer(t, &calls)
	n := NewNominatim(NominatimConfig{BaseURL: srv.URL, UserAgent: "geo-contacts-test", Delay: 50 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := n.Geocode(context.Background(), "de"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three requests took %v, expected at least two delays", elapsed)
	}
}

type fakeGeocoder map[string]Point

func (f fakeGeocoder) Geocode(ctx context.Context, query string) (Point, error) {
	if p, ok := f[query]; ok {
		return p, nil
	}
	return Point{}, ErrNotFound
}

func TestGeocodeTable(t *testing.T) {
	input := "i,j,count\n" +
		"'us','us',5000\n" +
		"us,de,9000\n" +
		"'de','de',999\n" +
		"ps,ps,2000\n" +
		"zz,zz,4000\n" +
		"NONE,NONE,100000\n"
	table, err := pipeline.ReadTable(strings.NewReader(input), "NONE")
	if err != nil {
		t.Fatal(err)
	}
	g := fakeGeocoder{"us": {Lat: 1, Lon: 2}, "de": {Lat: 3, Lon: 4}, "ps": {Lat: 0, Lon: 0}}
	places, stats, err := GeocodeTable(context.Background(), table, g, TableConfig{
		MinCount:  1000,
		Overrides: map[string]Point{"ps": {Lat: 31.5, Lon: 34.75}},
	})
	if err != nil {
		t.Fatalf("GeocodeTable failed: %v", err)
	}
	if stats.Rows != 6 || stats.Kept != 3 || stats.Geocoded != 1 || stats.Overridden != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	var out strings.Builder
	if err := WritePlaces(&out, places); err != nil {
		t.Fatal(err)
	}
	want := "code,count,lat,lon\nus,5000,1,2\nps,2000,31.5,34.75\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	back, err := ReadPlaces(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("ReadPlaces failed: %v", err)
	}
	if len(back) != 2 || back[1].Code != "ps" || back[1].Lat != 31.5 {
		t.Errorf("unexpected places %+v", back)
	}
}

// TestGeocodeTableOverrideCase matches overrides regardless of the case of the YAML key or the
// table code.
func TestGeocodeTableOverrideCase(t *testing.T) {
	input := "i,j,count\nps,ps,2000\n'CA','CA',3000\n"
	table, err := pipeline.ReadTable(strings.NewReader(input), "NONE")
	if err != nil {
		t.Fatal(err)
	}
	places, stats, err := GeocodeTable(context.Background(), table, fakeGeocoder{}, TableConfig{
		Overrides: map[string]Point{"PS": {Lat: 31.5, Lon: 34.75}, "ca": {Lat: 56, Lon: -106}},
	})
	if err != nil {
		t.Fatalf("GeocodeTable failed: %v", err)
	}
	if stats.Overridden != 2 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(places) != 2 || places[0].Code != "ps" || places[0].Lat != 31.5 || places[1].Code != "CA" || places[1].Lon != -106 {
		t.Errorf("unexpected places %+v", places)
	}
}

func TestGeocodeTableCancelled(t *testing.T) {
	table := pipeline.NewTable(1)
	table.Add(pipeline.Pair{Source: records.Resolved("us"), Destination: records.Resolved("us")}, []int64{1})
	var calls int32
	srv := nominatimServer(t, &calls)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewNominatim(NominatimConfig{BaseURL: srv.URL, UserAgent: "geo-contacts-test"})
	if _, _, err := GeocodeTable(ctx, table, n, TableConfig{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
