package render

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"geo-contacts/src/geo"
	"geo-contacts/src/graph"
	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

func TestLabelPoints(t *testing.T) {
	testCases := []struct {
		count int64
		want  float64
	}{
		{2_000_000, 20},
		{1_000_000, 20},
		{999_999, 15},
		{100_001, 15},
		{100_000, 10},
		{5, 10},
	}
	for _, tc := range testCases {
		if got := LabelPoints(tc.count); got != tc.want {
			t.Errorf("LabelPoints(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestProjectAndRadius(t *testing.T) {
	x, y := Project(geo.Point{Lat: 0, Lon: 0}, 360, 180)
	if x != 180 || y != 90 {
		t.Errorf("origin projects to %v,%v", x, y)
	}
	x, y = Project(geo.Point{Lat: 90, Lon: -180}, 360, 180)
	if x != 0 || y != 0 {
		t.Errorf("north west corner projects to %v,%v", x, y)
	}
	if r := Radius(1000, 1000, 40); r != 40 {
		t.Errorf("largest radius = %v, want 40", r)
	}
	if r := Radius(10, 1000, 40); r <= 0 || r >= 40 {
		t.Errorf("radius %v out of range", r)
	}
}

func TestBubbleMap(t *testing.T) {
	places := []geo.Place{
		{Code: "us", Count: 2_000_000, Point: geo.Point{Lat: 39.78, Lon: -100.45}},
		{Code: "de", Count: 5000, Point: geo.Point{Lat: 51.16, Lon: 10.45}},
	}
	var buf bytes.Buffer
	if err := BubbleMap(&buf, places, MapConfig{Width: 400}); err != nil {
		t.Fatalf("BubbleMap failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 200 {
		t.Errorf("unexpected size %v", b)
	}
}

func TestDegreeBars(t *testing.T) {
	hist := []graph.Bin{{Lo: 0, Hi: 1, Count: 10}, {Lo: 1, Hi: 10, Count: 3}}
	var buf bytes.Buffer
	if err := DegreeBars(&buf, hist, BarsConfig{Title: "in-degree"}); err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Errorf("output is not a PNG: %v", err)
	}
}

func locationTable() *pipeline.Table {
	t := pipeline.NewTable(1)
	add := func(src, dst string, w int64) {
		p := pipeline.Pair{}
		if src != "" {
			p.Source = records.Resolved(src)
		}
		if dst != "" {
			p.Destination = records.Resolved(dst)
		}
		t.Add(p, []int64{w})
	}
	add("us", "ca", 5)
	add("us", "us", 50)
	add("de", "", 40)
	add("ca", "us", 7)
	add("de", "us", 1)
	return t
}

func TestTopEdges(t *testing.T) {
	top := TopEdges(locationTable(), GraphConfig{TopN: 2})
	if len(top) != 2 || top[0].Weights[0] != 7 || top[1].Weights[0] != 5 {
		t.Errorf("unexpected top edges %+v", top)
	}
	all := TopEdges(locationTable(), GraphConfig{IncludeMissing: true, SelfLoops: true})
	if len(all) != 5 || all[0].Weights[0] != 50 || all[1].Weights[0] != 40 {
		t.Errorf("unexpected edges %+v", all)
	}
}

// TestLocationGraphDot renders the graph as dot text.
func TestLocationGraphDot(t *testing.T) {
	var buf bytes.Buffer
	if err := LocationGraph(&buf, locationTable(), GraphConfig{TopN: 3, Format: "dot"}); err != nil {
		t.Fatalf("LocationGraph failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"us", "ca", "de", "7"} {
		if !strings.Contains(out, want) {
			t.Errorf("dot output lacks %q:\n%s", want, out)
		}
	}
}
