package graph

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bin is one histogram bucket covering degrees in [Lo, Hi).
type Bin struct {
	Lo    float64
	Hi    float64
	Count int
}

// Histogram buckets degrees into log-spaced bins. Degrees are shifted by one before binning
// so that zero in- or out-degrees land in the first bin.
func Histogram(degrees []NodeDegree, bins int) []Bin {
	if len(degrees) == 0 {
		return nil
	}
	if bins < 1 {
		bins = 10
	}
	x := make([]float64, len(degrees))
	for i, nd := range degrees {
		x[i] = float64(nd.Degree) + 1
	}
	sort.Float64s(x)

	upper := x[len(x)-1] + 1
	dividers := floats.LogSpan(make([]float64, bins+1), 1, upper)
	// LogSpan can round the last divider below upper.
	dividers[len(dividers)-1] = math.Nextafter(upper, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)
	out := make([]Bin, 0, len(counts))
	for i, c := range counts {
		out = append(out, Bin{Lo: dividers[i] - 1, Hi: dividers[i+1] - 1, Count: int(c)})
	}
	return out
}

// WriteHistogram prints one line per bin with a bar scaled to width characters.
func WriteHistogram(w io.Writer, hist []Bin, width int) error {
	most := 0
	for _, b := range hist {
		if b.Count > most {
			most = b.Count
		}
	}
	for _, b := range hist {
		bar := 0
		if most > 0 {
			bar = b.Count * width / most
		}
		if _, err := fmt.Fprintf(w, "[%10.1f, %10.1f) %8d %s\n", b.Lo, b.Hi, b.Count, strings.Repeat("#", bar)); err != nil {
			return err
		}
	}
	return nil
}
