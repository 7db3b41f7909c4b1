// Package render draws the result tables: a world bubble map of same-country contacts, a
// degree histogram and a location-to-location graph.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/fogleman/gg"

	"geo-contacts/src/geo"
)

// MapConfig controls the bubble map.
type MapConfig struct {
	Width  int
	Height int
	// MaxRadius is the radius in pixels of the largest count.
	MaxRadius float64
	// FontPath is an optional TrueType font; the built-in face is scaled otherwise.
	FontPath string
}

func (c *MapConfig) defaults() {
	if c.Width <= 0 {
		c.Width = 2048
	}
	if c.Height <= 0 {
		c.Height = c.Width / 2
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = 40
	}
}

// LabelPoints returns the label size for count: 20 for a million or more, 15 above a
// hundred thousand and 10 otherwise.
func LabelPoints(count int64) float64 {
	switch {
	case count >= 1_000_000:
		return 20
	case count > 100_000:
		return 15
	default:
		return 10
	}
}

// Project maps a coordinate onto an equirectangular image of width by height pixels.
func Project(p geo.Point, width, height int) (x, y float64) {
	x = (p.Lon + 180) / 360 * float64(width)
	y = (90 - p.Lat) / 180 * float64(height)
	return x, y
}

// Radius scales a bubble by log(count) so the largest place gets maxRadius.
func Radius(count, largest int64, maxRadius float64) float64 {
	if count <= 0 || largest <= 0 {
		return 0
	}
	return maxRadius * (math.Log1p(float64(count)) / math.Log1p(float64(largest)))
}

var (
	background = color.RGBA{250, 250, 248, 255}
	grid       = color.RGBA{220, 220, 220, 255}
	bubble     = color.RGBA{100, 149, 237, 153} // cornflowerblue, 0.6 opacity
	label      = color.RGBA{0, 100, 0, 255}
)

// BubbleMap draws one bubble per place, labelled with its count, and writes a PNG to w.
func BubbleMap(w io.Writer, places []geo.Place, cfg MapConfig) error {
	cfg.defaults()
	dc := gg.NewContext(cfg.Width, cfg.Height)
	dc.SetColor(background)
	dc.Clear()

	dc.SetColor(grid)
	dc.SetLineWidth(1)
	for lon := -180.0; lon <= 180; lon += 30 {
		x, _ := Project(geo.Point{Lon: lon}, cfg.Width, cfg.Height)
		dc.DrawLine(x, 0, x, float64(cfg.Height))
	}
	for lat := -90.0; lat <= 90; lat += 30 {
		_, y := Project(geo.Point{Lat: lat}, cfg.Width, cfg.Height)
		dc.DrawLine(0, y, float64(cfg.Width), y)
	}
	dc.Stroke()

	// Small bubbles on top.
	sorted := append([]geo.Place(nil), places...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	var largest int64
	if len(sorted) > 0 {
		largest = sorted[0].Count
	}

	dc.SetColor(bubble)
	for _, p := range sorted {
		x, y := Project(p.Point, cfg.Width, cfg.Height)
		dc.DrawCircle(x, y, Radius(p.Count, largest, cfg.MaxRadius))
		dc.Fill()
	}

	dc.SetColor(label)
	for _, p := range sorted {
		x, y := Project(p.Point, cfg.Width, cfg.Height)
		if err := drawLabel(dc, strconv.FormatInt(p.Count, 10), x, y, LabelPoints(p.Count), cfg.FontPath); err != nil {
			return err
		}
	}
	return dc.EncodePNG(w)
}

// drawLabel draws text centred on x,y at the given size.
func drawLabel(dc *gg.Context, text string, x, y, points float64, fontPath string) error {
	if fontPath != "" {
		if err := dc.LoadFontFace(fontPath, points); err != nil {
			return fmt.Errorf("load font %s: %w", fontPath, err)
		}
		dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
		return nil
	}
	// The built-in face is 13px high, roughly 10pt.
	scale := points / 10
	dc.Push()
	dc.ScaleAbout(scale, scale, x, y)
	dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
	dc.Pop()
	return nil
}
