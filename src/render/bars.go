package render

import (
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"

	"geo-contacts/src/graph"
)

// BarsConfig controls the degree histogram chart.
type BarsConfig struct {
	Width  int
	Height int
	Title  string
}

// DegreeBars draws one bar per histogram bin and writes a PNG to w. Bar heights are
// proportional to the bin count.
func DegreeBars(w io.Writer, hist []graph.Bin, cfg BarsConfig) error {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	const margin = 40.0
	dc := gg.NewContext(cfg.Width, cfg.Height)
	dc.SetColor(color.White)
	dc.Clear()

	most := 0
	for _, b := range hist {
		if b.Count > most {
			most = b.Count
		}
	}
	plotW := float64(cfg.Width) - 2*margin
	plotH := float64(cfg.Height) - 2*margin

	dc.SetColor(color.Black)
	if cfg.Title != "" {
		dc.DrawStringAnchored(cfg.Title, float64(cfg.Width)/2, margin/2, 0.5, 0.5)
	}
	dc.DrawLine(margin, margin+plotH, margin+plotW, margin+plotH)
	dc.Stroke()
	if len(hist) == 0 || most == 0 {
		return dc.EncodePNG(w)
	}

	slot := plotW / float64(len(hist))
	for i, b := range hist {
		h := plotH * float64(b.Count) / float64(most)
		x := margin + float64(i)*slot
		dc.SetRGB(0.27, 0.51, 0.71)
		dc.DrawRectangle(x+slot*0.1, margin+plotH-h, slot*0.8, h)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", b.Lo), x+slot/2, margin+plotH+12, 0.5, 0.5)
		dc.DrawStringAnchored(fmt.Sprint(b.Count), x+slot/2, margin+plotH-h-8, 0.5, 0.5)
	}
	return dc.EncodePNG(w)
}
