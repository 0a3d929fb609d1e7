package steps

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
)

const chartSize = 640

var (
	chartGrid   = color.NRGBA{R: 0xd0, G: 0xd4, B: 0xdc, A: 0xff}
	chartFill   = color.NRGBA{R: 0x4f, G: 0x8c, B: 0xff, A: 0x66}
	chartStroke = color.NRGBA{R: 0x2f, G: 0x5f, B: 0xd0, A: 0xff}
	chartText   = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// ChartRenderer draws the twelve radar dimensions as a PNG polygon chart.
type ChartRenderer struct {
	face font.Face
	// localized is true when the face was loaded from a configured font that can draw the display labels.
	localized bool
}

// NewChartRenderer uses the TTF at fontPath when given, otherwise the embedded Go font
// with latin dimension names.
func NewChartRenderer(fontPath string) (*ChartRenderer, error) {
	raw := goregular.TTF
	localized := false
	if p := strings.TrimSpace(fontPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read chart font: %w", err)
		}
		raw = b
		localized = true
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse chart font: %w", err)
	}
	face := truetype.NewFace(parsed, &truetype.Options{
		Size:    14,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	return &ChartRenderer{face: face, localized: localized}, nil
}

// Render returns the PNG bytes of the radar chart with title drawn at the top.
func (c *ChartRenderer) Render(r growth.RadarData, title string) ([]byte, error) {
	dims := r.Flatten()
	n := len(dims)
	dc := gg.NewContext(chartSize, chartSize)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(c.face)

	cx, cy := float64(chartSize)/2, float64(chartSize)/2+16
	radius := float64(chartSize)/2 - 90
	angle := func(i int) float64 { return -math.Pi/2 + 2*math.Pi*float64(i)/float64(n) }

	dc.SetColor(chartGrid)
	dc.SetLineWidth(1)
	for ring := 1; ring <= 4; ring++ {
		rr := radius * float64(ring) / 4
		for i := 0; i < n; i++ {
			x, y := cx+rr*math.Cos(angle(i)), cy+rr*math.Sin(angle(i))
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.Stroke()
	}
	for i := 0; i < n; i++ {
		dc.DrawLine(cx, cy, cx+radius*math.Cos(angle(i)), cy+radius*math.Sin(angle(i)))
		dc.Stroke()
	}

	for i, d := range dims {
		v := math.Max(0, math.Min(d.Score/100, 1))
		x, y := cx+radius*v*math.Cos(angle(i)), cy+radius*v*math.Sin(angle(i))
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
	dc.SetColor(chartFill)
	dc.FillPreserve()
	dc.SetColor(chartStroke)
	dc.SetLineWidth(2)
	dc.Stroke()

	dc.SetColor(chartText)
	for i, d := range dims {
		label := d.Dimension
		if c.localized {
			label = d.Label
		}
		lx, ly := cx+(radius+36)*math.Cos(angle(i)), cy+(radius+36)*math.Sin(angle(i))
		dc.DrawStringAnchored(fmt.Sprintf("%s %.0f", label, d.Score), lx, ly, 0.5, 0.5)
	}
	if title != "" {
		dc.DrawStringAnchored(title, float64(chartSize)/2, 24, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ChartKey is where a report's radar chart is stored.
func ChartKey(childID uuid.UUID, monthKey string) string {
	return fmt.Sprintf("reports/%s/%s.png", childID, strings.TrimSuffix(monthKey, "-01"))
}
