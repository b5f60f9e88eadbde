// Package drawing turns handwritten strokes into SVG documents suitable for
// upload as message attachments.
package drawing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Default canvas size used when a drawing file does not specify one.
const (
	DefaultWidth  = 300
	DefaultHeight = 300
)

// Point is a single sampled pen position.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure,omitempty"`
}

// Stroke is one continuous pen movement.
type Stroke struct {
	Points []Point `json:"points"`
}

// Drawing is the on-disk stroke format read by LoadDrawing.
type Drawing struct {
	Width   float64  `json:"width,omitempty"`
	Height  float64  `json:"height,omitempty"`
	Strokes []Stroke `json:"strokes"`
}

// LoadDrawing parses a drawing from JSON. Comments are allowed, and a bare
// array of strokes is accepted in place of the object form.
func LoadDrawing(data []byte) (Drawing, error) {
	clean := jsonc.ToJSON(data)

	var d Drawing
	trimmed := strings.TrimSpace(string(clean))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(clean, &d.Strokes); err != nil {
			return Drawing{}, fmt.Errorf("parse strokes: %w", err)
		}
	} else if err := json.Unmarshal(clean, &d); err != nil {
		return Drawing{}, fmt.Errorf("parse drawing: %w", err)
	}

	if d.Width <= 0 {
		d.Width = DefaultWidth
	}
	if d.Height <= 0 {
		d.Height = DefaultHeight
	}
	return d, nil
}

// SVG renders the drawing at its canvas size.
func (d Drawing) SVG() string {
	return ExportSVG(d.Strokes, d.Width, d.Height)
}

// ExportSVG fits all strokes into a width x height canvas, scaling uniformly
// and centring the content. Each stroke becomes one path.
func ExportSVG(strokes []Stroke, width, height float64) string {
	w, h := int(width), int(height)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&sb, `<svg width="%d" height="%d" viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg">`, w, h, w, h)

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	points := 0
	for _, s := range strokes {
		for _, p := range s.Points {
			minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
			maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
			points++
		}
	}
	if points == 0 {
		sb.WriteString("</svg>")
		return sb.String()
	}

	contentW := math.Max(maxX-minX, 1)
	contentH := math.Max(maxY-minY, 1)
	scale := math.Min(width/contentW, height/contentH)
	offsetX := (width-contentW*scale)/2 - minX*scale
	offsetY := (height-contentH*scale)/2 - minY*scale
	strokeWidth := formatCoord(math.Max(1, 2*scale))

	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		var d strings.Builder
		for i, p := range s.Points {
			if i == 0 {
				d.WriteByte('M')
			} else {
				d.WriteByte('L')
			}
			d.WriteString(formatCoord(p.X*scale + offsetX))
			d.WriteByte(' ')
			d.WriteString(formatCoord(p.Y*scale + offsetY))
		}
		fmt.Fprintf(&sb, "\n  <path d=%q stroke=\"black\" stroke-width=\"%s\" fill=\"none\" stroke-linecap=\"round\" stroke-linejoin=\"round\"/>",
			d.String(), strokeWidth)
	}
	sb.WriteString("\n</svg>")
	return sb.String()
}

// Filename returns the attachment name used for a drawing exported at t.
func Filename(t time.Time) string {
	return "handwriting-" + strconv.FormatInt(t.Unix(), 10) + ".svg"
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
