// Package render produces the interactive HTML artifact for a projected,
// clustered point set. The document is fully self-contained: point data is
// inlined as JSON and drawn on a canvas with pan, zoom, and hover tooltips,
// so no external scripts or stylesheets are referenced.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"sort"
	"strings"

	"github.com/semantic-explorer/viz-worker/pkg/types"
)

// Renderer is the rendering stage contract: a 2-D coordinate matrix, one
// label name and hover text per point, and the rendering parameters in.
type Renderer interface {
	Render(coords [][2]float64, labels []string, hoverTexts []string, cfg types.VisualizationConfig) ([]byte, error)
}

// Canvas renders with the built-in canvas template.
type Canvas struct{}

// NewCanvas returns the default renderer.
func NewCanvas() *Canvas { return &Canvas{} }

type pointDatum struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"c"`
	Hover string  `json:"h"`
}

type labelDatum struct {
	Text     string       `json:"text"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Size     float64      `json:"size"`
	Color    string       `json:"color"`
	Boundary [][2]float64 `json:"boundary,omitempty"`
}

type templateData struct {
	Title        string
	SubTitle     string
	Width        int
	Height       int
	FontFamily   string
	Background   string
	Foreground   string
	PolygonAlpha float64
	PointsJSON   template.JS
	LabelsJSON   template.JS
}

// Render builds the artifact. All three slices must have the same length.
func (c *Canvas) Render(coords [][2]float64, labels []string, hoverTexts []string, cfg types.VisualizationConfig) ([]byte, error) {
	if len(labels) != len(coords) || len(hoverTexts) != len(coords) {
		return nil, fmt.Errorf("render: coords/labels/hover lengths differ: %d/%d/%d",
			len(coords), len(labels), len(hoverTexts))
	}

	colors := labelColors(labels, cfg)

	points := make([]pointDatum, len(coords))
	for i, xy := range coords {
		points[i] = pointDatum{
			X:     xy[0],
			Y:     xy[1],
			Color: colors[labels[i]],
			Hover: hoverTexts[i],
		}
	}

	labelData := buildLabels(coords, labels, colors, cfg)

	pointsJSON, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("render: encode points: %w", err)
	}
	labelsJSON, err := json.Marshal(labelData)
	if err != nil {
		return nil, fmt.Errorf("render: encode labels: %w", err)
	}

	data := templateData{
		Title:        cfg.Title,
		SubTitle:     cfg.SubTitle,
		Width:        cfg.Width,
		Height:       cfg.Height,
		FontFamily:   cfg.FontFamily,
		Background:   "#ffffff",
		Foreground:   "#111111",
		PolygonAlpha: cfg.PolygonAlpha,
		PointsJSON:   template.JS(pointsJSON),
		LabelsJSON:   template.JS(labelsJSON),
	}
	if cfg.Darkmode {
		data.Background = "#1e1e1e"
		data.Foreground = "#eeeeee"
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render: execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// labelColors assigns one color per distinct label. Hues are spread evenly
// around the wheel in sorted label order so the palette is deterministic,
// shifted by the configured hue offset. The noise label keeps its fixed
// muted color.
func labelColors(labels []string, cfg types.VisualizationConfig) map[string]string {
	distinct := make([]string, 0)
	seen := make(map[string]bool)
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			distinct = append(distinct, l)
		}
	}
	sort.Strings(distinct)

	colors := make(map[string]string, len(distinct))
	n := 0
	for _, l := range distinct {
		if l != cfg.NoiseLabel {
			n++
		}
	}
	i := 0
	for _, l := range distinct {
		if l == cfg.NoiseLabel {
			colors[l] = cfg.NoiseColor
			continue
		}
		hue := math.Mod(float64(i)*360.0/math.Max(float64(n), 1)+cfg.PaletteHueShift, 360)
		colors[l] = hslToHex(hue, 0.62, 0.48)
		i++
	}
	return colors
}

// buildLabels places one text anchor per cluster at the cluster centroid,
// sized between the configured font bounds by relative cluster population,
// with an optional convex-hull boundary.
func buildLabels(coords [][2]float64, labels []string, colors map[string]string, cfg types.VisualizationConfig) []labelDatum {
	groups := make(map[string][][2]float64)
	for i, l := range labels {
		if l == cfg.NoiseLabel {
			continue
		}
		groups[l] = append(groups[l], coords[i])
	}

	maxSize := 1
	for _, pts := range groups {
		if len(pts) > maxSize {
			maxSize = len(pts)
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]labelDatum, 0, len(names))
	for _, name := range names {
		pts := groups[name]
		var cx, cy float64
		for _, p := range pts {
			cx += p[0]
			cy += p[1]
		}
		cx /= float64(len(pts))
		cy /= float64(len(pts))

		scale := float64(len(pts)) / float64(maxSize)
		size := cfg.MinFontsize + (cfg.MaxFontsize-cfg.MinFontsize)*scale

		d := labelDatum{
			Text:  wrapLabel(name, cfg.LabelWrapWidth),
			X:     cx,
			Y:     cy,
			Size:  size,
			Color: colors[name],
		}
		if cfg.ClusterBoundaryPolygons && len(pts) >= 3 {
			d.Boundary = convexHull(pts)
		}
		out = append(out, d)
	}
	return out
}

// wrapLabel breaks a label into lines of at most width characters on word
// boundaries, joined by newlines for the canvas text layout.
func wrapLabel(s string, width int) string {
	if width <= 0 {
		return s
	}
	words := strings.Fields(s)
	var lines []string
	var cur string
	for _, w := range words {
		switch {
		case cur == "":
			cur = w
		case len(cur)+1+len(w) <= width:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return strings.Join(lines, "\n")
}

// convexHull computes the hull with Andrew's monotone chain, returned in
// counter-clockwise order.
func convexHull(pts [][2]float64) [][2]float64 {
	if len(pts) < 3 {
		return nil
	}
	sorted := make([][2]float64, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b [2]float64) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	var hull [][2]float64
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

func hslToHex(h, s, l float64) string {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return fmt.Sprintf("#%02x%02x%02x",
		int(math.Round((r+m)*255)),
		int(math.Round((g+m)*255)),
		int(math.Round((b+m)*255)))
}
