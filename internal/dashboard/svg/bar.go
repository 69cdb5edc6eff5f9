package svg

import (
	"fmt"
	"html/template"
	"strings"
)

// Bars renders a single-series bar chart, one bar per label. Labels are
// drawn rotated below the axis so long barangay names stay legible.
func Bars(width, height int, values []float64, labels []string, opts BarOpts) (template.HTML, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("svg: values required")
	}
	if len(values) != len(labels) {
		return "", fmt.Errorf("svg: labels length must match values")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	tickCount := opts.TickCount
	if tickCount <= 0 {
		tickCount = DefaultTicks
	}

	axisColor := fallback(opts.AxisColor, "#475569")
	gridColor := fallback(opts.GridColor, "#cbd5e1")
	color := fallback(opts.Color, "#15803d")
	seriesLabel := fallback(opts.SeriesLabel, "Value")

	// Extra room at the bottom for rotated labels.
	bottom := padding * 2
	chartWidth := float64(width) - 2*padding
	chartHeight := float64(height) - padding - bottom
	if chartWidth <= 0 || chartHeight <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	_, maxVal := bounds(values)
	if maxVal <= 0 || almostEqual(maxVal, 0) {
		maxVal = 1
	}
	scale := chartHeight / maxVal
	baseY := padding + chartHeight

	slot := chartWidth / float64(len(values))
	barWidth := slot * 0.7

	titleID := makeID(opts.Title, "bar-title")
	descID := makeID(opts.Title, "bar-desc")

	var b strings.Builder
	fmt.Fprintf(&b, "<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID)
	fmt.Fprintf(&b, "<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Bar chart")))
	fmt.Fprintf(&b, "<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Bar comparison")))

	for i := 0; i <= tickCount; i++ {
		ratio := float64(i) / float64(tickCount)
		y := baseY - ratio*chartHeight
		fmt.Fprintf(&b, "<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"0.5\" stroke-dasharray=\"2,4\" aria-hidden=\"true\"></line>", padding, y, padding+chartWidth, y, gridColor)
		fmt.Fprintf(&b, "<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"end\">%s</text>", padding-6, y+4, axisColor, template.HTMLEscapeString(formatTick(maxVal*ratio)))
	}

	fmt.Fprintf(&b, "<g stroke=\"%s\" aria-hidden=\"true\">", axisColor)
	fmt.Fprintf(&b, "<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding, padding, baseY)
	fmt.Fprintf(&b, "<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, baseY, padding+chartWidth, baseY)
	b.WriteString("</g>")

	for i, label := range labels {
		value := values[i]
		if value < 0 {
			value = 0
		}
		h := value * scale
		x := padding + float64(i)*slot + (slot-barWidth)/2
		fmt.Fprintf(&b, "<rect x=\"%.2f\" y=\"%.2f\" width=\"%.2f\" height=\"%.2f\" fill=\"%s\"><title>%s: %s %s</title></rect>",
			x, baseY-h, barWidth, h, color,
			template.HTMLEscapeString(label), template.HTMLEscapeString(formatTick(values[i])), template.HTMLEscapeString(seriesLabel))
		cx := x + barWidth/2
		ly := baseY + 10
		fmt.Fprintf(&b, "<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"9\" text-anchor=\"end\" transform=\"rotate(-40 %.2f %.2f)\">%s</text>",
			cx, ly, axisColor, cx, ly, template.HTMLEscapeString(truncate(label, opts.MaxLabelRunes)))
	}

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

func truncate(label string, limit int) string {
	runes := []rune(label)
	if limit <= 0 || len(runes) <= limit {
		return label
	}
	return string(runes[:limit-1]) + "…"
}
