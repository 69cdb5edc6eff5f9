package svg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarsProducesSVG(t *testing.T) {
	html, err := Bars(420, 240, []float64{12, 30, 0}, []string{"Poblacion", "San Isidro", "Bagong Silang"}, BarOpts{
		Title:         "Businesses per barangay",
		SeriesLabel:   "businesses",
		MaxLabelRunes: 8,
	})
	require.NoError(t, err)
	output := string(html)
	assert.True(t, strings.HasPrefix(output, "<svg"))
	assert.Equal(t, 3, strings.Count(output, "<rect"))
	assert.Contains(t, output, "San Isidro: 30 businesses")
	assert.Contains(t, output, "Bagong …")
	assert.Contains(t, output, `id="businesses-per-barangay-bar-title"`)
}

func TestBarsValidatesInput(t *testing.T) {
	_, err := Bars(420, 240, nil, nil, BarOpts{})
	assert.Error(t, err)
	_, err = Bars(420, 240, []float64{1}, []string{"a", "b"}, BarOpts{})
	assert.Error(t, err)
	_, err = Bars(40, 40, []float64{1}, []string{"a"}, BarOpts{})
	assert.Error(t, err)
}

func TestLineProducesPath(t *testing.T) {
	html, err := Line(480, 200, []float64{1000, 2500, 1800}, []string{"Jan", "Feb", "Mar"}, LineOpts{
		Title:    "Monthly collections",
		ShowDots: true,
		FormatValue: func(v float64) string {
			return "P" + formatTick(v)
		},
	})
	require.NoError(t, err)
	output := string(html)
	assert.Contains(t, output, "<path")
	assert.Equal(t, 3, strings.Count(output, "<circle"))
	assert.Contains(t, output, "Feb: P2.5k")
}

func TestLineSinglePoint(t *testing.T) {
	html, err := Line(0, 0, []float64{5}, []string{"Jan"}, LineOpts{})
	require.NoError(t, err)
	assert.Contains(t, string(html), `viewBox="0 0 720 260"`)
}

func TestFormatTick(t *testing.T) {
	assert.Equal(t, "0", formatTick(0))
	assert.Equal(t, "1.5k", formatTick(1500))
	assert.Equal(t, "2.0M", formatTick(2_000_000))
	assert.Equal(t, "2.50", formatTick(2.5))
}
