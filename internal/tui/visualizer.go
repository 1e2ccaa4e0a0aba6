package tui

import (
	"math"
	"strings"
)

const (
	InputBars  = 4
	OutputBars = 16
)

var barGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// Bars converts a volume in [0,1] into n bar levels in [0,8]. Center bars
// respond more strongly than the edges, and phase animates the shape while
// sound is present.
func Bars(volume float64, n int, phase float64) []int {
	levels := make([]int, n)
	if n == 0 {
		return levels
	}
	volume = math.Max(0, math.Min(1, volume))

	center := float64(n-1) / 2
	for i := range levels {
		weight := 1.0
		if center > 0 {
			weight = 1 - 0.6*math.Abs(float64(i)-center)/center
		}
		wobble := 0.85 + 0.15*math.Sin(phase+float64(i)*0.9)
		// Speech rarely exceeds a fifth of full scale.
		level := math.Min(1, volume*5) * weight * wobble
		levels[i] = int(math.Round(level * float64(len(barGlyphs)-1)))
	}
	return levels
}

// RenderBars draws levels as a single line of block glyphs.
func RenderBars(levels []int) string {
	var b strings.Builder
	for _, level := range levels {
		level = max(0, min(level, len(barGlyphs)-1))
		b.WriteRune(barGlyphs[level])
	}
	return b.String()
}
