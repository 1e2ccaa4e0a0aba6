package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	NominalGain = 1.0
	DuckedGain  = 0.15

	DefaultGainRamp = 30 * time.Millisecond
)

// GainRamp applies a gain multiplier to PCM, moving linearly towards the
// target over the ramp duration so changes do not click.
type GainRamp struct {
	mu      sync.Mutex
	current float64
	target  float64
	step    float64
}

// NewGainRamp creates a ramp at nominal gain. The per-sample step is chosen
// so a full 0..1 change takes ramp at the given sample rate.
func NewGainRamp(sampleRate int, ramp time.Duration) *GainRamp {
	samples := float64(sampleRate) * ramp.Seconds()
	step := 1.0
	if samples >= 1 {
		step = 1.0 / samples
	}
	return &GainRamp{current: NominalGain, target: NominalGain, step: step}
}

// SetTarget changes the gain the ramp moves towards. It returns immediately;
// the change is spread over subsequent Apply calls.
func (g *GainRamp) SetTarget(gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target = math.Max(0, gain)
}

func (g *GainRamp) Target() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

func (g *GainRamp) Current() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Step returns the largest gain change applied between two samples.
func (g *GainRamp) Step() float64 {
	return g.step
}

// Apply scales little-endian int16 PCM in place.
func (g *GainRamp) Apply(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(data) / 2
	for i := 0; i < n; i++ {
		switch {
		case g.current < g.target:
			g.current = math.Min(g.target, g.current+g.step)
		case g.current > g.target:
			g.current = math.Max(g.target, g.current-g.step)
		}
		if g.current == NominalGain {
			continue
		}
		s := float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) * g.current
		binary.LittleEndian.PutUint16(data[2*i:], uint16(clampSample(s)))
	}
}

func clampSample(s float64) int16 {
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(s))
}
