package audio

import (
	"encoding/binary"
	"math"
)

const (
	// SilenceThreshold is the volume under which the UI treats a signal as
	// silence. Capture still forwards such audio.
	SilenceThreshold = 0.005

	pcmMaxAmplitude = 32768.0
	volumeDecay     = 0.7
)

// RMS returns the root mean square of little-endian int16 PCM, normalized
// to [0,1].
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / pcmMaxAmplitude
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(n)))
}

// IsSilent reports whether a volume reading is below SilenceThreshold.
func IsSilent(volume float64) bool {
	return volume < SilenceThreshold
}

// VolumeMeter tracks a short-window energy estimate with peak hold and
// exponential decay, so the signal does not flicker between periods.
//
// Not safe for concurrent use.
type VolumeMeter struct {
	volume float64
}

// Update feeds one period of PCM and returns the new volume in [0,1].
func (m *VolumeMeter) Update(data []byte) float64 {
	m.volume = math.Max(RMS(data), m.volume*volumeDecay)
	if m.volume < 1e-6 {
		m.volume = 0
	}
	return m.volume
}

func (m *VolumeMeter) Reset() {
	m.volume = 0
}

func (m *VolumeMeter) Volume() float64 {
	return m.volume
}
