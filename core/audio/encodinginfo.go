package audio

import (
	"fmt"
	"time"
)

const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	DefaultFormat      = "linear16"
)

// CaptureEncoding is the format microphone audio is sampled and sent in.
func CaptureEncoding() EncodingInfo {
	return EncodingInfo{SampleRate: CaptureSampleRate, Format: EncodingLinear16}
}

// PlaybackEncoding is the format the engine streams synthesized audio in.
func PlaybackEncoding() EncodingInfo {
	return EncodingInfo{SampleRate: PlaybackSampleRate, Format: EncodingLinear16}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// MIMEType returns the wire mime type, e.g. "audio/pcm;rate=16000".
func (e EncodingInfo) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", e.SampleRate)
}

// BytesPerSecond returns the byte rate of mono audio in this encoding.
func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

// Duration returns how long n bytes of mono audio play for.
func (e EncodingInfo) Duration(n int) time.Duration {
	bps := e.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Samples returns the number of whole samples in n bytes.
func (e EncodingInfo) Samples(n int) int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return n / size
}

func (e EncodingInfo) SilenceValue() byte {
	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingLinear16 encodingFormat = "linear16"
)
