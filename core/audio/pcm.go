package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrOddLength = errors.New("pcm payload has odd byte length")

// DecodeSamples interprets data as little-endian int16 samples.
func DecodeSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}

// EncodeSamples packs samples as little-endian int16 bytes.
func EncodeSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

// EncodeBase64 encodes a PCM payload for the engine wire format.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a PCM payload received from the engine and checks it
// holds whole 16-bit samples.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pcm payload: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	return data, nil
}
