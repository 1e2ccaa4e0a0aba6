package audio

// Source tags where a chunk of audio was produced.
type Source string

const (
	SourceCapture  Source = "capture"
	SourcePlayback Source = "playback"
)

// Chunk is a contiguous block of 16-bit little-endian mono PCM.
//
// Ownership of Data moves with the chunk: producers must not touch Data
// after handing the chunk to a consumer.
type Chunk struct {
	Seq    uint64
	Source Source
	Data   []byte
}

// Len returns the payload size in bytes.
func (c Chunk) Len() int {
	return len(c.Data)
}
