package audio

// PlaybackSource fills device output buffers. Fill is called from the
// device's real-time callback, must not block, and must write silence into
// whatever part of out it has no audio for. It returns the number of bytes
// of real audio written.
type PlaybackSource interface {
	Fill(out []byte) int
}
