package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-live/core/audio"
)

// Client drives portaudio blocking streams: one input stream at the capture
// rate and one output stream at the playback rate, each pumped by its own
// goroutine.
type Client struct {
	bufferSize int

	inStream  *portaudio.Stream
	outStream *portaudio.Stream
	in        []int16
	out       []int16

	mu           sync.Mutex
	stopCapture  context.CancelFunc
	captureDone  chan struct{}
	stopPlayback context.CancelFunc
	playbackDone chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		in:         make([]int16, bufferSize),
		out:        make([]int16, bufferSize),
	}

	var err error
	c.inStream, err = portaudio.OpenDefaultStream(1, 0, float64(audio.CaptureSampleRate), bufferSize, c.in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	c.outStream, err = portaudio.OpenDefaultStream(0, 1, float64(audio.PlaybackSampleRate), bufferSize, c.out)
	if err != nil {
		c.inStream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	return c, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCapture != nil {
		return nil
	}

	if err := c.inStream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.stopCapture, c.captureDone = cancel, done
	go func() {
		defer close(done)
		buf := make([]byte, len(c.in)*2)
		for ctx.Err() == nil {
			if err := c.inStream.Read(); err != nil {
				logger.Warn("failed to read from input stream", "error", err)
				continue
			}
			for i, s := range c.in {
				binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
			}
			onAudio(buf)
		}
	}()
	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	cancel, done := c.stopCapture, c.captureDone
	c.stopCapture, c.captureDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	if err := c.inStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return nil
}

func (c *Client) StartPlayback(ctx context.Context, source audio.PlaybackSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPlayback != nil {
		return nil
	}

	if err := c.outStream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.stopPlayback, c.playbackDone = cancel, done
	go func() {
		defer close(done)
		buf := make([]byte, len(c.out)*2)
		for ctx.Err() == nil {
			source.Fill(buf)
			for i := range c.out {
				c.out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
			}
			if err := c.outStream.Write(); err != nil {
				logger.Warn("failed to write to output stream", "error", err)
			}
		}
	}()
	return nil
}

func (c *Client) StopPlayback() error {
	c.mu.Lock()
	cancel, done := c.stopPlayback, c.playbackDone
	c.stopPlayback, c.playbackDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	if err := c.outStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	_ = c.StopCapture()
	_ = c.StopPlayback()
	c.inStream.Close()
	c.outStream.Close()
	portaudio.Terminate()
}
