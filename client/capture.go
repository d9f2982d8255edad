package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	// CaptureSampleRate is the microphone capture rate.
	CaptureSampleRate = 16000

	// ChunkDuration is the fixed slice size delivered to the chunk callback.
	ChunkDuration = time.Second

	// chunkBytes is one ChunkDuration of s16le mono at CaptureSampleRate.
	chunkBytes = CaptureSampleRate * 2
)

// Recorder acquires the microphone and yields a raw PCM stream (s16le,
// 16 kHz, mono). Closing the returned stream must release the device so no
// dangling handle keeps the microphone locked.
type Recorder interface {
	Start(ctx context.Context) (io.ReadCloser, error)
}

// Capture slices a live microphone stream into fixed 1-second chunks and
// hands each to OnChunk as base64 the moment it fills, holding the device
// until Stop.
type Capture struct {
	rec Recorder

	// OnChunk receives each base64-encoded chunk as soon as it is read.
	OnChunk func(base64Data string)

	// OnError receives stream failures after a successful start.
	OnError func(err error)

	mu      sync.Mutex
	stream  io.ReadCloser
	cancel  context.CancelFunc
	running bool
}

// NewCapture creates a capture pipeline over the given recorder.
func NewCapture(rec Recorder) *Capture {
	return &Capture{rec: rec}
}

// Start acquires the microphone and begins delivering chunks. Acquisition
// failures surface as ErrMediaAccess so callers can distinguish device
// errors from transport errors.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := c.rec.Start(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	c.stream = stream
	c.cancel = cancel
	c.running = true
	go c.readLoop(stream)
	return nil
}

// IsRunning reports whether the microphone is currently held.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop releases the microphone deterministically. Safe to call twice; after
// Stop returns, no further OnChunk or OnError callback fires.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stream := c.stream
	c.stream = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	if stream != nil {
		stream.Close()
	}
}

func (c *Capture) readLoop(stream io.ReadCloser) {
	buf := make([]byte, chunkBytes)
	for {
		if _, err := io.ReadFull(stream, buf); err != nil {
			// A partial trailing chunk or a closed stream ends capture.
			c.mu.Lock()
			running := c.running
			c.mu.Unlock()
			if running && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("⚠️ Microphone stream ended: %v", err)
				if c.OnError != nil {
					c.OnError(fmt.Errorf("%w: %v", ErrMediaAccess, err))
				}
			}
			return
		}

		c.mu.Lock()
		running := c.running
		cb := c.OnChunk
		c.mu.Unlock()
		if !running {
			return
		}
		if cb != nil {
			cb(base64.StdEncoding.EncodeToString(buf))
		}
	}
}

// FFmpegRecorder captures the default microphone with an ffmpeg subprocess,
// downmixed to 16 kHz mono s16le with a noise-suppression filter. Killing
// the process releases the device.
type FFmpegRecorder struct {
	// Device overrides the OS default input device.
	Device string

	// Path overrides the ffmpeg executable path.
	Path string
}

func (r *FFmpegRecorder) args() []string {
	device := r.Device
	var inputFormat string
	switch runtime.GOOS {
	case "darwin":
		inputFormat = "avfoundation"
		if device == "" {
			device = ":0"
		}
	case "linux":
		inputFormat = "alsa"
		if device == "" {
			device = "default"
		}
	default:
		inputFormat = "pulse"
		if device == "" {
			device = "default"
		}
	}

	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", fmt.Sprint(CaptureSampleRate),
		"-af", "highpass=f=80,afftdn", // noise suppression
		"-f", "s16le",
		"-",
	}
}

// Start implements Recorder.
func (r *FFmpegRecorder) Start(ctx context.Context) (io.ReadCloser, error) {
	path := r.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path, r.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processStream{ReadCloser: stdout, cmd: cmd}, nil
}

// processStream ties a pipe to its producing process: Close kills the
// process and reaps it, which is what actually frees the device.
type processStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processStream) Close() error {
	var err error
	p.once.Do(func() {
		err = p.ReadCloser.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	})
	return err
}
