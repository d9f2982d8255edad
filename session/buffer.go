package session

import (
	"errors"
	"sync"
)

// ErrPendingOverflow is returned when the pending buffer is at capacity
var ErrPendingOverflow = errors.New("pending frame buffer full")

// PendingBuffer holds raw client frames that arrive before the upstream
// connection has finished opening. Frames are drained in arrival order once
// the upstream is ready.
type PendingBuffer struct {
	frames   [][]byte
	maxCount int
	mu       sync.Mutex
}

// NewPendingBuffer creates a buffer holding at most maxCount frames
func NewPendingBuffer(maxCount int) *PendingBuffer {
	return &PendingBuffer{
		frames:   make([][]byte, 0),
		maxCount: maxCount,
	}
}

// MaxCount returns the buffer capacity in frames
func (pb *PendingBuffer) MaxCount() int {
	return pb.maxCount
}

// Append adds a frame to the buffer.
// Returns ErrPendingOverflow if the buffer is already at capacity.
func (pb *PendingBuffer) Append(frame []byte) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(pb.frames) >= pb.maxCount {
		return ErrPendingOverflow
	}

	pb.frames = append(pb.frames, frame)
	return nil
}

// Drain returns all buffered frames in arrival order and clears the buffer
func (pb *PendingBuffer) Drain() [][]byte {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(pb.frames) == 0 {
		return nil
	}

	frames := pb.frames
	pb.frames = make([][]byte, 0)
	return frames
}

// Clear empties the buffer without returning data
func (pb *PendingBuffer) Clear() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.frames = make([][]byte, 0)
}

// Len returns the number of buffered frames
func (pb *PendingBuffer) Len() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return len(pb.frames)
}
