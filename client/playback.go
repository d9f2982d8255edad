package client

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
)

// PlaybackSampleRate is the sample rate of audio arriving from the relay.
const PlaybackSampleRate = 24000

// Player renders one decoded segment and returns when it has finished.
// Implementations must tolerate back-to-back calls with no gap.
type Player interface {
	Play(samples []float32) error
}

// PlaybackQueue plays arriving audio segments strictly in enqueue order, one
// at a time, regardless of how segment arrival timing relates to playback
// duration. A new segment never preempts the one in flight.
type PlaybackQueue struct {
	player Player

	// OnSpeaking reports speaking-state transitions: true when the first
	// segment starts, false when the queue drains or is cleared. Deliveries
	// are serialized in state order; the callback must not call back into
	// the queue.
	OnSpeaking func(bool)

	// notifyMu orders speaking-state changes with their deliveries: it is
	// held from the state flip through the OnSpeaking call, so a racing
	// transition cannot report out of order. Always acquired before mu.
	notifyMu sync.Mutex

	mu       sync.Mutex
	segments []string // base64 PCM, FIFO
	draining bool     // one drain goroutine at a time
	speaking bool
	gen      uint64 // bumped by Clear; stale segments are dropped
}

// NewPlaybackQueue creates a queue rendering through the given player.
func NewPlaybackQueue(player Player) *PlaybackQueue {
	return &PlaybackQueue{player: player}
}

// Enqueue appends one base64 PCM segment. If nothing is playing, playback
// starts immediately; otherwise the segment waits its turn.
func (q *PlaybackQueue) Enqueue(base64Data string) {
	q.notifyMu.Lock()
	q.mu.Lock()
	q.segments = append(q.segments, base64Data)
	start := !q.draining
	q.draining = true
	notify := !q.speaking
	q.speaking = true
	q.mu.Unlock()

	if notify && q.OnSpeaking != nil {
		q.OnSpeaking(true)
	}
	q.notifyMu.Unlock()

	if start {
		go q.drain()
	}
}

// IsPlaying reports whether a segment is in flight or queued.
func (q *PlaybackQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Clear discards all pending segments and immediately signals not-speaking.
// Segments already handed to the player cannot be interrupted, but nothing
// queued before the Clear will start afterwards.
func (q *PlaybackQueue) Clear() {
	q.notifyMu.Lock()
	q.mu.Lock()
	q.segments = nil
	q.gen++
	notify := q.speaking
	q.speaking = false
	q.mu.Unlock()

	if notify && q.OnSpeaking != nil {
		q.OnSpeaking(false)
	}
	q.notifyMu.Unlock()
}

func (q *PlaybackQueue) drain() {
	for {
		q.notifyMu.Lock()
		q.mu.Lock()
		if len(q.segments) == 0 {
			q.draining = false
			notify := q.speaking
			q.speaking = false
			q.mu.Unlock()
			if notify && q.OnSpeaking != nil {
				q.OnSpeaking(false)
			}
			q.notifyMu.Unlock()
			return
		}
		seg := q.segments[0]
		q.segments = q.segments[1:]
		gen := q.gen
		q.mu.Unlock()
		q.notifyMu.Unlock()

		samples, err := DecodeSegment(seg)
		if err != nil {
			// Non-fatal: skip the bad segment, keep the queue moving.
			log.Printf("⚠️ Skipping undecodable audio segment: %v", err)
			continue
		}

		q.mu.Lock()
		stale := gen != q.gen
		q.mu.Unlock()
		if stale {
			continue
		}

		if err := q.player.Play(samples); err != nil {
			log.Printf("⚠️ Playback failed for segment (%d samples): %v", len(samples), err)
		}
	}
}

// DecodeSegment decodes a base64 segment of little-endian 16-bit PCM into
// float32 samples normalized to [-1, 1].
func DecodeSegment(base64Data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd PCM payload length %d", len(raw))
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}
