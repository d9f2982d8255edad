package client

import (
	"context"
	"sync"
)

// Message is one transcript entry.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// Controller glues UI actions to the connection, capture and playback
// components. It owns start/stop ordering: capture is always stopped before
// the transport closes, so no capture callback can fire into a dead
// connection.
type Controller struct {
	conn    *Conn
	queue   *PlaybackQueue
	capture *Capture

	// Callbacks for the UI layer.
	OnStateChange func(ConnState)
	OnSpeaking    func(bool)
	OnTranscript  func(Message)
	OnError       func(err error)

	mu         sync.Mutex
	listening  bool
	transcript []Message
}

// NewController wires up a voice session for the given project. Fails with
// ErrNotConfigured when projectID is empty.
func NewController(projectID, host, relayName string, player Player, rec Recorder) (*Controller, error) {
	endpoint, err := Endpoint(projectID, host, relayName)
	if err != nil {
		return nil, err
	}

	ctrl := &Controller{
		conn:    NewConn(endpoint),
		queue:   NewPlaybackQueue(player),
		capture: NewCapture(rec),
	}

	ctrl.conn.OnAudio = ctrl.queue.Enqueue
	ctrl.conn.OnText = func(text string) {
		ctrl.appendTranscript(Message{Role: "assistant", Text: text})
	}
	ctrl.conn.OnError = func(err error) {
		if ctrl.OnError != nil {
			ctrl.OnError(err)
		}
	}
	ctrl.conn.OnStateChange = func(s ConnState) {
		if s == StateDisconnected {
			// Remote close: release the microphone and silence playback so
			// nothing mutates state after teardown.
			ctrl.stopListening()
			ctrl.queue.Clear()
		}
		if ctrl.OnStateChange != nil {
			ctrl.OnStateChange(s)
		}
	}

	ctrl.queue.OnSpeaking = func(speaking bool) {
		if ctrl.OnSpeaking != nil {
			ctrl.OnSpeaking(speaking)
		}
	}

	ctrl.capture.OnChunk = ctrl.conn.SendAudioChunk
	ctrl.capture.OnError = func(err error) {
		ctrl.stopListening()
		if ctrl.OnError != nil {
			ctrl.OnError(err)
		}
	}

	return ctrl, nil
}

// Connect opens the relay connection.
func (ctrl *Controller) Connect(ctx context.Context) error {
	return ctrl.conn.Connect(ctx)
}

// Disconnect tears the session down: capture first, then playback, then the
// transport.
func (ctrl *Controller) Disconnect() {
	ctrl.stopListening()
	ctrl.queue.Clear()
	ctrl.conn.Disconnect()
}

// StartListening acquires the microphone and begins streaming chunks. A
// no-op when not connected or already listening; in particular it never
// touches the microphone while disconnected.
func (ctrl *Controller) StartListening(ctx context.Context) error {
	ctrl.mu.Lock()
	if !ctrl.conn.IsConnected() || ctrl.listening {
		ctrl.mu.Unlock()
		return nil
	}
	ctrl.listening = true
	ctrl.mu.Unlock()

	if err := ctrl.capture.Start(ctx); err != nil {
		ctrl.mu.Lock()
		ctrl.listening = false
		ctrl.mu.Unlock()
		return err
	}
	return nil
}

// StopListening releases the microphone.
func (ctrl *Controller) StopListening() {
	ctrl.stopListening()
}

func (ctrl *Controller) stopListening() {
	ctrl.mu.Lock()
	wasListening := ctrl.listening
	ctrl.listening = false
	ctrl.mu.Unlock()

	if wasListening {
		ctrl.capture.Stop()
	}
}

// SendText sends a text turn. A no-op when not connected.
func (ctrl *Controller) SendText(text string) {
	if !ctrl.conn.IsConnected() {
		return
	}
	ctrl.appendTranscript(Message{Role: "user", Text: text})
	ctrl.conn.SendText(text)
}

// State returns the transport connection state.
func (ctrl *Controller) State() ConnState {
	return ctrl.conn.State()
}

// IsListening reports whether the microphone is live.
func (ctrl *Controller) IsListening() bool {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	return ctrl.listening
}

// IsSpeaking reports whether assistant audio is playing.
func (ctrl *Controller) IsSpeaking() bool {
	return ctrl.queue.IsPlaying()
}

// Transcript returns a copy of the conversation so far.
func (ctrl *Controller) Transcript() []Message {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	out := make([]Message, len(ctrl.transcript))
	copy(out, ctrl.transcript)
	return out
}

func (ctrl *Controller) appendTranscript(msg Message) {
	ctrl.mu.Lock()
	ctrl.transcript = append(ctrl.transcript, msg)
	ctrl.mu.Unlock()

	if ctrl.OnTranscript != nil {
		ctrl.OnTranscript(msg)
	}
}
