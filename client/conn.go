package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Mokete-tech/citypulse-voice/messages"

	"github.com/gorilla/websocket"
)

// ConnState is the relay connection's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	// DefaultHost is the domain the relay endpoint is derived under.
	DefaultHost = "supabase.co"

	// DefaultRelayName is the relay's function name on the server.
	DefaultRelayName = "voice-relay"

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Endpoint derives the relay address from a project identifier. Fails with
// ErrNotConfigured when the identifier is empty so a malformed address is
// never dialed.
func Endpoint(projectID, host, relayName string) (string, error) {
	if projectID == "" {
		return "", ErrNotConfigured
	}
	if host == "" {
		host = DefaultHost
	}
	if relayName == "" {
		relayName = DefaultRelayName
	}
	return fmt.Sprintf("wss://%s.%s/functions/v1/%s", projectID, host, relayName), nil
}

// Conn owns the single duplex connection to the relay. It translates between
// structured messages and wire frames, and exposes explicit state instead of
// raw socket callbacks.
//
// Not safe to reconfigure callbacks after Connect.
type Conn struct {
	endpoint string
	dialer   *websocket.Dialer

	// Callbacks, invoked from the read loop's goroutine.
	OnStateChange func(ConnState)
	OnAudio       func(base64Data string) // inbound PCM segment, 24 kHz
	OnText        func(text string)       // assistant utterance
	OnError       func(err error)         // generic connection error

	mu    sync.Mutex
	ws    *websocket.Conn
	state ConnState

	writeMu sync.Mutex
}

// NewConn creates a connection manager for the given relay endpoint. Use
// Endpoint to derive one from a project identifier.
func NewConn(endpoint string) *Conn {
	return &Conn{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
		state: StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether frames can currently be sent.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect opens the relay connection and starts the read loop. Calling
// Disconnect while a dial is in flight aborts cleanly: the freshly opened
// socket is closed and no connected state is ever reported.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect won the race; drop the socket if we got one.
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return nil
	}
	if err != nil {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.ws = ws
	c.setStateLocked(StateConnected)
	c.mu.Unlock()
	c.notifyState(StateConnected)

	go c.readLoop(ws)
	return nil
}

// Send queues one frame on the connection. Silently no-ops when not
// connected: a capture callback firing during teardown must not crash.
func (c *Conn) Send(frame *messages.ClientFrame) {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		return
	}

	data, err := messages.Encode(frame)
	if err != nil {
		log.Printf("❌ Failed to encode frame: %v", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.notifyError(errors.New("connection error"))
		c.teardown(ws)
	}
}

// SendText sends a complete text turn.
func (c *Conn) SendText(text string) {
	c.Send(messages.NewTextFrame(text))
}

// SendAudioChunk sends one base64 PCM capture chunk as a complete turn.
func (c *Conn) SendAudioChunk(base64Data string) {
	c.Send(messages.NewAudioFrame(base64Data))
}

// Disconnect closes the connection and clears it so a later Connect starts
// fresh. Safe to call at any time, including twice or mid-connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	c.ws = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.notifyState(StateDisconnected)
}

// teardown handles a remote close or transport error for a specific socket.
// Idempotent: late events for an already-replaced socket are ignored.
func (c *Conn) teardown(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	ws.Close()
	c.notifyState(StateDisconnected)
}

// setStateLocked updates the state. Callers invoke notifyState after
// releasing the lock so callbacks can call back into Conn.
func (c *Conn) setStateLocked(s ConnState) {
	c.state = s
}

func (c *Conn) notifyState(s ConnState) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

func (c *Conn) notifyError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	defer c.teardown(ws)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			// Surface a generic error unless this was a local disconnect.
			if c.State() == StateConnected {
				c.notifyError(errors.New("connection error"))
			}
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame routes one inbound frame. Unrecognized shapes are ignored for
// forward compatibility; they never kill the connection.
func (c *Conn) handleFrame(raw []byte) {
	frame, err := messages.DecodeServerFrame(raw)
	if err != nil {
		log.Printf("⚠️ Ignoring unparseable frame (%d bytes)", len(raw))
		return
	}

	if frame.Error != "" {
		c.notifyError(errors.New(frame.Error))
		return
	}

	for _, cand := range frame.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.InlineData != nil && part.InlineData.Data != "":
				if c.OnAudio != nil {
					c.OnAudio(part.InlineData.Data)
				}
			case part.Text != "":
				if c.OnText != nil {
					c.OnText(part.Text)
				}
			}
		}
	}
}
