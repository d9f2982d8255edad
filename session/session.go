package session

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/Mokete-tech/citypulse-voice/functions"
	"github.com/Mokete-tech/citypulse-voice/messages"
	"github.com/Mokete-tech/citypulse-voice/metrics"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Upstream is the relay's view of the generative voice endpoint. Implemented
// by gemini.Proxy; faked in tests.
type Upstream interface {
	SendText(text string) error
	SendAudio(pcm []byte) error
	CompleteTurn() error
	SendToolResponse(responses []*genai.FunctionResponse) error
	Close() error
}

// UpstreamDialer opens the upstream connection for a session and wires its
// response callbacks to the session's HandleUpstream* methods.
type UpstreamDialer func(ctx context.Context, s *Session) (Upstream, error)

// Session bridges one client WebSocket to one upstream connection. The two
// are lifetime-coupled: closing either closes both.
//
// Frame content is never logged or persisted; it exists in memory only for
// the instant it takes to forward.
type Session struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time

	dial  UpstreamDialer
	tools *functions.Client
	m     *metrics.Metrics

	// fwdMu serializes client→upstream forwarding and guards the
	// ready/pending handoff so buffered frames keep arrival order.
	fwdMu    sync.Mutex
	upstream Upstream
	ready    bool
	pending  *PendingBuffer

	writeChan chan *messages.ServerFrame

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time

	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a session around an accepted client connection. The upstream
// is not dialed until Start.
func New(id string, clientConn *websocket.Conn, dial UpstreamDialer, maxPending int, tools *functions.Client, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)

	return &Session{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    time.Now(),
		dial:         dial,
		tools:        tools,
		m:            m,
		pending:      NewPendingBuffer(maxPending),
		writeChan:    make(chan *messages.ServerFrame, writeBufferSize),
		lastActivity: time.Now(),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling. The client read loop runs
// immediately; frames arriving before the upstream connection is ready are
// buffered and flushed in order once it is.
func (s *Session) Start() {
	go s.writePump()
	go s.connectUpstream()
	go s.handleClientMessages()
}

func (s *Session) connectUpstream() {
	up, err := s.dial(s.ctx, s)
	if err != nil {
		log.Printf("❌ [%s] Upstream connect failed: %v", s.shortID(), err)
		if s.m != nil {
			s.m.UpstreamConnectFailures.Inc()
		}
		s.queueFrame(messages.NewErrorFrame("failed to reach the assistant service"))
		s.Close()
		return
	}

	s.fwdMu.Lock()
	if s.IsClosed() {
		// Client went away while we were dialing
		s.fwdMu.Unlock()
		up.Close()
		return
	}
	s.upstream = up
	s.ready = true
	buffered := s.pending.Drain()
	for _, frame := range buffered {
		s.forwardLocked(frame)
	}
	s.fwdMu.Unlock()

	if len(buffered) > 0 {
		log.Printf("📤 [%s] Flushed %d buffered frame(s) to upstream", s.shortID(), len(buffered))
	}
	s.queueFrame(messages.NewSetupCompleteFrame())
}

// writePump handles all outgoing client messages in a single goroutine. It
// owns the client connection's teardown: on exit it flushes queued frames,
// sends the close message, and closes the socket, so error frames queued
// right before Close still reach the client.
func (s *Session) writePump() {
	defer func() {
		s.drainAndCloseWrites()
		s.ClientConn.Close()
	}()

	for {
		select {
		case <-s.CloseChan:
			return
		case msg, ok := <-s.writeChan:
			if !ok {
				return
			}
			if !s.writeFrame(msg) {
				return
			}
		}
	}
}

// drainAndCloseWrites flushes anything still queued, then sends the
// WebSocket close message. Queued error frames reach the client even when
// teardown races the pump.
func (s *Session) drainAndCloseWrites() {
	for {
		select {
		case msg, ok := <-s.writeChan:
			if !ok || !s.writeFrame(msg) {
				s.writeCloseMessage()
				return
			}
		default:
			s.writeCloseMessage()
			return
		}
	}
}

func (s *Session) writeFrame(msg *messages.ServerFrame) bool {
	data, err := messages.Encode(msg)
	if err != nil {
		log.Printf("❌ [%s] Failed to encode frame: %v", s.shortID(), err)
		return true
	}
	s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ClientConn.WriteMessage(websocket.TextMessage, data) == nil
}

func (s *Session) writeCloseMessage() {
	s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	s.ClientConn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

// queueFrame adds an outgoing frame to the write queue (non-blocking). The
// read lock is held across the send so Close cannot close writeChan under us.
func (s *Session) queueFrame(msg *messages.ServerFrame) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	sent := false
	select {
	case s.writeChan <- msg:
		sent = true
	default:
		// Queue full, drop frame (shouldn't happen with proper sizing)
	}
	s.mu.RUnlock()
	if sent {
		s.touch()
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent frame in either direction
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// handleClientMessages reads frames from the client until the connection or
// session closes.
func (s *Session) handleClientMessages() {
	defer s.Close()

	for {
		select {
		case <-s.CloseChan:
			return
		default:
			_, raw, err := s.ClientConn.ReadMessage()
			if err != nil {
				return
			}

			s.touch()

			s.fwdMu.Lock()
			if !s.ready {
				if err := s.pending.Append(raw); err != nil {
					s.fwdMu.Unlock()
					if s.m != nil {
						s.m.PendingDropped.Inc()
					}
					log.Printf("⚠️ [%s] Pending buffer full, frame dropped", s.shortID())
					s.queueFrame(messages.NewErrorFrame("assistant is still connecting, frame dropped"))
					continue
				}
				s.fwdMu.Unlock()
				continue
			}
			s.forwardLocked(raw)
			s.fwdMu.Unlock()
		}
	}
}

// forwardLocked forwards one raw client frame upstream. Caller holds fwdMu.
func (s *Session) forwardLocked(raw []byte) {
	frame, err := messages.DecodeClientFrame(raw)
	if err != nil {
		if s.m != nil {
			s.m.InvalidFrames.Inc()
		}
		s.queueFrame(messages.NewErrorFrame("invalid frame"))
		return
	}

	// Unrecognized shapes are ignored for forward compatibility
	if frame.ClientContent == nil {
		return
	}

	if s.m != nil {
		s.m.ClientFrames.Inc()
	}

	sentAudio := false
	for _, turn := range frame.ClientContent.Turns {
		for _, part := range turn.Parts {
			switch {
			case part.InlineData != nil:
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					s.queueFrame(messages.NewErrorFrame("invalid base64 audio data"))
					continue
				}
				if err := s.upstream.SendAudio(pcm); err != nil {
					log.Printf("❌ [%s] Failed to forward audio (%d bytes): %v", s.shortID(), len(pcm), err)
					s.queueFrame(messages.NewErrorFrame("failed to forward to assistant"))
					return
				}
				sentAudio = true
			case part.Text != "":
				if err := s.upstream.SendText(part.Text); err != nil {
					log.Printf("❌ [%s] Failed to forward text: %v", s.shortID(), err)
					s.queueFrame(messages.NewErrorFrame("failed to forward to assistant"))
					return
				}
			}
		}
	}

	if frame.ClientContent.TurnComplete && sentAudio {
		if err := s.upstream.CompleteTurn(); err != nil {
			log.Printf("❌ [%s] Failed to complete turn: %v", s.shortID(), err)
		}
	}
}

// HandleUpstreamAudio relays one base64 PCM segment to the client
func (s *Session) HandleUpstreamAudio(base64Data string) {
	if s.m != nil {
		s.m.UpstreamFrames.Inc()
	}
	s.queueFrame(messages.NewAudioResponseFrame(base64Data))
}

// HandleUpstreamText relays one assistant utterance to the client
func (s *Session) HandleUpstreamText(text string) {
	if s.m != nil {
		s.m.UpstreamFrames.Inc()
	}
	s.queueFrame(messages.NewTextResponseFrame(text))
}

// HandleUpstreamTurnComplete relays the model's end-of-turn marker
func (s *Session) HandleUpstreamTurnComplete() {
	s.queueFrame(messages.NewTurnCompleteFrame())
}

// HandleUpstreamError notifies the client with a generic error and tears the
// session down: if the upstream side is gone, the client side goes with it.
func (s *Session) HandleUpstreamError(err error) {
	if s.IsClosed() {
		return
	}
	log.Printf("❌ [%s] Upstream error: %v", s.shortID(), err)
	s.queueFrame(messages.NewErrorFrame("upstream connection error"))
	s.Close()
}

// HandleToolCalls executes function calls from the model and sends the
// responses back upstream.
func (s *Session) HandleToolCalls(functionCalls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse

	for _, fc := range functionCalls {
		if s.m != nil {
			s.m.ToolCalls.Inc()
		}
		log.Printf("🔧 [%s] Function call: %s (id: %s)", s.shortID(), fc.Name, fc.ID)

		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: s.callFunction(fc),
		})
	}

	s.fwdMu.Lock()
	up := s.upstream
	s.fwdMu.Unlock()
	if up == nil {
		return
	}
	if err := up.SendToolResponse(responses); err != nil {
		log.Printf("❌ [%s] Failed to send tool response: %v", s.shortID(), err)
		s.queueFrame(messages.NewErrorFrame("failed to forward to assistant"))
	}
}

func (s *Session) callFunction(fc *genai.FunctionCall) map[string]any {
	if s.tools == nil {
		return map[string]any{"error": "storefront lookups are not configured"}
	}

	switch fc.Name {
	case "SearchDeals":
		query, _ := fc.Args["query"].(string)
		category, _ := fc.Args["category"].(string)
		deals, err := s.tools.SearchDeals(s.ctx, query, category)
		if err != nil {
			log.Printf("⚠️ [%s] SearchDeals failed: %v", s.shortID(), err)
			return map[string]any{"error": "deal lookup failed"}
		}
		return map[string]any{"deals": deals}

	case "UpcomingEvents":
		events, err := s.tools.UpcomingEvents(s.ctx)
		if err != nil {
			log.Printf("⚠️ [%s] UpcomingEvents failed: %v", s.shortID(), err)
			return map[string]any{"error": "event lookup failed"}
		}
		return map[string]any{"events": events}

	default:
		log.Printf("⚠️ [%s] Unknown function called: %s", s.shortID(), fc.Name)
		return map[string]any{"error": "unknown function: " + fc.Name}
	}
}

// Close terminates the session and cleans up both connections. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	// Closed under the lock so queueFrame can never send on a closed channel
	close(s.writeChan)
	s.mu.Unlock()

	s.cancel()

	// Signal close (for other goroutines waiting on this)
	close(s.CloseChan)

	s.pending.Clear()

	s.fwdMu.Lock()
	up := s.upstream
	s.upstream = nil
	s.ready = false
	s.fwdMu.Unlock()
	if up != nil {
		up.Close()
	}

	// The client connection is closed by writePump after it drains, so the
	// last queued frames are not lost. Closing the socket there also
	// unblocks the read loop.
	return nil
}

// IsClosed returns whether the session is closed
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) shortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}
