package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mokete-tech/citypulse-voice/messages"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// fakeUpstream records everything the session forwards to it.
type fakeUpstream struct {
	mu            sync.Mutex
	audio         [][]byte
	texts         []string
	completeTurns int
	closed        bool
}

func (f *fakeUpstream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeUpstream) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeUpstream) CompleteTurn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeTurns++
	return nil
}

func (f *fakeUpstream) SendToolResponse(responses []*genai.FunctionResponse) error {
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) audioFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

func (f *fakeUpstream) textFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *fakeUpstream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startTestSession spins up a WebSocket server that wraps each accepted
// connection in a Session using the given dialer, and returns the client
// side plus the session itself.
func startTestSession(t *testing.T, dial UpstreamDialer, maxPending int) (*websocket.Conn, *Session, func()) {
	t.Helper()

	sessionCh := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		s := New("test-session", conn, dial, maxPending, nil, nil)
		s.Start()
		sessionCh <- s
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial failed: %v", err)
	}

	var s *Session
	select {
	case s = <-sessionCh:
	case <-time.After(2 * time.Second):
		client.Close()
		srv.Close()
		t.Fatal("Timed out waiting for session")
	}

	return client, s, func() {
		s.Close()
		client.Close()
		srv.Close()
	}
}

func readServerFrame(t *testing.T, client *websocket.Conn) *messages.ServerFrame {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	frame, err := messages.DecodeServerFrame(raw)
	if err != nil {
		t.Fatalf("DecodeServerFrame failed: %v", err)
	}
	return frame
}

func sendClientFrame(t *testing.T, client *websocket.Conn, frame *messages.ClientFrame) {
	t.Helper()
	data, err := messages.Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionBuffersFramesUntilUpstreamReady(t *testing.T) {
	fake := &fakeUpstream{}
	release := make(chan struct{})
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		<-release
		return fake, nil
	}

	client, _, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	payloads := []string{"first", "second", "third"}
	for _, p := range payloads {
		encoded := base64.StdEncoding.EncodeToString([]byte(p))
		sendClientFrame(t, client, messages.NewAudioFrame(encoded))
	}

	// Give the read loop time to buffer, then let the dial finish
	time.Sleep(100 * time.Millisecond)
	close(release)

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	waitFor(t, func() bool { return len(fake.audioFrames()) == 3 },
		"Expected 3 buffered audio frames to reach the upstream")

	for i, got := range fake.audioFrames() {
		if string(got) != payloads[i] {
			t.Errorf("Expected %q at position %d, got %q", payloads[i], i, got)
		}
	}
}

func TestSessionReportsPendingOverflow(t *testing.T) {
	block := make(chan struct{})
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		<-block
		return &fakeUpstream{}, nil
	}

	client, _, cleanup := startTestSession(t, dial, 2)
	defer func() {
		close(block)
		cleanup()
	}()

	encoded := base64.StdEncoding.EncodeToString([]byte("pcm"))
	for i := 0; i < 3; i++ {
		sendClientFrame(t, client, messages.NewAudioFrame(encoded))
	}

	frame := readServerFrame(t, client)
	if frame.Error == "" {
		t.Errorf("Expected error frame on overflow, got %+v", frame)
	}
}

func TestSessionForwardsTextAndAudio(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	client, _, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	sendClientFrame(t, client, messages.NewTextFrame("any braai specials?"))
	waitFor(t, func() bool { return len(fake.textFrames()) == 1 },
		"Expected text frame to reach the upstream")
	if fake.textFrames()[0] != "any braai specials?" {
		t.Errorf("Expected forwarded text, got %q", fake.textFrames()[0])
	}

	encoded := base64.StdEncoding.EncodeToString([]byte("samples"))
	sendClientFrame(t, client, messages.NewAudioFrame(encoded))
	waitFor(t, func() bool { return len(fake.audioFrames()) == 1 },
		"Expected audio frame to reach the upstream")
	if string(fake.audioFrames()[0]) != "samples" {
		t.Errorf("Expected decoded PCM bytes, got %q", fake.audioFrames()[0])
	}

	waitFor(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.completeTurns == 1
	}, "Expected audio turn to be completed upstream")
}

func TestSessionIgnoresUnknownShapes(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	client, s, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"futureField":{"x":1}}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	// A recognized frame after the unknown one still gets through
	sendClientFrame(t, client, messages.NewTextFrame("hello"))
	waitFor(t, func() bool { return len(fake.textFrames()) == 1 },
		"Expected text frame after unknown shape to reach the upstream")

	if s.IsClosed() {
		t.Error("Expected session to survive an unknown frame shape")
	}
}

func TestSessionRejectsMalformedFrame(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	client, _, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	errFrame := readServerFrame(t, client)
	if errFrame.Error == "" {
		t.Errorf("Expected error frame for malformed input, got %+v", errFrame)
	}
}

func TestSessionRelaysUpstreamResponses(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	client, s, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	s.HandleUpstreamAudio("UENN")
	audioFrame := readServerFrame(t, client)
	if len(audioFrame.Candidates) != 1 {
		t.Fatalf("Expected audio candidate, got %+v", audioFrame)
	}
	part := audioFrame.Candidates[0].Content.Parts[0]
	if part.InlineData == nil || part.InlineData.Data != "UENN" {
		t.Error("Expected inline audio data to reach the client unchanged")
	}
	if part.InlineData != nil && part.InlineData.MimeType != messages.MimePCM24k {
		t.Errorf("Expected 24kHz mime type, got %q", part.InlineData.MimeType)
	}

	s.HandleUpstreamText("Here are two deals near you")
	textFrame := readServerFrame(t, client)
	if len(textFrame.Candidates) != 1 || textFrame.Candidates[0].Content.Parts[0].Text != "Here are two deals near you" {
		t.Errorf("Expected text candidate, got %+v", textFrame)
	}

	s.HandleUpstreamTurnComplete()
	turnFrame := readServerFrame(t, client)
	if !turnFrame.TurnComplete {
		t.Errorf("Expected turnComplete frame, got %+v", turnFrame)
	}
}

func TestSessionClosesOnUpstreamError(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	client, s, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.SetupComplete == nil {
		t.Fatalf("Expected setupComplete frame, got %+v", frame)
	}

	s.HandleUpstreamError(errors.New("stream reset"))

	errFrame := readServerFrame(t, client)
	if errFrame.Error != "upstream connection error" {
		t.Errorf("Expected generic upstream error, got %q", errFrame.Error)
	}

	waitFor(t, func() bool { return s.IsClosed() },
		"Expected session to close after upstream error")
	waitFor(t, func() bool { return fake.isClosed() },
		"Expected upstream to be closed with the session")
}

func TestSessionDialFailure(t *testing.T) {
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return nil, errors.New("no route to host")
	}

	client, s, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	frame := readServerFrame(t, client)
	if frame.Error == "" {
		t.Fatalf("Expected error frame on dial failure, got %+v", frame)
	}
	if strings.Contains(frame.Error, "no route to host") {
		t.Error("Expected error frame to hide upstream detail")
	}

	waitFor(t, func() bool { return s.IsClosed() },
		"Expected session to close after dial failure")
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	fake := &fakeUpstream{}
	dial := func(ctx context.Context, s *Session) (Upstream, error) {
		return fake, nil
	}

	_, s, cleanup := startTestSession(t, dial, 8)
	defer cleanup()

	waitFor(t, func() bool {
		s.fwdMu.Lock()
		defer s.fwdMu.Unlock()
		return s.ready
	}, "Expected upstream to become ready")

	if err := s.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if !fake.isClosed() {
		t.Error("Expected upstream to be closed")
	}
}
