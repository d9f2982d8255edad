package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mokete-tech/citypulse-voice/messages"
)

var errorPermissionDenied = errors.New("permission denied")

type nullPlayer struct{}

func (nullPlayer) Play(samples []float32) error { return nil }

// newTestController builds a fully wired controller pointed at the given
// test server instead of a derived production endpoint.
func newTestController(t *testing.T, url string, rec Recorder) *Controller {
	t.Helper()
	ctrl, err := NewController("testproject", "", "", nullPlayer{}, rec)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	ctrl.conn.endpoint = url
	return ctrl
}

func TestControllerRequiresProject(t *testing.T) {
	_, err := NewController("", "", "", nullPlayer{}, &fakeRecorder{})
	if err == nil {
		t.Fatal("Expected error for empty project identifier")
	}
}

func TestControllerNeverTouchesMicWhenDisconnected(t *testing.T) {
	rec := &fakeRecorder{unbuffed: true}
	ctrl := newTestController(t, "ws://127.0.0.1:1/functions/v1/voice-relay", rec)

	if err := ctrl.StartListening(context.Background()); err != nil {
		t.Errorf("Expected silent no-op, got %v", err)
	}
	if rec.startCount() != 0 {
		t.Errorf("Expected recorder untouched while disconnected, started %d times", rec.startCount())
	}
	if ctrl.IsListening() {
		t.Error("Expected not listening")
	}
}

func TestControllerSendTextWhenDisconnected(t *testing.T) {
	ctrl := newTestController(t, "ws://127.0.0.1:1/functions/v1/voice-relay", &fakeRecorder{})

	ctrl.SendText("hello")

	if len(ctrl.Transcript()) != 0 {
		t.Errorf("Expected empty transcript, got %v", ctrl.Transcript())
	}
}

func TestControllerListenAndDisconnect(t *testing.T) {
	received := make(chan *messages.ClientFrame, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := connTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if frame, err := messages.DecodeClientFrame(raw); err == nil {
				received <- frame
			}
		}
	}))
	defer srv.Close()

	rec := &fakeRecorder{unbuffed: true}
	ctrl := newTestController(t, "ws"+strings.TrimPrefix(srv.URL, "http"), rec)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := ctrl.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if !ctrl.IsListening() {
		t.Fatal("Expected listening after StartListening")
	}

	// Feed one full capture chunk through the fake microphone
	rec.mu.Lock()
	pw := rec.pw
	rec.mu.Unlock()
	go pw.Write(pcmOfBytes(chunkBytes, 0x01))

	select {
	case frame := <-received:
		part := frame.ClientContent.Turns[0].Parts[0]
		if part.InlineData == nil || part.InlineData.MimeType != messages.MimePCM16k {
			t.Errorf("Expected 16kHz audio frame on the wire, got %+v", part)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for audio frame at the relay")
	}

	ctrl.Disconnect()

	if ctrl.IsListening() {
		t.Error("Expected not listening after disconnect")
	}
	if !rec.wasClosed() {
		t.Error("Expected microphone released on disconnect")
	}
	if ctrl.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %v", ctrl.State())
	}
}

func TestControllerMicDenied(t *testing.T) {
	url, stop := startRelayStub(t)
	defer stop()

	rec := &fakeRecorder{startErr: errorPermissionDenied}
	ctrl := newTestController(t, url, rec)

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ctrl.Disconnect()

	err := ctrl.StartListening(context.Background())
	if !errors.Is(err, ErrMediaAccess) {
		t.Fatalf("Expected ErrMediaAccess, got %v", err)
	}
	if ctrl.IsListening() {
		t.Error("Expected not listening after failed start")
	}
}

func TestControllerTranscript(t *testing.T) {
	url, stop := startRelayStub(t,
		`{"candidates":[{"content":{"parts":[{"text":"The Good Fork has 20% off"}]}}]}`,
	)
	defer stop()

	ctrl := newTestController(t, url, &fakeRecorder{})

	var mu sync.Mutex
	var entries []Message
	ctrl.OnTranscript = func(msg Message) {
		mu.Lock()
		entries = append(entries, msg)
		mu.Unlock()
	}

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ctrl.Disconnect()

	ctrl.SendText("any dinner deals?")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ctrl.Transcript()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	transcript := ctrl.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("Expected 2 transcript entries, got %d", len(transcript))
	}
	if transcript[0].Role != "user" || transcript[0].Text != "any dinner deals?" {
		t.Errorf("Unexpected user entry: %+v", transcript[0])
	}
	if transcript[1].Role != "assistant" || transcript[1].Text != "The Good Fork has 20% off" {
		t.Errorf("Unexpected assistant entry: %+v", transcript[1])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(entries) != 2 {
		t.Errorf("Expected 2 transcript callbacks, got %d", len(entries))
	}
}

func TestControllerRemoteCloseStopsCapture(t *testing.T) {
	closeServer := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := connTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-closeServer
		ws.Close()
	}))
	defer srv.Close()

	rec := &fakeRecorder{unbuffed: true}
	ctrl := newTestController(t, "ws"+strings.TrimPrefix(srv.URL, "http"), rec)

	stateCh := make(chan ConnState, 8)
	ctrl.OnStateChange = func(s ConnState) { stateCh <- s }

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ctrl.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	close(closeServer)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-stateCh:
			if s == StateDisconnected {
				if ctrl.IsListening() {
					t.Error("Expected capture stopped after remote close")
				}
				if !rec.wasClosed() {
					t.Error("Expected microphone released after remote close")
				}
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for disconnect notification")
		}
	}
}
