package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/Mokete-tech/citypulse-voice/client"

	"github.com/joho/godotenv"
)

// soxPlayer streams PCM to the speakers via a sox subprocess.
type soxPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func newSoxPlayer() *soxPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(client.PlaybackSampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &soxPlayer{cmd: cmd, stdin: stdin}
}

// Play writes one segment and paces to its duration so back-to-back
// segments render gaplessly without racing ahead of the device.
func (p *soxPlayer) Play(samples []float32) error {
	p.mu.Lock()
	if p.closed || p.stdin == nil {
		p.mu.Unlock()
		return fmt.Errorf("player closed")
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Max(-32768, math.Min(32767, float64(s)*32768)))
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(v))
	}
	_, err := p.stdin.Write(buf)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	time.Sleep(time.Duration(len(samples)) * time.Second / client.PlaybackSampleRate)
	return nil
}

func (p *soxPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Wait()
	}
}

func main() {
	_ = godotenv.Load()

	projectID := flag.String("project", os.Getenv("CITYPULSE_PROJECT_ID"), "Relay project identifier (also CITYPULSE_PROJECT_ID)")
	host := flag.String("host", "", "Relay host domain (default "+client.DefaultHost+")")
	relayName := flag.String("relay", "", "Relay function name (default "+client.DefaultRelayName+")")
	micDevice := flag.String("mic", "", "Microphone device override for ffmpeg")
	flag.Parse()

	player := newSoxPlayer()
	if player == nil {
		log.Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	ctrl, err := client.NewController(*projectID, *host, *relayName, player, &client.FFmpegRecorder{Device: *micDevice})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctrl.OnStateChange = func(s client.ConnState) {
		log.Printf("🔌 Connection: %s", s)
	}
	ctrl.OnSpeaking = func(speaking bool) {
		if speaking {
			log.Println("🔊 Assistant speaking...")
		}
	}
	ctrl.OnTranscript = func(msg client.Message) {
		if msg.Role == "assistant" {
			fmt.Printf("assistant> %s\n", msg.Text)
		}
	}
	ctrl.OnError = func(err error) {
		log.Printf("❌ %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer ctrl.Disconnect()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		ctrl.Disconnect()
		os.Exit(0)
	}()

	fmt.Println("Type a message, or /listen, /stop, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/listen":
			if err := ctrl.StartListening(ctx); err != nil {
				log.Printf("❌ %v", err)
			} else {
				log.Println("🎤 Listening (send /stop to release the mic)")
			}
		case line == "/stop":
			ctrl.StopListening()
			log.Println("🎤 Stopped listening")
		default:
			ctrl.SendText(line)
		}
	}
}
