package messages

// Audio MIME types for the two directions of the bridge. The client captures
// at 16 kHz; Gemini answers at 24 kHz.
const (
	MimePCM16k = "audio/pcm;rate=16000"
	MimePCM24k = "audio/pcm;rate=24000"
)

// InlineData carries a base64-encoded binary payload inside a part.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 PCM
}

// Part is one piece of a turn: either text or inline audio.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Turn is one batch of parts from a single role.
type Turn struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ClientContent is the body of an outbound client frame.
type ClientContent struct {
	Turns        []Turn `json:"turns"`
	TurnComplete bool   `json:"turnComplete"`
}

// ClientFrame is what the browser/CLI client sends to the relay.
type ClientFrame struct {
	ClientContent *ClientContent `json:"clientContent,omitempty"`
}

// NewAudioFrame wraps one base64 PCM chunk (16 kHz mono) as a complete turn.
func NewAudioFrame(base64Data string) *ClientFrame {
	return &ClientFrame{
		ClientContent: &ClientContent{
			Turns: []Turn{{
				Role: "user",
				Parts: []Part{{
					InlineData: &InlineData{MimeType: MimePCM16k, Data: base64Data},
				}},
			}},
			TurnComplete: true,
		},
	}
}

// NewTextFrame wraps a user utterance as a complete turn.
func NewTextFrame(text string) *ClientFrame {
	return &ClientFrame{
		ClientContent: &ClientContent{
			Turns: []Turn{{
				Role:  "user",
				Parts: []Part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
}
