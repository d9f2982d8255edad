package messages

// Candidate mirrors the upstream API's response structure: one generated
// alternative with its content parts.
type Candidate struct {
	Content *Turn `json:"content,omitempty"`
}

// ServerFrame is what the relay sends to the client. Exactly one of the
// fields is set per frame; clients ignore shapes they don't recognize.
type ServerFrame struct {
	SetupComplete *struct{}   `json:"setupComplete,omitempty"`
	Candidates    []Candidate `json:"candidates,omitempty"`
	TurnComplete  bool        `json:"turnComplete,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// NewSetupCompleteFrame acknowledges that the upstream session is ready.
func NewSetupCompleteFrame() *ServerFrame {
	return &ServerFrame{SetupComplete: &struct{}{}}
}

// NewAudioResponseFrame carries one base64 PCM segment (24 kHz mono).
func NewAudioResponseFrame(base64Data string) *ServerFrame {
	return &ServerFrame{
		Candidates: []Candidate{{
			Content: &Turn{
				Role: "model",
				Parts: []Part{{
					InlineData: &InlineData{MimeType: MimePCM24k, Data: base64Data},
				}},
			},
		}},
	}
}

// NewTextResponseFrame carries one assistant utterance.
func NewTextResponseFrame(text string) *ServerFrame {
	return &ServerFrame{
		Candidates: []Candidate{{
			Content: &Turn{
				Role:  "model",
				Parts: []Part{{Text: text}},
			},
		}},
	}
}

// NewTurnCompleteFrame marks the end of a model turn.
func NewTurnCompleteFrame() *ServerFrame {
	return &ServerFrame{TurnComplete: true}
}

// NewErrorFrame carries a generic error message. Callers must not include
// upstream credentials or internal detail in msg.
func NewErrorFrame(msg string) *ServerFrame {
	return &ServerFrame{Error: msg}
}
