package messages

import "github.com/bytedance/sonic"

// Encode serializes a frame for the wire.
func Encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// DecodeClientFrame parses a frame received from a client. Unknown fields are
// ignored; a frame with no clientContent decodes to an empty ClientFrame.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecodeServerFrame parses a frame received from the relay.
func DecodeServerFrame(data []byte) (*ServerFrame, error) {
	var f ServerFrame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
