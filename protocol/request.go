package protocol

import (
	"errors"
	"fmt"

	"github.com/CefBoud/monpubsub/compress"
	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
)

// ErrFrameTooLarge is returned for a request the broker would refuse to read
var ErrFrameTooLarge = errors.New("protocol: request exceeds the frame size limit")

// EncodeRequest frames msg, compressing its body with codec. Strings that do
// not fit their length prefix fail with serde.ErrStringTooLong.
func EncodeRequest(msg Message, correlationID uint32, clientID string, codec compress.CompressionType) ([]byte, error) {
	body := serde.NewEncoder()
	msg.encode(&body)
	if err := body.Err(); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", msg, err)
	}
	payload := body.Bytes()
	if codec != compress.NONE && len(payload) > 0 {
		var err error
		payload, err = compress.Encode(codec, payload)
		if err != nil {
			return nil, err
		}
	}

	e := serde.NewEncoder()
	e.PutInt16(msg.APIKey())
	e.PutInt16(Version)
	e.PutInt32(correlationID)
	e.PutString(clientID)
	e.PutInt8(uint8(codec))
	e.PutBytes(payload)
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("encoding client id: %w", err)
	}
	frame := e.FinishAndReturn()
	if len(frame)-4 > serde.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame)-4)
	}
	return frame, nil
}

// DecodeRequest turns a parsed request into its Message. The returned Error
// is the code to answer with when decoding fails.
func DecodeRequest(req types.Request) (Message, Error) {
	if req.RequestAPIVersion != Version {
		return nil, ErrUnsupportedVersion
	}
	body := req.Body
	if compress.FromAttributes(req.Attributes) != compress.NONE && len(body) > 0 {
		if compress.GetCompressor(req.Attributes) == nil {
			return nil, ErrUnsupportedCodec
		}
		var err error
		body, err = compress.Decode(req.Attributes, body)
		if err != nil {
			return nil, ErrCorruptMessage
		}
	}

	switch req.RequestAPIKey {
	case RegisterKey:
		m, err := decodeRegistration(body)
		if err != nil {
			return nil, ErrCorruptMessage
		}
		return m, ErrNone
	case DisseminateKey:
		m, err := decodeDissemination(body)
		if err != nil {
			return nil, ErrCorruptMessage
		}
		return m, ErrNone
	case PubPortKey:
		return ControlCommand{Command: PubPortCommand}, ErrNone
	case LoadKey:
		return ControlCommand{Command: LoadCommand}, ErrNone
	}
	return nil, ErrUnknownAPIKey
}

// ParseControlCommand maps a command name to its ControlCommand
func ParseControlCommand(name string) (ControlCommand, error) {
	switch name {
	case PubPortCommand, LoadCommand:
		return ControlCommand{Command: name}, nil
	}
	return ControlCommand{}, fmt.Errorf("unknown control command %q", name)
}
