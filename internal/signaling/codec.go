package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts events to and from websocket frames.
type Codec interface {
	Name() string
	// FrameType is the websocket message type frames are written with.
	FrameType() int
	Encode(ev Event) ([]byte, error)
	Decode(data []byte) (Event, error)
}

// NewCodec returns the codec registered under name ("json" or "msgpack").
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type decodeFunc func(unmarshal func(v any) error) (Event, error)

func decodeAs[T Event](unmarshal func(v any) error) (Event, error) {
	var v T
	if err := unmarshal(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[EventType]decodeFunc{
	TypeConnected:           decodeAs[Connected],
	TypeJoinExam:            decodeAs[JoinExam],
	TypeExistingUsers:       decodeAs[ExistingUsers],
	TypeUserJoined:          decodeAs[UserJoined],
	TypeUserLeft:            decodeAs[UserLeft],
	TypeRosterUpdate:        decodeAs[RosterUpdate],
	TypeSignal:              decodeAs[Signal],
	TypeVoiceSignal:         decodeAs[VoiceSignal],
	TypeVoiceConnectRequest: decodeAs[VoiceConnectRequest],
	TypeVoiceDisconnect:     decodeAs[VoiceDisconnect],
	TypeMediaStatus:         decodeAs[MediaStatus],
	TypeHelpRequest:         decodeAs[HelpRequest],
	TypePrivateMessage:      decodeAs[PrivateMessage],
	TypeError:               decodeAs[ServerError],
}

// decodePayload resolves the variant for t, decodes it and validates it.
func decodePayload(t EventType, unmarshal func(v any) error) (Event, error) {
	decode, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}
	ev, err := decode(unmarshal)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, t, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// JSONCodec speaks `{"type": ..., "payload": {...}}` text frames.
type JSONCodec struct{}

type jsonEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Type: ev.Type(), Payload: payload})
}

func (JSONCodec) Decode(data []byte) (Event, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	payload := env.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return decodePayload(env.Type, func(v any) error {
		return json.Unmarshal(payload, v)
	})
}

// MsgpackCodec speaks the same envelope as binary MessagePack frames.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Type    EventType          `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(ev Event) ([]byte, error) {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{Type: ev.Type(), Payload: payload})
}

func (MsgpackCodec) Decode(data []byte) (Event, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return decodePayload(env.Type, func(v any) error {
		if len(env.Payload) == 0 {
			return nil
		}
		return msgpack.Unmarshal(env.Payload, v)
	})
}
