package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/vovakirdan/xo-arena/internal/multiplayer"
)

var errInvalidMessage = errors.New("invalid message format")

// envelope is the frame shape shared by both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MovePayload is the body of a MOVE message. Row and Col are pointers so a
// missing coordinate is told apart from zero.
type MovePayload struct {
	Row          *int   `mapstructure:"row"`
	Col          *int   `mapstructure:"col"`
	PlayerSymbol string `mapstructure:"playerSymbol"`
}

// PingPayload is the body of a PING message.
type PingPayload struct {
	Timestamp int64 `mapstructure:"timestamp"`
}

// inbound is a decoded client frame. Exactly one payload pointer is set for
// message types that carry one.
type inbound struct {
	Type string
	Move *MovePayload
	Ping *PingPayload
}

func decodeInbound(data []byte) (*inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}

	msg := &inbound{Type: env.Type}
	switch env.Type {
	case multiplayer.MsgMove:
		var p MovePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.Row == nil || p.Col == nil {
			return nil, fmt.Errorf("%w: move requires row and col", errInvalidMessage)
		}
		msg.Move = &p
	case multiplayer.MsgPing:
		var p PingPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		msg.Ping = &p
	case multiplayer.MsgSurrender:
	case "":
		return nil, fmt.Errorf("%w: missing type", errInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errInvalidMessage, env.Type)
	}
	return msg, nil
}

// decodePayload maps a JSON object onto out. Numbers are kept as
// json.Number so integers survive the trip through interface{}.
func decodePayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}

	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := md.Decode(fields); err != nil {
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	return nil
}

// encodeEvent wraps an outbound event in the type/payload envelope.
func encodeEvent(evt multiplayer.SessionEvent) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: evt.MessageType(), Payload: payload})
}
