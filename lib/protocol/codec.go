package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyEvent   = errors.New("event name is empty")
	ErrUnknownEvent = errors.New("unknown event")
)

// ErrMissingField reports a required payload field that was absent.
type ErrMissingField string

func (e ErrMissingField) Error() string {
	return fmt.Sprintf("missing field %q", string(e))
}

// Envelope is the frame format: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload and wraps it in an envelope.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses one frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into v.
func DecodePayload(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: %w", env.Event, ErrMissingField("data"))
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}
