package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyMessage is returned when decoding zero bytes
	ErrEmptyMessage = errors.New("protocol: empty message")
	// ErrMissingType is returned for envelopes without a type
	ErrMissingType = errors.New("protocol: missing message type")
	// ErrEmptyPayload is returned when a typed payload is requested from an envelope without data
	ErrEmptyPayload = errors.New("protocol: empty payload")
)

// NewEnvelope builds an envelope of type t with payload marshalled into Data
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if t == "" {
		return Envelope{}, ErrMissingType
	}
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// Marshal encodes the envelope
func (e Envelope) Marshal() ([]byte, error) {
	if e.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(e)
}

// Encode is a shorthand for an unsequenced envelope stamped with now
func Encode(t MessageType, payload any, from string, now time.Time) ([]byte, error) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return nil, err
	}
	env.From = from
	env.Timestamp = now.UnixMilli()
	return env.Marshal()
}

// Decode parses raw bytes into an envelope
func Decode(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into T
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, fmt.Errorf("%w for type %q", ErrEmptyPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// PeekType reads only the type field of a raw message
func PeekType(b []byte) (MessageType, error) {
	if len(b) == 0 {
		return "", ErrEmptyMessage
	}
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", fmt.Errorf("peek type: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}

// MillisToTime converts unix ms to a time.Time
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
