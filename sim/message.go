package sim

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is an envelope exchanged between agents over the network.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    Time            `json:"sent_at"`
	DeliverAt Time            `json:"deliver_at"`
	InReplyTo string          `json:"in_reply_to,omitempty"`
}

// IsReply reports whether m answers an earlier request.
func (m Message) IsReply() bool {
	return m.InReplyTo != ""
}

// Decode unmarshals the payload into target.
func (m Message) Decode(target any) error {
	return defaultCodec.Decode(m.Payload, target)
}

// =============================================================================
// Codec
// =============================================================================

// Codec encodes message payloads.
type Codec interface {
	// Encode converts a Go value to bytes
	Encode(v any) ([]byte, error)

	// Decode converts bytes back to a Go value
	Decode(data []byte, target any) error

	// Name returns the codec name (for debugging/logging)
	Name() string
}

// JSONCodec uses JSON encoding for message payloads.
type JSONCodec struct{}

var defaultCodec Codec = JSONCodec{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, target any) error {
	if target == nil {
		return errors.New("decode target cannot be nil")
	}
	if len(data) == 0 {
		return errors.New("payload is empty")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}

func (JSONCodec) Name() string {
	return "json"
}
