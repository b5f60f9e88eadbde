// Package wire encodes and decodes the JSON envelopes exchanged with the
// room server.
package wire

import (
	"encoding/json"
	"fmt"

	"hakushi/internal/domain"
)

// Kind discriminates envelopes.
type Kind string

const (
	KindAdd     Kind = "add"
	KindUpdate  Kind = "update"
	KindInit    Kind = "init"
	KindAll     Kind = "all"
	KindUnknown Kind = "unknown"
)

// Envelope is the generic wire object. Every field is optional, and a nil
// pointer, nil slice or empty Type means the field was absent on the wire.
// Entries nested in Messages usually carry no type.
type Envelope struct {
	Type        string              `json:"type,omitempty"`
	ID          *string             `json:"id,omitempty"`
	Content     *string             `json:"content,omitempty"`
	User        *string             `json:"user,omitempty"`
	Role        *string             `json:"role,omitempty"`
	Timestamp   *float64            `json:"timestamp,omitempty"`
	Attachments []domain.Attachment `json:"svgs,omitempty"`
	Messages    []Envelope          `json:"messages,omitempty"`
}

// Kind maps the raw type string onto a known Kind.
func (e Envelope) Kind() Kind {
	switch Kind(e.Type) {
	case KindAdd, KindUpdate, KindInit, KindAll:
		return Kind(e.Type)
	default:
		return KindUnknown
	}
}

// DecodeError reports a frame that is not a valid envelope object.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{domain.ErrDecode, e.Err}
}

// Decode parses a frame. Unknown fields are ignored and missing ones stay
// absent; only payloads that are not a JSON object of the expected shape fail.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Raw: data, Err: err}
	}
	return env, nil
}

// Encode serializes env with only the present fields. A top-level envelope
// always carries a type; nested entries keep theirs only when set.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		env.Type = string(KindUnknown)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// FromMessage builds an envelope of the given kind carrying every field of msg.
// Attachments are omitted when msg has none.
func FromMessage(kind Kind, msg domain.ChatMessage) Envelope {
	env := Envelope{
		Type:      string(kind),
		ID:        ptr(msg.ID),
		Content:   ptr(msg.Content),
		User:      ptr(msg.Author),
		Role:      ptr(msg.Role),
		Timestamp: ptr(msg.Timestamp),
	}
	if len(msg.Attachments) > 0 {
		env.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
	}
	return env
}

func ptr[T any](v T) *T { return &v }
