package wire

import (
	"time"

	"hakushi/internal/domain"
)

// Frame is the classified form of an Envelope. Exactly one of AddFrame,
// AllFrame or ControlFrame is produced for every decoded envelope.
type Frame interface {
	frame()
}

// AddFrame carries a single message. It is produced for any kind other than
// "all" whose envelope has both an id and a user.
type AddFrame struct {
	Kind     Kind
	envelope Envelope
}

// AllFrame carries a history snapshot. Entries missing an id or user have
// already been filtered out; Skipped counts them.
type AllFrame struct {
	Entries []AddFrame
	Skipped int
}

// ControlFrame is a heartbeat or control envelope with no message payload.
type ControlFrame struct {
	Kind Kind
	Type string
}

func (AddFrame) frame()     {}
func (AllFrame) frame()     {}
func (ControlFrame) frame() {}

// Classify branches a decoded envelope into its typed case.
func Classify(env Envelope) Frame {
	kind := env.Kind()
	if kind == KindAll {
		all := AllFrame{}
		for _, nested := range env.Messages {
			if add, ok := single(nested); ok {
				all.Entries = append(all.Entries, add)
			} else {
				all.Skipped++
			}
		}
		return all
	}
	if add, ok := single(env); ok {
		return add
	}
	return ControlFrame{Kind: kind, Type: env.Type}
}

func single(env Envelope) (AddFrame, bool) {
	if env.ID == nil || env.User == nil {
		return AddFrame{}, false
	}
	return AddFrame{Kind: env.Kind(), envelope: env}, true
}

// ID returns the message id carried by the frame.
func (f AddFrame) ID() string { return *f.envelope.ID }

// Message builds the chat message, filling absent fields with defaults:
// empty content, role "user", and now for a missing timestamp.
func (f AddFrame) Message(now time.Time) domain.ChatMessage {
	env := f.envelope
	msg := domain.ChatMessage{
		ID:     *env.ID,
		Author: *env.User,
		Role:   domain.RoleUser,
	}
	if env.Content != nil {
		msg.Content = *env.Content
	}
	if env.Role != nil {
		msg.Role = *env.Role
	}
	if env.Timestamp != nil {
		msg.Timestamp = *env.Timestamp
	} else {
		msg.Timestamp = domain.Timestamp(now)
	}
	if len(env.Attachments) > 0 {
		msg.Attachments = append([]domain.Attachment(nil), env.Attachments...)
	}
	return msg
}
