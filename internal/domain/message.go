package domain

import (
	"strings"
	"time"
)

// RoleUser is the role tag applied to messages composed by people.
const RoleUser = "user"

// Attachment references an uploaded artifact. Two attachments are the same
// attachment when their IDs match.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Equal reports whether a and other refer to the same stored artifact.
func (a Attachment) Equal(other Attachment) bool {
	return a.ID == other.ID
}

// ChatMessage is a single entry of a room's history. Values are never
// mutated once built.
type ChatMessage struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Author      string       `json:"user"`
	Role        string       `json:"role"`
	Timestamp   float64      `json:"timestamp"` // seconds since epoch
	Attachments []Attachment `json:"svgs,omitempty"`
}

// HasBody reports whether the message carries text or at least one
// attachment. Messages without a body are never stored.
func (m ChatMessage) HasBody() bool {
	return m.Content != "" || len(m.Attachments) > 0
}

// Time converts the float timestamp into a time.Time.
func (m ChatMessage) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Timestamp converts t into float seconds since epoch, the unit used on the wire.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ShortRoomID derives an 8 character lowercase room identifier from a UUID string.
func ShortRoomID(uuid string) string {
	id := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
