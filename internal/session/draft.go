package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"hakushi/internal/bus"
	"hakushi/internal/domain"
	"hakushi/internal/upload"
)

// ErrEmptyDraft is returned by Submit when there is no text and nothing attached.
var ErrEmptyDraft = errors.New("draft is empty")

// Uploader uploads a single attachment and returns it once reachable.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (domain.Attachment, error)
}

// Sender writes a message to the room.
type Sender interface {
	Send(ctx context.Context, content string, attachments []domain.Attachment, messageID string) (domain.ChatMessage, error)
}

// UploadEvent is the payload of upload.started and upload.done events.
type UploadEvent struct {
	MessageID  string
	Filename   string
	Attachment domain.Attachment // set on success
	Err        error             // set on failure
}

// Draft is the message being composed. Its message ID is created on first
// use and shared by every upload, so the server can associate attachments
// with the message that eventually carries them.
type Draft struct {
	identity func() (room, author string)
	newID    func() string
	emit     func(eventType string, payload any)

	mu          sync.Mutex
	messageID   string
	attachments []domain.Attachment
}

// NewDraft starts an empty draft addressed to the controller's current room
// and user.
func (c *Controller) NewDraft() *Draft {
	return &Draft{identity: c.Identity, newID: c.newID, emit: c.emit}
}

// MessageID returns the draft's message ID, creating it if needed.
func (d *Draft) MessageID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messageIDLocked()
}

func (d *Draft) messageIDLocked() string {
	if d.messageID == "" {
		d.messageID = d.newID()
	}
	return d.messageID
}

// Attachments returns the pending attachments.
func (d *Draft) Attachments() []domain.Attachment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Attachment(nil), d.attachments...)
}

// Attach uploads data and appends the resulting attachment. On failure the
// pending attachments are left as they were. Progress is published as
// upload.started and upload.done events.
func (d *Draft) Attach(ctx context.Context, up Uploader, data []byte, filename string) (domain.Attachment, error) {
	room, author := d.identity()
	id := d.MessageID()
	d.emit(bus.EventUploadStarted, UploadEvent{MessageID: id, Filename: filename})
	att, err := up.Upload(ctx, upload.Request{
		Data:      data,
		Filename:  filename,
		Room:      room,
		Author:    author,
		MessageID: id,
	})
	d.emit(bus.EventUploadDone, UploadEvent{MessageID: id, Filename: filename, Attachment: att, Err: err})
	if err != nil {
		return domain.Attachment{}, err
	}

	d.mu.Lock()
	d.attachments = append(d.attachments, att)
	d.mu.Unlock()
	return att, nil
}

// Submit sends the trimmed text with the pending attachments and resets the
// draft on success.
func (d *Draft) Submit(ctx context.Context, s Sender, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)

	d.mu.Lock()
	atts := append([]domain.Attachment(nil), d.attachments...)
	if text == "" && len(atts) == 0 {
		d.mu.Unlock()
		return domain.ChatMessage{}, ErrEmptyDraft
	}
	id := d.messageIDLocked()
	d.mu.Unlock()

	if len(atts) == 0 {
		atts = nil
	}
	msg, err := s.Send(ctx, text, atts, id)
	if err != nil {
		return msg, err
	}

	d.mu.Lock()
	if d.messageID == id {
		d.messageID = ""
		d.attachments = nil
	}
	d.mu.Unlock()
	return msg, nil
}

// Reset discards the pending message ID and attachments.
func (d *Draft) Reset() {
	d.mu.Lock()
	d.messageID = ""
	d.attachments = nil
	d.mu.Unlock()
}
