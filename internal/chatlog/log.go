// Package chatlog holds the ordered, deduplicated message history of a room.
package chatlog

import "hakushi/internal/domain"

// Log is an append-only list of messages, unique by ID, in first-arrival
// order. A message whose ID is already present is dropped: the stored copy
// is never replaced, even when the duplicate carries different content.
//
// Log is not safe for concurrent use; the session controller confines it to
// a single goroutine.
type Log struct {
	messages []domain.ChatMessage
	index    map[string]int
}

// New returns an empty log.
func New() *Log {
	return &Log{index: make(map[string]int)}
}

// Merge appends msg if its ID is new and it has a body. It reports whether
// the message was inserted.
func (l *Log) Merge(msg domain.ChatMessage) bool {
	if !msg.HasBody() {
		return false
	}
	if _, ok := l.index[msg.ID]; ok {
		return false
	}
	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	return true
}

// MergeAll merges msgs in order and returns how many were inserted.
func (l *Log) MergeAll(msgs []domain.ChatMessage) int {
	inserted := 0
	for _, msg := range msgs {
		if l.Merge(msg) {
			inserted++
		}
	}
	return inserted
}

// Contains reports whether a message with id is stored.
func (l *Log) Contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

// Get returns the stored message with id.
func (l *Log) Get(id string) (domain.ChatMessage, bool) {
	i, ok := l.index[id]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return l.messages[i], true
}

// Len returns the number of stored messages.
func (l *Log) Len() int { return len(l.messages) }

// Clear empties the log.
func (l *Log) Clear() {
	l.messages = nil
	l.index = make(map[string]int)
}

// Snapshot returns a copy of the messages in log order.
func (l *Log) Snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}
