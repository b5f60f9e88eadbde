package domain

import "context"

// Conn is a duplex, message-oriented transport session.
type Conn interface {
	// Receive blocks until the next inbound frame arrives, the connection
	// fails, or ctx is cancelled.
	Receive(ctx context.Context) ([]byte, error)
	// Send writes a single text frame. Safe for concurrent use with Receive.
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens transport sessions against a room address.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Settings is the locally persisted client state.
type Settings struct {
	UserID   string
	UserName string
	Room     string
	WSBase   string // overrides the configured websocket base when set
	APIBase  string // overrides the configured API base when set
}

// SettingsStore persists Settings between runs.
type SettingsStore interface {
	Load(ctx context.Context) (Settings, error)
	SetUserName(ctx context.Context, name string) error
	SetRoom(ctx context.Context, room string) error
	SetServer(ctx context.Context, wsBase, apiBase string) error
	Close() error
}
