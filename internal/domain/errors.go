package domain

import "errors"

// Error taxonomy shared by the session, codec and upload packages. Callers
// match these with errors.Is; concrete errors wrap them with context.
var (
	// ErrInvalidAddress means the room URL could not be formed.
	ErrInvalidAddress = errors.New("invalid room address")
	// ErrTransportReceive ends a receive loop and demotes the session.
	ErrTransportReceive = errors.New("transport receive failed")
	// ErrDecode marks a single malformed inbound frame.
	ErrDecode = errors.New("malformed frame")
	// ErrSendFailed marks an outbound write that did not complete.
	ErrSendFailed = errors.New("send failed")
	// ErrNotConnected means no transport session is open.
	ErrNotConnected = errors.New("not connected")
	// ErrUploadFailed covers non-200 upload responses and empty descriptor lists.
	ErrUploadFailed = errors.New("upload failed")
	// ErrAttachmentNotReachable means the reachability poll was exhausted.
	ErrAttachmentNotReachable = errors.New("attachment not reachable after upload")
)
