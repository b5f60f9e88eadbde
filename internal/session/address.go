package session

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"hakushi/internal/domain"
)

// roomPath is the server route rooms are mounted under.
const roomPath = "/parties/chat/"

// BuildURL forms the room address base/parties/chat/{room}. http and https
// bases are mapped to ws and wss.
func BuildURL(wsBase, room string) (string, error) {
	if err := ValidateRoom(room); err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(wsBase))
	if err != nil {
		return "", fmt.Errorf("%w: parse base %q: %v", domain.ErrInvalidAddress, wsBase, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		return "", fmt.Errorf("%w: base %q has no scheme", domain.ErrInvalidAddress, wsBase)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: base %q has no host", domain.ErrInvalidAddress, wsBase)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + roomPath + room
	u.RawPath = ""
	return u.String(), nil
}

// ValidateRoom rejects room identifiers that cannot form a single path segment.
func ValidateRoom(room string) error {
	if room == "" {
		return fmt.Errorf("%w: empty room", domain.ErrInvalidAddress)
	}
	for _, r := range room {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(`/\?#%`, r) {
			return fmt.Errorf("%w: room %q contains %q", domain.ErrInvalidAddress, room, r)
		}
	}
	return nil
}
