package upload

import "strings"

// ResolveURL turns a server-provided attachment path into an absolute URL.
// Absolute http(s) URLs are returned unchanged; relative paths are joined to
// base with exactly one slash between them.
func ResolveURL(base, path string) string {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
