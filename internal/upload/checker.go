package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Checker reports whether a stored artifact can be fetched yet.
type Checker interface {
	Check(ctx context.Context, url string) error
}

// HeadChecker probes a URL with a HEAD request; any 2xx counts as present.
type HeadChecker struct {
	Client *http.Client
}

// Check implements Checker.
func (h HeadChecker) Check(ctx context.Context, url string) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HEAD %s: HTTP %d", url, resp.StatusCode)
	}
	return nil
}
