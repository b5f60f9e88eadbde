// Package upload sends drawing attachments to the room server and waits for
// them to become fetchable before handing them back to the caller.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"hakushi/internal/domain"
	"hakushi/internal/metrics"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts bounds the reachability poll.
	DefaultMaxAttempts = 4
	// DefaultInitialDelay is the wait after the first failed check; it doubles after each further failure.
	DefaultInitialDelay = 400 * time.Millisecond

	uploadPath  = "/api/svg/upload"
	contentType = "image/svg+xml"
	maxErrBody  = 512
)

// Config configures an Uploader.
type Config struct {
	APIBase      string // e.g. https://host
	HTTPClient   *http.Client
	Checker      Checker // defaults to HeadChecker on HTTPClient
	MaxAttempts  int
	InitialDelay time.Duration
	// NewTimer supplies the backoff timer for each poll. Nil uses real time.
	NewTimer func() backoff.Timer
	Logger   *slog.Logger
}

// Request is a single attachment upload.
type Request struct {
	Data      []byte
	Filename  string
	Room      string
	Author    string
	MessageID string
}

// UploadError describes a rejected upload response.
type UploadError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return "upload failed: " + e.Reason
}

func (e *UploadError) Unwrap() error { return domain.ErrUploadFailed }

// Uploader posts attachments and gates them on reachability. It holds no
// per-upload state, so concurrent Upload calls are independent.
type Uploader struct {
	apiBase      string
	client       *http.Client
	checker      Checker
	maxAttempts  int
	initialDelay time.Duration
	newTimer     func() backoff.Timer
	logger       *slog.Logger
}

// New validates cfg and builds an Uploader.
func New(cfg Config) (*Uploader, error) {
	u, err := url.Parse(cfg.APIBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upload: invalid API base %q", cfg.APIBase)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Checker == nil {
		cfg.Checker = HeadChecker{Client: cfg.HTTPClient}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Uploader{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		client:       cfg.HTTPClient,
		checker:      cfg.Checker,
		maxAttempts:  cfg.MaxAttempts,
		initialDelay: cfg.InitialDelay,
		newTimer:     cfg.NewTimer,
		logger:       cfg.Logger,
	}, nil
}

// Resolve returns the absolute URL of an attachment.
func (u *Uploader) Resolve(att domain.Attachment) string {
	return ResolveURL(u.apiBase, att.URL)
}

// Upload posts req and returns the first attachment descriptor once it is
// reachable. It fails with ErrUploadFailed or ErrAttachmentNotReachable.
func (u *Uploader) Upload(ctx context.Context, req Request) (domain.Attachment, error) {
	start := time.Now()
	att, err := u.post(ctx, req)
	if err != nil {
		metrics.UploadsFailed.Inc()
		return domain.Attachment{}, err
	}
	if err := u.WaitReachable(ctx, att); err != nil {
		metrics.UploadsUnreachable.Inc()
		return domain.Attachment{}, err
	}
	metrics.UploadsOK.Inc()
	metrics.UploadLatency.Observe(time.Since(start).Seconds())
	u.logger.Info("attachment uploaded",
		"id", att.ID,
		"filename", att.Filename,
		"url", u.Resolve(att),
		"elapsed", time.Since(start),
	)
	return att, nil
}

func (u *Uploader) post(ctx context.Context, req Request) (domain.Attachment, error) {
	body, boundary, err := multipartBody(req)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("build upload body: %w", err)
	}

	endpoint := u.apiBase + uploadPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	u.logger.Debug("uploading attachment", "url", endpoint, "filename", req.Filename, "bytes", len(req.Data))

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: read response: %w", domain.ErrUploadFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Attachment{}, &UploadError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrBody)}
	}

	var result struct {
		Attachments []domain.Attachment `json:"svgs"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.Attachment{}, &UploadError{StatusCode: resp.StatusCode, Reason: "invalid response: " + err.Error()}
	}
	if len(result.Attachments) == 0 {
		return domain.Attachment{}, &UploadError{StatusCode: resp.StatusCode, Reason: "no attachment in response"}
	}
	return result.Attachments[0], nil
}

// WaitReachable polls the attachment URL until a check succeeds or the
// attempt budget is spent. Every failed check, the last one included, is
// followed by a backoff wait, so the default budget waits 0.4s, 0.8s, 1.6s
// and 3.2s before giving up.
func (u *Uploader) WaitReachable(ctx context.Context, att domain.Attachment) error {
	target := u.Resolve(att)

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     u.initialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Minute,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(u.maxAttempts)), ctx)

	attempt := 0
	var lastErr error
	check := func() error {
		if attempt == u.maxAttempts {
			// Budget spent; this call only ends the trailing wait.
			return backoff.Permanent(lastErr)
		}
		attempt++
		metrics.ReachabilityAttempts.Inc()
		lastErr = u.checker.Check(ctx, target)
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		u.logger.Debug("attachment not reachable yet",
			"url", target,
			"attempt", attempt,
			"backoff", wait,
			"err", err,
		)
	}

	var timer backoff.Timer
	if u.newTimer != nil {
		timer = u.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(check, policy, notify, timer)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	u.logger.Warn("attachment never became reachable", "url", target, "attempts", attempt, "err", err)
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrAttachmentNotReachable, target, attempt, err)
}

func multipartBody(req Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"room", req.Room},
		{"user", req.Author},
		{"messageId", req.MessageID},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="svgs"; filename=%q`, req.Filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.Boundary(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
