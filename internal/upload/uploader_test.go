package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hakushi/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeTimer fires immediately and records every requested delay.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.c }

func (f *fakeTimer) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// flakyChecker fails the first n checks.
type flakyChecker struct {
	failures int32
	calls    atomic.Int32
	urls     chan string
}

func (c *flakyChecker) Check(ctx context.Context, url string) error {
	n := c.calls.Add(1)
	if c.urls != nil {
		select {
		case c.urls <- url:
		default:
		}
	}
	if c.failures < 0 || n <= c.failures {
		return fmt.Errorf("HTTP 404")
	}
	return nil
}

func newTestUploader(t *testing.T, base string, checker Checker, timer *fakeTimer) *Uploader {
	t.Helper()
	cfg := Config{
		APIBase: base,
		Checker: checker,
		Logger:  testLogger(),
	}
	if timer != nil {
		cfg.NewTimer = func() backoff.Timer { return timer }
	}
	u, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestResolveURL(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"https://h", "svgs/a.svg", "https://h/svgs/a.svg"},
		{"https://h", "/svgs/a.svg", "https://h/svgs/a.svg"},
		{"https://h/", "/svgs/a.svg", "https://h/svgs/a.svg"},
		{"https://h", "https://other/x.svg", "https://other/x.svg"},
		{"https://h", "HTTP://other/x.svg", "HTTP://other/x.svg"},
		{"https://h/api", "svgs/a.svg", "https://h/api/svgs/a.svg"},
	}
	for _, tc := range cases {
		if got := ResolveURL(tc.base, tc.path); got != tc.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}

func TestNew_InvalidBase(t *testing.T) {
	for _, base := range []string{"", "host-only", "://bad"} {
		if _, err := New(Config{APIBase: base}); err == nil {
			t.Errorf("expected error for base %q", base)
		}
	}
}

func TestWaitReachable_SucceedsOnFourthAttempt(t *testing.T) {
	checker := &flakyChecker{failures: 3}
	timer := newFakeTimer()
	u := newTestUploader(t, "https://h", checker, timer)

	err := u.WaitReachable(context.Background(), domain.Attachment{ID: "a1", URL: "/svgs/a.svg"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := checker.calls.Load(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	assertDelays(t, timer.Delays(), want)
}

func TestWaitReachable_ExhaustsAttempts(t *testing.T) {
	checker := &flakyChecker{failures: -1}
	timer := newFakeTimer()
	u := newTestUploader(t, "https://h", checker, timer)

	err := u.WaitReachable(context.Background(), domain.Attachment{ID: "a1", URL: "svgs/a.svg"})
	if !errors.Is(err, domain.ErrAttachmentNotReachable) {
		t.Fatalf("expected ErrAttachmentNotReachable, got %v", err)
	}
	if got := checker.calls.Load(); got != DefaultMaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", DefaultMaxAttempts, got)
	}
	want := []time.Duration{
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
	}
	assertDelays(t, timer.Delays(), want)
}

func TestWaitReachable_FirstCheckPasses(t *testing.T) {
	checker := &flakyChecker{urls: make(chan string, 1)}
	timer := newFakeTimer()
	u := newTestUploader(t, "https://h", checker, timer)

	if err := u.WaitReachable(context.Background(), domain.Attachment{URL: "/svgs/a.svg"}); err != nil {
		t.Fatal(err)
	}
	if len(timer.Delays()) != 0 {
		t.Errorf("no backoff expected, got %v", timer.Delays())
	}
	if got := <-checker.urls; got != "https://h/svgs/a.svg" {
		t.Errorf("checked wrong url %q", got)
	}
}

func TestWaitReachable_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := newTestUploader(t, "https://h", &flakyChecker{failures: -1}, newFakeTimer())

	err := u.WaitReachable(ctx, domain.Attachment{URL: "/a.svg"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func assertDelays(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, got)
		}
	}
}

// uploadServer fakes the upload endpoint and a storage path that becomes
// visible after headMisses HEAD requests.
func uploadServer(t *testing.T, headMisses int32, respond func(w http.ResponseWriter)) (*httptest.Server, *atomic.Int32, chan map[string]string) {
	t.Helper()
	var heads atomic.Int32
	forms := make(chan map[string]string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/svg/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("svgs")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		forms <- map[string]string{
			"room":        r.FormValue("room"),
			"user":        r.FormValue("user"),
			"messageId":   r.FormValue("messageId"),
			"filename":    header.Filename,
			"contentType": header.Header.Get("Content-Type"),
			"data":        string(data),
		}
		respond(w)
	})
	mux.HandleFunc("/svgs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if heads.Add(1) <= headMisses {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &heads, forms
}

func okResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"svgs": []domain.Attachment{{ID: "s1", Filename: "d.svg", URL: "/svgs/s1.svg"}},
	})
}

func TestUpload_EndToEnd(t *testing.T) {
	srv, heads, forms := uploadServer(t, 2, okResponse)
	timer := newFakeTimer()
	u, err := New(Config{
		APIBase:    srv.URL,
		HTTPClient: srv.Client(),
		NewTimer:   func() backoff.Timer { return timer },
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	att, err := u.Upload(context.Background(), Request{
		Data:      []byte("<svg/>"),
		Filename:  "d.svg",
		Room:      "abcd1234",
		Author:    "ann",
		MessageID: "msg-1",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.ID != "s1" || att.URL != "/svgs/s1.svg" {
		t.Errorf("unexpected attachment %+v", att)
	}
	if got := heads.Load(); got != 3 {
		t.Errorf("expected 3 HEAD checks, got %d", got)
	}

	form := <-forms
	want := map[string]string{
		"room":        "abcd1234",
		"user":        "ann",
		"messageId":   "msg-1",
		"filename":    "d.svg",
		"contentType": "image/svg+xml",
		"data":        "<svg/>",
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form %s: expected %q, got %q", k, v, form[k])
		}
	}
}

func TestUpload_NonOKStatus(t *testing.T) {
	srv, heads, _ := uploadServer(t, 0, func(w http.ResponseWriter) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	u := newTestUploader(t, srv.URL, HeadChecker{Client: srv.Client()}, newFakeTimer())

	_, err := u.Upload(context.Background(), Request{Data: []byte("x"), Filename: "a.svg"})
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	var upErr *UploadError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected UploadError with status 500, got %v", err)
	}
	if heads.Load() != 0 {
		t.Error("failed upload must not be polled")
	}
}

func TestUpload_EmptyDescriptorList(t *testing.T) {
	srv, _, _ := uploadServer(t, 0, func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"svgs":[]}`))
	})
	u := newTestUploader(t, srv.URL, HeadChecker{Client: srv.Client()}, newFakeTimer())

	_, err := u.Upload(context.Background(), Request{Data: []byte("x"), Filename: "a.svg"})
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func TestUpload_NeverReachable(t *testing.T) {
	srv, heads, _ := uploadServer(t, 100, okResponse)
	u := newTestUploader(t, srv.URL, HeadChecker{Client: srv.Client()}, newFakeTimer())

	_, err := u.Upload(context.Background(), Request{Data: []byte("x"), Filename: "a.svg"})
	if !errors.Is(err, domain.ErrAttachmentNotReachable) {
		t.Fatalf("expected ErrAttachmentNotReachable, got %v", err)
	}
	if got := heads.Load(); got != DefaultMaxAttempts {
		t.Errorf("expected %d HEAD checks, got %d", DefaultMaxAttempts, got)
	}
}

func TestUpload_ConcurrentAreIndependent(t *testing.T) {
	srv, _, forms := uploadServer(t, 0, okResponse)
	go func() {
		for range forms {
		}
	}()
	u := newTestUploader(t, srv.URL, HeadChecker{Client: srv.Client()}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := u.Upload(context.Background(), Request{Data: []byte("x"), Filename: fmt.Sprintf("%d.svg", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("upload failed: %v", err)
		}
	}
}

func TestHeadChecker_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := HeadChecker{Client: srv.Client()}
	if err := c.Check(context.Background(), srv.URL+"/ok"); err != nil {
		t.Errorf("204 should pass: %v", err)
	}
	if err := c.Check(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("404 should fail")
	}
}

func TestSharedHTTPClient_ReusedPerTimeout(t *testing.T) {
	a := SharedHTTPClient(7 * time.Second)
	if b := SharedHTTPClient(7 * time.Second); a != b {
		t.Error("same timeout should return the same client")
	}
	if c := SharedHTTPClient(9 * time.Second); c == a || c.Timeout != 9*time.Second {
		t.Errorf("different timeout should get its own client, got %v", c.Timeout)
	}
	if d := SharedHTTPClient(0); d.Timeout != 30*time.Second || d != SharedHTTPClient(30*time.Second) {
		t.Error("zero timeout should share the 30s default client")
	}
}
