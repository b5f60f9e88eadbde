package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"hakushi/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	frames chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case err := <-f.fail:
		return nil, err
	case <-f.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(frame string) { f.frames <- []byte(frame) }

func (f *fakeConn) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (domain.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// waitConn blocks until the i-th connection has been dialed.
func (d *fakeDialer) waitConn(t *testing.T, i int) *fakeConn {
	t.Helper()
	var conn *fakeConn
	waitFor(t, "dial", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) > i {
			conn = d.conns[i]
			return true
		}
		return false
	})
	return conn
}

type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
}

func (s *fakeStore) Load(ctx context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *fakeStore) SetUserName(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.UserName = name
	return nil
}

func (s *fakeStore) SetRoom(ctx context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Room = room
	return nil
}

func (s *fakeStore) SetServer(ctx context.Context, wsBase, apiBase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.WSBase, s.settings.APIBase = wsBase, apiBase
	return nil
}

func (s *fakeStore) Close() error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var fixedNow = time.Unix(1700000000, 0)

func newTestController(t *testing.T, room string, d *fakeDialer, store domain.SettingsStore) *Controller {
	t.Helper()
	var n int
	var mu sync.Mutex
	c, err := New(Config{
		WSBase:   "wss://chat.example.com",
		Room:     room,
		UserName: "Alice",
		Dialer:   d,
		Settings: store,
		Now:      func() time.Time { return fixedNow },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return "id-" + strconv.Itoa(n)
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// connectReady connects and delivers a first frame so the session is connected.
func connectReady(t *testing.T, c *Controller, d *fakeDialer) *fakeConn {
	t.Helper()
	d.mu.Lock()
	next := len(d.conns)
	d.mu.Unlock()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := d.waitConn(t, next)
	conn.push(`{"type":"all","messages":[]}`)
	waitFor(t, "connected", func() bool { return c.State().Status == Connected })
	return conn
}
