package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEchoServer(t *testing.T, greeting string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if greeting != "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(greeting)); err != nil {
				return
			}
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New("quic", Options{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNew_DefaultsToGorilla(t *testing.T) {
	d, err := New("", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*GorillaDialer); !ok {
		t.Errorf("expected *GorillaDialer, got %T", d)
	}
}

func TestDrivers_RoundTrip(t *testing.T) {
	for _, driver := range []string{DriverGorilla, DriverGobwas} {
		t.Run(driver, func(t *testing.T) {
			url := newEchoServer(t, `{"type":"all","messages":[]}`)
			d, err := New(driver, Options{HandshakeTimeout: 5 * time.Second})
			if err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := d.Dial(ctx, url+"/parties/chat/abcd1234")
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			first, err := conn.Receive(ctx)
			if err != nil {
				t.Fatalf("receive greeting: %v", err)
			}
			if string(first) != `{"type":"all","messages":[]}` {
				t.Errorf("unexpected greeting %q", first)
			}

			if err := conn.Send(ctx, []byte(`{"type":"add","id":"m1"}`)); err != nil {
				t.Fatalf("send: %v", err)
			}
			echo, err := conn.Receive(ctx)
			if err != nil {
				t.Fatalf("receive echo: %v", err)
			}
			if string(echo) != `{"type":"add","id":"m1"}` {
				t.Errorf("unexpected echo %q", echo)
			}
		})
	}
}

func TestDrivers_ReceiveHonorsContext(t *testing.T) {
	for _, driver := range []string{DriverGorilla, DriverGobwas} {
		t.Run(driver, func(t *testing.T) {
			url := newEchoServer(t, "")
			d, _ := New(driver, Options{})

			conn, err := d.Dial(context.Background(), url)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = conn.Receive(ctx)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected deadline exceeded, got %v", err)
			}
		})
	}
}

func TestDrivers_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	for _, driver := range []string{DriverGorilla, DriverGobwas} {
		t.Run(driver, func(t *testing.T) {
			d, _ := New(driver, Options{HandshakeTimeout: time.Second})
			if _, err := d.Dial(context.Background(), url); err == nil {
				t.Fatal("expected handshake failure")
			}
		})
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	url := newEchoServer(t, "")
	d, _ := New(DriverGorilla, Options{})
	conn, err := d.Dial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	first := conn.Close()
	if second := conn.Close(); second != first {
		t.Errorf("second Close returned %v, first %v", second, first)
	}
}
