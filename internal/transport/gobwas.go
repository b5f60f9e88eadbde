package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"hakushi/internal/domain"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// GobwasDialer dials room connections with gobwas/ws. Selected with
// server.transport = "gobwas".
type GobwasDialer struct {
	dialer ws.Dialer
	logger *slog.Logger
}

// NewGobwasDialer creates a GobwasDialer.
func NewGobwasDialer(opts Options) *GobwasDialer {
	return &GobwasDialer{
		dialer: ws.Dialer{Timeout: opts.HandshakeTimeout},
		logger: opts.Logger,
	}
}

// Dial implements domain.Dialer.
func (d *GobwasDialer) Dial(ctx context.Context, url string) (domain.Conn, error) {
	conn, br, _, err := d.dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	d.logger.Debug("websocket connected", "url", url, "driver", DriverGobwas)
	return newGobwasConn(conn, br), nil
}

type gobwasConn struct {
	conn net.Conn
	// r reads through any bytes buffered during the handshake.
	r io.Reader
	w *lockedWriter

	closeOnce sync.Once
	closeErr  error
}

func newGobwasConn(conn net.Conn, br *bufio.Reader) *gobwasConn {
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return &gobwasConn{conn: conn, r: r, w: &lockedWriter{conn: conn}}
}

// Receive blocks for the next data frame. Pings are answered by wsutil
// through the locked writer.
func (c *gobwasConn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	rw := struct {
		io.Reader
		io.Writer
	}{c.r, c.w}
	data, _, err := wsutil.ReadServerData(rw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

func (c *gobwasConn) Send(ctx context.Context, data []byte) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientText(c.conn, data)
}

func (c *gobwasConn) Close() error {
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusGoingAway, "")
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(c.w, ws.OpClose, body)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// lockedWriter serializes control-frame replies written from the read path
// with data frames written by Send.
type lockedWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(p)
}
