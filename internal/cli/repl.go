// Package cli implements the interactive terminal chat.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hakushi/internal/bus"
	"hakushi/internal/domain"
	"hakushi/internal/drawing"
	"hakushi/internal/session"
)

const helpText = `Commands:
  /room <id>            switch room (clears history)
  /new                  create and join a new room
  /name <name>          change display name
  /attach <file.svg>    upload an SVG to the next message
  /draw <strokes.json>  export strokes to SVG and attach
  /send                 send pending attachments without text
  /reconnect            reconnect to the current room
  /status               show connection status
  /quit                 exit`

// REPL is the interactive chat loop.
type REPL struct {
	session  *session.Controller
	uploader session.Uploader
	render   *Renderer
	logger   *slog.Logger
	in       io.Reader
	now      func() time.Time
	readFile func(string) ([]byte, error)

	outMu sync.Mutex
	out   io.Writer

	draft *session.Draft
}

// REPLConfig configures a REPL.
type REPLConfig struct {
	Session  *session.Controller
	Uploader session.Uploader // nil disables /attach and /draw
	Renderer *Renderer
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	Now      func() time.Time
	ReadFile func(string) ([]byte, error)
}

func NewREPL(cfg REPLConfig) *REPL {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}
	return &REPL{
		session:  cfg.Session,
		uploader: cfg.Uploader,
		render:   cfg.Renderer,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		now:      cfg.Now,
		readFile: cfg.ReadFile,
		draft:    cfg.Session.NewDraft(),
	}
}

// Run connects, prints room activity and reads commands until /quit, EOF
// or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	events, cancel := r.session.Subscribe(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watch(events)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	room, user := r.session.Identity()
	r.println(r.render.Banner(room, user))
	// Connection errors reach the terminal as session.error events.
	if err := r.session.Connect(ctx); err != nil {
		r.logger.Debug("connect", "err", err)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				r.logger.Info("user requested quit")
				return nil
			}
		}
	}
}

// handle executes one input line and reports whether the REPL should exit.
func (r *REPL) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.submit(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.println(helpText)
	case "/room":
		if arg == "" {
			r.println(r.render.Error(errors.New("usage: /room <id>")))
			return false
		}
		r.draft = r.session.NewDraft()
		if err := r.session.SetRoom(ctx, arg); err != nil {
			r.logger.Debug("set room", "room", arg, "err", err)
		}
	case "/new":
		r.draft = r.session.NewDraft()
		room, err := r.session.NewRoom(ctx)
		if err != nil {
			r.logger.Debug("new room", "room", room, "err", err)
		}
	case "/name":
		if err := r.session.SetUserName(ctx, arg); err != nil {
			r.println(r.render.Error(err))
			return false
		}
		r.println(r.render.Notice("you are now %s", arg))
	case "/send":
		r.submit(ctx, arg)
	case "/attach":
		r.attachFile(ctx, arg)
	case "/draw":
		r.attachDrawing(ctx, arg)
	case "/reconnect":
		r.session.Disconnect()
		if err := r.session.Connect(ctx); err != nil {
			r.logger.Debug("reconnect", "err", err)
		}
	case "/status":
		r.println(r.render.Status(r.session.State()))
		if pending := r.draft.Attachments(); len(pending) > 0 {
			r.println(r.render.Notice("%d attachment(s) pending", len(pending)))
		}
	default:
		r.println(r.render.Error(fmt.Errorf("unknown command %s, try /help", cmd)))
	}
	return false
}

func (r *REPL) submit(ctx context.Context, text string) {
	_, err := r.draft.Submit(ctx, r.session, text)
	// Send failures are recorded on the session and printed by watch.
	if errors.Is(err, session.ErrEmptyDraft) {
		r.println(r.render.Error(err))
	}
}

func (r *REPL) attachFile(ctx context.Context, path string) {
	if path == "" {
		r.println(r.render.Error(errors.New("usage: /attach <file.svg>")))
		return
	}
	data, err := r.readFile(path)
	if err != nil {
		r.println(r.render.Error(err))
		return
	}
	r.attach(ctx, data, filepath.Base(path))
}

func (r *REPL) attachDrawing(ctx context.Context, path string) {
	if path == "" {
		r.println(r.render.Error(errors.New("usage: /draw <strokes.json>")))
		return
	}
	data, err := r.readFile(path)
	if err != nil {
		r.println(r.render.Error(err))
		return
	}
	d, err := drawing.LoadDrawing(data)
	if err != nil {
		r.println(r.render.Error(err))
		return
	}
	r.attach(ctx, []byte(d.SVG()), drawing.Filename(r.now()))
}

func (r *REPL) attach(ctx context.Context, data []byte, filename string) {
	if r.uploader == nil {
		r.println(r.render.Error(errors.New("uploads are not configured")))
		return
	}
	att, err := r.draft.Attach(ctx, r.uploader, data, filename)
	if err != nil {
		r.println(r.render.Error(err))
		return
	}
	r.println(r.render.Notice("attached %s, type a caption or /send", att.Filename))
}

func (r *REPL) watch(events <-chan bus.Event) {
	for e := range events {
		switch e.Type {
		case bus.EventLogAppended:
			if msg, ok := e.Payload.(domain.ChatMessage); ok {
				r.println(r.render.Message(msg))
			}
		case bus.EventStateChanged:
			if change, ok := e.Payload.(session.StateChange); ok {
				r.println(r.render.Notice("%s", change.To))
			}
		case bus.EventSessionError:
			if err, ok := e.Payload.(error); ok {
				r.println(r.render.Error(err))
			}
		case bus.EventUploadStarted:
			if up, ok := e.Payload.(session.UploadEvent); ok {
				r.println(r.render.Notice("uploading %s...", up.Filename))
			}
		case bus.EventLogCleared:
			if room, ok := e.Payload.(string); ok {
				r.println(r.render.Notice("switched to room %s", room))
			}
		}
	}
}

func (r *REPL) println(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = fmt.Fprintln(r.out, s)
}
