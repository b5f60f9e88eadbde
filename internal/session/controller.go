// Package session owns the live connection to a chat room: it dials the
// transport, runs the receive loop, reconciles inbound frames into the
// message log and writes outbound messages.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hakushi/internal/bus"
	"hakushi/internal/chatlog"
	"hakushi/internal/domain"
	"hakushi/internal/metrics"
	"hakushi/internal/wire"

	"github.com/google/uuid"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("session closed")

// Status is the connection lifecycle state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is the observable session state.
type State struct {
	Status    Status
	LastError error
	Room      string
	UserName  string
}

// StateChange is the payload of bus.EventStateChanged.
type StateChange struct {
	From Status
	To   Status
}

// SendError records an outbound write that did not complete.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s: %v", e.MessageID, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{domain.ErrSendFailed, e.Err}
}

// Config configures a Controller.
type Config struct {
	WSBase   string
	Room     string
	UserName string
	Dialer   domain.Dialer
	Settings domain.SettingsStore // optional; room and name changes are persisted when set
	Bus      *bus.EventBus        // optional; a private bus is created when nil
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
}

// Controller drives a single room session.
type Controller struct {
	dialer domain.Dialer
	store  domain.SettingsStore
	events *bus.EventBus
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	disp *dispatcher
	// notify delivers bus events in order, off the dispatcher goroutine.
	notify *dispatcher
	// Owned by the dispatcher goroutine.
	state State
	log   *chatlog.Log

	// gen identifies the current receive loop; stale loops compare and bail.
	gen atomic.Uint64

	mu       sync.Mutex
	conn     domain.Conn
	cancel   context.CancelFunc
	wsBase   string
	room     string
	userName string
	closed   bool

	wg sync.WaitGroup
}

// New creates a disconnected Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewEventBus(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	c := &Controller{
		dialer:   cfg.Dialer,
		store:    cfg.Settings,
		events:   cfg.Bus,
		now:      cfg.Now,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
		disp:     newDispatcher(cfg.Logger),
		notify:   newDispatcher(cfg.Logger),
		log:      chatlog.New(),
		wsBase:   cfg.WSBase,
		room:     cfg.Room,
		userName: cfg.UserName,
	}
	c.state = State{Status: Disconnected, Room: cfg.Room, UserName: cfg.UserName}
	metrics.ConnectionState.Set(int64(Disconnected))
	return c, nil
}

// Bus returns the event bus session events are published on. Handlers run
// on a dedicated delivery goroutine in emission order, so they may call
// back into the Controller. A slow handler delays later events only.
func (c *Controller) Bus() *bus.EventBus { return c.events }

// Subscribe returns a channel of every session event and its cancel func.
// Events are dropped when the channel is full.
func (c *Controller) Subscribe(buffer int) (<-chan bus.Event, func()) {
	return c.events.Subscribe("*", buffer)
}

// Identity returns the current room and user name.
func (c *Controller) Identity() (room, userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.userName
}

// State returns a copy of the session state.
func (c *Controller) State() State {
	var st State
	c.disp.call(func() { st = c.state })
	return st
}

// Messages returns the log contents in arrival order.
func (c *Controller) Messages() []domain.ChatMessage {
	var msgs []domain.ChatMessage
	c.disp.call(func() { msgs = c.log.Snapshot() })
	return msgs
}

// Snapshot returns state and log read at the same instant.
func (c *Controller) Snapshot() (State, []domain.ChatMessage) {
	var st State
	var msgs []domain.ChatMessage
	c.disp.call(func() {
		st = c.state
		msgs = c.log.Snapshot()
	})
	return st, msgs
}

// Do runs fn on the session goroutine. fn must not retain log or call back
// into the Controller.
func (c *Controller) Do(fn func(st State, log *chatlog.Log)) {
	c.disp.call(func() { fn(c.state, c.log) })
}

// Connect opens the room connection and starts the receive loop. It is a
// no-op while a session is already active. Address errors are returned and
// recorded as the last error; dial and receive errors surface through State.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}

	addr, err := BuildURL(c.wsBase, c.room)
	if err != nil {
		c.logger.Warn("cannot connect", "room", c.room, "error", err)
		c.disp.post(func() { c.setError(err) })
		return err
	}

	gen := c.gen.Add(1)
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.disp.post(func() {
		if c.gen.Load() == gen {
			c.setStatus(Connecting)
		}
	})

	c.logger.Info("connecting", "room", c.room, "url", addr)
	c.wg.Add(1)
	go c.run(loopCtx, gen, addr)
	return nil
}

func (c *Controller) run(ctx context.Context, gen uint64, addr string) {
	defer c.wg.Done()

	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		c.finish(gen, nil, err)
		return
	}

	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			c.finish(gen, conn, err)
			return
		}
		metrics.FramesReceived.Inc()
		c.disp.post(func() { c.handleFrame(gen, data) })
	}
}

// finish tears down a loop that ended on its own. Loops superseded by
// Disconnect or a newer Connect record nothing.
func (c *Controller) finish(gen uint64, conn domain.Conn, err error) {
	c.mu.Lock()
	current := c.gen.Load() == gen
	if current {
		c.conn = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !current {
		return
	}

	metrics.Disconnects.Inc()
	if !errors.Is(err, domain.ErrTransportReceive) {
		err = fmt.Errorf("%w: %w", domain.ErrTransportReceive, err)
	}
	c.logger.Warn("room connection lost", "error", err)
	c.disp.post(func() {
		if c.gen.Load() != gen {
			return
		}
		c.setStatus(Disconnected)
		c.setError(err)
	})
}

func (c *Controller) handleFrame(gen uint64, data []byte) {
	if c.gen.Load() != gen {
		return
	}
	if c.state.Status == Connecting {
		c.setStatus(Connected)
		c.setError(nil)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		c.logger.Debug("skipping empty frame")
		return
	}

	env, err := wire.Decode(data)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	c.reconcile(wire.Classify(env))
}

// reconcile merges a classified frame into the log. An update for a message
// already in the log is ignored; edits are not applied.
func (c *Controller) reconcile(frame wire.Frame) {
	switch f := frame.(type) {
	case wire.AllFrame:
		for _, entry := range f.Entries {
			c.merge(entry)
		}
		if f.Skipped > 0 {
			c.logger.Debug("history entries without id or user skipped", "count", f.Skipped)
		}
	case wire.AddFrame:
		c.merge(f)
	case wire.ControlFrame:
		metrics.ControlFrames.Inc()
		c.logger.Debug("control frame", "type", f.Type)
	}
}

func (c *Controller) merge(f wire.AddFrame) {
	if f.Kind == wire.KindUpdate && c.log.Contains(f.ID()) {
		metrics.UpdatesIgnored.Inc()
		c.logger.Debug("update for known message ignored", "id", f.ID())
		return
	}
	msg := f.Message(c.now())
	if !c.log.Merge(msg) {
		return
	}
	metrics.MessagesMerged.Inc()
	c.emit(bus.EventLogAppended, msg)
}

// Disconnect stops the receive loop and closes the connection. The last
// error is kept. Safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.gen.Add(1)
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close connection", "error", err)
		}
	}
	c.disp.call(func() { c.setStatus(Disconnected) })
}

// Send writes a user message to the room. An empty messageID is replaced
// with a fresh UUID. The message is not added to the local log; it arrives
// with the server echo.
func (c *Controller) Send(ctx context.Context, content string, attachments []domain.Attachment, messageID string) (domain.ChatMessage, error) {
	c.mu.Lock()
	conn, author := c.conn, c.userName
	c.mu.Unlock()

	if messageID == "" {
		messageID = c.newID()
	}
	msg := domain.ChatMessage{
		ID:          messageID,
		Content:     content,
		Author:      author,
		Role:        domain.RoleUser,
		Timestamp:   domain.Timestamp(c.now()),
		Attachments: attachments,
	}

	if conn == nil {
		return msg, c.sendFailed(&SendError{MessageID: messageID, Err: domain.ErrNotConnected})
	}
	data, err := wire.Encode(wire.FromMessage(wire.KindAdd, msg))
	if err != nil {
		return msg, c.sendFailed(&SendError{MessageID: messageID, Err: err})
	}
	if err := conn.Send(ctx, data); err != nil {
		return msg, c.sendFailed(&SendError{MessageID: messageID, Err: err})
	}
	metrics.MessagesSent.Inc()
	c.logger.Debug("message sent", "id", messageID, "attachments", len(attachments))
	return msg, nil
}

func (c *Controller) sendFailed(err error) error {
	metrics.SendErrors.Inc()
	c.logger.Warn("send failed", "error", err)
	c.disp.post(func() { c.setError(err) })
	return err
}

// SetRoom switches to another room: the log and last error are cleared, the
// room is persisted and a fresh connection is opened.
func (c *Controller) SetRoom(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	c.Disconnect()

	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	c.disp.call(func() {
		c.log.Clear()
		c.state.Room = room
		c.setError(nil)
		c.emit(bus.EventLogCleared, room)
	})

	if ValidateRoom(room) == nil && c.store != nil {
		if err := c.store.SetRoom(ctx, room); err != nil {
			c.logger.Warn("persist room", "room", room, "error", err)
		}
	}
	return c.Connect(ctx)
}

// NewRoom switches to a freshly generated room and returns its ID.
func (c *Controller) NewRoom(ctx context.Context) (string, error) {
	room := domain.ShortRoomID(c.newID())
	return room, c.SetRoom(ctx, room)
}

// SetUserName changes the author used for later sends.
func (c *Controller) SetUserName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("user name is empty")
	}
	c.mu.Lock()
	c.userName = name
	c.mu.Unlock()
	c.disp.call(func() { c.state.UserName = name })

	if c.store != nil {
		if err := c.store.SetUserName(ctx, name); err != nil {
			return fmt.Errorf("persist user name: %w", err)
		}
	}
	return nil
}

// Close disconnects, waits for the receive loop and stops the dispatcher.
// Events already emitted are still delivered after Close returns.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.wg.Wait()
	c.disp.close()
	c.notify.shutdown()
	return nil
}

func (c *Controller) setStatus(s Status) {
	if c.state.Status == s {
		return
	}
	change := StateChange{From: c.state.Status, To: s}
	c.state.Status = s
	metrics.ConnectionState.Set(int64(s))
	c.logger.Info("session state", "from", change.From, "to", change.To, "room", c.state.Room)
	c.emit(bus.EventStateChanged, change)
}

func (c *Controller) setError(err error) {
	if c.state.LastError == nil && err == nil {
		return
	}
	c.state.LastError = err
	if err != nil {
		c.emit(bus.EventSessionError, err)
	}
}

// emit queues an event for delivery. Emitting never runs handlers on the
// caller's goroutine while the controller is open.
func (c *Controller) emit(eventType string, payload any) {
	ev := bus.Event{
		Type:      eventType,
		Source:    "session",
		Payload:   payload,
		Timestamp: c.now(),
	}
	if !c.notify.post(func() { c.events.Emit(ev) }) {
		c.events.Emit(ev)
	}
}
