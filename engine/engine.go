// Package engine composes the stream decoder, session state machine, and
// snapshot store behind the four operations a caller invokes: Send, Stop,
// LoadHistory, and ClearRemote. The engine owns error classification; the
// session only ever records a single user-facing string.
//
// The engine initializes from configuration via New, creating all
// collaborators internally. Functional options allow overrides of any
// collaborator.
//
//	e, err := engine.New(&cfg)
//	err = e.Send(ctx, engine.Ask{Message: "hello", Token: token})
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/synaptic-ai/chatstream/observability"
	"github.com/synaptic-ai/chatstream/session"
	"github.com/synaptic-ai/chatstream/sse"
	"github.com/synaptic-ai/chatstream/store"
)

// Ask describes one send invocation.
type Ask struct {
	// Message is the text the user typed.
	Message string
	// URL is the page the conversation is anchored to.
	URL string
	// Context is an optional highlighted passage attached to the message.
	Context string
	// Token is the bearer token for the agent service.
	Token string
}

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithTransport overrides the config-created HTTP transport.
func WithTransport(t Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithStore overrides the config-created snapshot store.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithMachine overrides the config-created state machine.
func WithMachine(m *session.Machine) Option {
	return func(e *Engine) { e.machine = m }
}

// Engine is the session façade for one conversation.
type Engine struct {
	cfg       Config
	transport Transport
	machine   *session.Machine
	store     *store.Store
	observer  observability.Observer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates an Engine from configuration. Collaborators not supplied via
// options are built from their config sections; the machine is wired to the
// final observer so turn events and engine events share one sink.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: *cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.observer == nil {
		e.observer = observability.NewSlogObserver(slog.Default())
	}
	if e.transport == nil {
		e.transport = NewHTTPTransport(cfg)
	}
	if e.store == nil {
		e.store = store.NewFromConfig(&cfg.Store)
	}
	if e.machine == nil {
		e.machine = session.NewMachine(
			session.WithObserver(e.observer),
			session.WithNotesBase(cfg.NotesBaseURL),
		)
	}
	return e, nil
}

// Send runs one conversation turn to its terminal event. The user message is
// appended synchronously before the connection opens; the call then blocks
// until the turn completes, fails, or is cancelled via Stop or the context.
// Cancellation is not an error. A send while a turn is in flight returns
// session.ErrBusy and changes nothing.
func (e *Engine) Send(ctx context.Context, ask Ask) error {
	if _, err := e.machine.Begin(ctx, displayContent(ask.Message, ask.Context)); err != nil {
		return err
	}
	e.autoSave(ctx)

	turnCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	req := AskRequest{
		UserMessage: promptContent(ask.Message, ask.Context),
		URL:         ask.URL,
		Context:     ask.Context,
	}

	body, err := e.transport.Ask(turnCtx, req, ask.Token)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.machine.Cancel(ctx)
			e.autoSave(ctx)
			return nil
		}
		e.machine.Fail(ctx, UserMessage(err))
		e.autoSave(ctx)
		return err
	}
	defer body.Close()

	opts := sse.Options{FlushTrailing: e.cfg.FlushTrailing}
	streamErr := sse.Stream(turnCtx, body, opts,
		func(ev sse.Event) error {
			e.machine.Apply(ctx, ev)
			return nil
		},
		func(perr error) {
			// Per-record parse failures are recovered; the stream goes on.
			e.emit(ctx, EventParseError, observability.LevelWarning, map[string]any{
				"error": perr.Error(),
			})
		})

	switch {
	case streamErr == nil:
		// A stream that ends without a terminal event is a failed turn.
		if e.machine.Status() == session.Sending {
			e.machine.Fail(ctx, session.GenericErrorMessage)
			e.autoSave(ctx)
			return ErrServer
		}
		e.autoSave(ctx)
		return nil

	case errors.Is(streamErr, context.Canceled):
		e.machine.Cancel(ctx)
		e.autoSave(ctx)
		return nil

	default:
		e.machine.Fail(ctx, UserMessage(streamErr))
		e.autoSave(ctx)
		return streamErr
	}
}

// Stop cancels the in-flight turn, if any. Pending content is salvaged into
// an assistant message and no session error is recorded. Never an error for
// the caller.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// LoadHistory replaces the transcript wholesale with the remote history.
// The remote transcript is the source of truth; the local snapshot is only a
// cache. On failure the in-memory transcript is left untouched and the error
// is reported, never blocking the caller.
func (e *Engine) LoadHistory(ctx context.Context, token string) error {
	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	msgs, err := e.transport.History(reqCtx, token)
	if err != nil {
		return err
	}
	if err := e.machine.Replace(msgs); err != nil {
		return err
	}

	e.emit(ctx, EventHistoryLoaded, observability.LevelInfo, map[string]any{
		"messages": len(msgs),
	})
	e.autoSave(ctx)
	return nil
}

// ClearRemote deletes the remote transcript, then empties local state. Local
// state is never cleared optimistically: a failed remote call leaves the
// transcript and snapshot untouched.
func (e *Engine) ClearRemote(ctx context.Context, token string) error {
	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	if err := e.transport.ClearChat(reqCtx, token); err != nil {
		return err
	}
	return e.ClearLocal(ctx)
}

// LoadLocal replaces the transcript with the persisted snapshot, if a valid
// one exists. An expired snapshot yields an empty transcript.
func (e *Engine) LoadLocal(ctx context.Context) error {
	msgs, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	return e.machine.Replace(msgs)
}

// SaveLocal persists the current transcript.
func (e *Engine) SaveLocal(ctx context.Context) error {
	return e.store.Save(ctx, e.machine.Messages())
}

// ClearLocal empties the transcript and removes the snapshot.
func (e *Engine) ClearLocal(ctx context.Context) error {
	if err := e.machine.Clear(); err != nil {
		return err
	}
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.emit(ctx, EventCleared, observability.LevelInfo, nil)
	return nil
}

// Messages returns a defensive copy of the transcript.
func (e *Engine) Messages() []session.Message {
	return e.machine.Messages()
}

// Status returns the streaming state.
func (e *Engine) Status() session.Status {
	return e.machine.Status()
}

// Pending returns the in-flight partial text and status label.
func (e *Engine) Pending() (content, status string) {
	return e.machine.Pending()
}

// Err returns the user-facing error from the last turn, or "".
func (e *Engine) Err() string {
	return e.machine.Err()
}

// autoSave persists the transcript when configured to save after every
// accepted message. Save failures are observed, not fatal: losing the cache
// must not break the turn.
func (e *Engine) autoSave(ctx context.Context) {
	if !e.cfg.AutoSave {
		return
	}
	if err := e.store.Save(ctx, e.machine.Messages()); err != nil {
		e.emit(ctx, EventSaveFailed, observability.LevelWarning, map[string]any{
			"error": err.Error(),
		})
	}
}

func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.RequestTimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(e.cfg.RequestTimeoutSeconds)*time.Second)
}

func (e *Engine) emit(ctx context.Context, t observability.EventType, lvl observability.Level, data map[string]any) {
	e.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     lvl,
		Timestamp: time.Now(),
		Source:    "engine.Engine",
		Data:      data,
	})
}
