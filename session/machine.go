package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/synaptic-ai/chatstream/observability"
	"github.com/synaptic-ai/chatstream/sse"
)

// Status is the streaming state of the session.
type Status int

const (
	Idle Status = iota
	Sending
)

func (s Status) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Machine applies decoded stream events to the transcript of a single
// conversation. It tracks the in-flight accumulators (partial text, status
// label, reference lists) during a turn and folds them into exactly one
// assistant message when the turn ends, via one of complete, error-with-
// salvage, or stop-with-salvage.
//
// All methods are safe for concurrent use, though the engine drives Apply
// from a single goroutine; events reach the observer in parse order.
type Machine struct {
	mu            sync.RWMutex
	messages      []Message
	status        Status
	pending       strings.Builder
	pendingStatus string
	noteLinks     []Reference
	webLinks      []Reference
	lastErr       string

	notesBase string
	observer  observability.Observer
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver sets the observer receiving turn events. Defaults to NoOp.
func WithObserver(o observability.Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithNotesBase sets the base URL note citations are resolved against. The
// wire carries bare note identifiers; the stored reference URL is
// <base>/notes/<id>.
func WithNotesBase(base string) Option {
	return func(m *Machine) { m.notesBase = strings.TrimRight(base, "/") }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates an idle Machine with an empty transcript.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		observer: observability.NoOpObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a turn: it appends a user message with the given display
// content, clears any prior session error, and transitions to Sending.
// Returns ErrBusy without touching any state while a turn is in flight.
func (m *Machine) Begin(ctx context.Context, display string) (Message, error) {
	m.mu.Lock()
	if m.status == Sending {
		m.mu.Unlock()
		m.emit(ctx, EventTurnRejected, observability.LevelWarning, map[string]any{
			"reason": "turn already in flight",
		})
		return Message{}, ErrBusy
	}

	msg := NewMessage(RoleUser, display, m.now())
	m.messages = append(m.messages, msg)
	m.lastErr = ""
	m.status = Sending
	m.pending.Reset()
	m.pendingStatus = ""
	m.noteLinks = nil
	m.webLinks = nil
	m.mu.Unlock()

	m.emit(ctx, EventTurnStart, observability.LevelInfo, map[string]any{
		"message_id": msg.ID,
		"length":     len(display),
	})
	return msg, nil
}

// Apply folds one decoded stream event into the session. Terminal events
// (complete, error) end the turn and transition back to Idle; all others
// only mutate the pending accumulators.
func (m *Machine) Apply(ctx context.Context, ev sse.Event) {
	switch ev.Event {
	case sse.EventStream:
		m.mu.Lock()
		m.pending.WriteString(ev.Content)
		m.mu.Unlock()
		m.emit(ctx, EventTurnDelta, observability.LevelVerbose, map[string]any{
			"length": len(ev.Content),
		})

	case sse.EventMessage:
		m.mu.Lock()
		m.pendingStatus = ev.Content
		m.mu.Unlock()
		m.emit(ctx, EventTurnStatus, observability.LevelVerbose, map[string]any{
			"status": ev.Content,
		})

	case sse.EventNotesLink:
		ref := m.noteReference(ev)
		m.mu.Lock()
		m.noteLinks = append(m.noteLinks, ref)
		m.mu.Unlock()
		m.emit(ctx, EventTurnReference, observability.LevelVerbose, map[string]any{
			"kind": string(RefNote),
			"url":  ref.URL,
		})

	case sse.EventWebLink:
		ref := webReference(ev)
		m.mu.Lock()
		m.webLinks = append(m.webLinks, ref)
		m.mu.Unlock()
		m.emit(ctx, EventTurnReference, observability.LevelVerbose, map[string]any{
			"kind": string(RefWeb),
			"url":  ref.URL,
		})

	case sse.EventComplete:
		m.finalize(ev.Content)
		m.emit(ctx, EventTurnComplete, observability.LevelInfo, map[string]any{
			"length": len(ev.Content),
		})

	case sse.EventError:
		salvaged := m.fail(GenericErrorMessage)
		m.emit(ctx, EventTurnError, observability.LevelWarning, map[string]any{
			"remote_error": ev.Content,
			"salvaged":     salvaged,
		})

	case sse.EventTool:
		// Reserved upstream; no transcript effect.
		m.emit(ctx, EventTurnTool, observability.LevelVerbose, map[string]any{
			"length": len(ev.Content),
		})

	default:
		m.emit(ctx, EventTurnUnknown, observability.LevelWarning, map[string]any{
			"event": string(ev.Event),
		})
	}
}

// Fail ends the turn abnormally with the given user-facing error message,
// salvaging any pending content. Used for transport-level failures, which
// never carry a stream event.
func (m *Machine) Fail(ctx context.Context, userMsg string) {
	salvaged := m.fail(userMsg)
	m.emit(ctx, EventTurnError, observability.LevelWarning, map[string]any{
		"error":    userMsg,
		"salvaged": salvaged,
	})
}

// Cancel ends the turn on explicit user cancellation: pending content is
// salvaged exactly as on error, but no session error is recorded.
// Cancellation is a normal terminal transition, never a failure.
func (m *Machine) Cancel(ctx context.Context) {
	m.mu.Lock()
	salvaged := m.salvageLocked()
	m.resetTurnLocked()
	m.mu.Unlock()

	m.emit(ctx, EventTurnCancelled, observability.LevelInfo, map[string]any{
		"salvaged": salvaged,
	})
}

// finalize appends the assistant message for a completed turn. The complete
// event's content is authoritative: it replaces whatever accumulated in
// pending, which is only a progress indicator.
func (m *Machine) finalize(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := NewMessage(RoleAssistant, content, m.now())
	msg.NoteLinks = append([]Reference(nil), m.noteLinks...)
	msg.WebLinks = append([]Reference(nil), m.webLinks...)
	m.messages = append(m.messages, msg)
	m.resetTurnLocked()
}

func (m *Machine) fail(userMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	salvaged := m.salvageLocked()
	m.lastErr = userMsg
	m.resetTurnLocked()
	return salvaged
}

// salvageLocked preserves non-blank pending content as an assistant message.
// Salvaged messages carry no references; the turn did not finish, so the
// accumulated links were never confirmed against a final answer.
func (m *Machine) salvageLocked() bool {
	if strings.TrimSpace(m.pending.String()) == "" {
		return false
	}
	m.messages = append(m.messages, NewMessage(RoleAssistant, m.pending.String(), m.now()))
	return true
}

func (m *Machine) resetTurnLocked() {
	m.pending.Reset()
	m.pendingStatus = ""
	m.noteLinks = nil
	m.webLinks = nil
	m.status = Idle
}

func (m *Machine) noteReference(ev sse.Event) Reference {
	ref := Reference{Kind: RefNote}
	if ev.Links != nil {
		ref.URL = ev.Links.URL
		ref.Content = ev.Links.Content
	} else {
		ref.URL = ev.Content
	}
	if m.notesBase != "" && ref.URL != "" {
		ref.URL = m.notesBase + "/notes/" + ref.URL
	}
	return ref
}

func webReference(ev sse.Event) Reference {
	ref := Reference{Kind: RefWeb}
	if ev.Links != nil {
		ref.URL = ev.Links.URL
		ref.Content = ev.Links.Content
	} else {
		ref.URL = ev.Content
	}
	return ref
}

// Messages returns a defensive copy of the transcript.
func (m *Machine) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]Message, len(m.messages))
	for i, msg := range m.messages {
		copied[i] = msg
		copied[i].NoteLinks = append([]Reference(nil), msg.NoteLinks...)
		copied[i].WebLinks = append([]Reference(nil), msg.WebLinks...)
	}
	return copied
}

// Replace swaps the transcript wholesale, as on a remote history load.
// Rejected while a turn is in flight.
func (m *Machine) Replace(msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == Sending {
		return ErrBusy
	}
	m.messages = append([]Message(nil), msgs...)
	return nil
}

// Clear empties the transcript and any session error. Rejected while a turn
// is in flight.
func (m *Machine) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == Sending {
		return ErrBusy
	}
	m.messages = nil
	m.lastErr = ""
	return nil
}

// Status returns the streaming state.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Pending returns the accumulated partial text and the current status label
// for the in-flight turn.
func (m *Machine) Pending() (content, status string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending.String(), m.pendingStatus
}

// Err returns the user-facing error from the last turn, or "" when the last
// turn ended normally.
func (m *Machine) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Machine) emit(ctx context.Context, t observability.EventType, lvl observability.Level, data map[string]any) {
	m.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     lvl,
		Timestamp: time.Now(),
		Source:    "session.Machine",
		Data:      data,
	})
}
