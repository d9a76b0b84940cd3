package engine_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/synaptic-ai/chatstream/engine"
	"github.com/synaptic-ai/chatstream/observability"
	"github.com/synaptic-ai/chatstream/session"
	"github.com/synaptic-ai/chatstream/store"
)

// --- Test helpers ---

// scriptedBody serves queued chunks and then blocks until the request
// context is cancelled or the channel is closed, like a live streaming
// response body.
type scriptedBody struct {
	ctx    context.Context
	chunks chan []byte
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	select {
	case chunk, ok := <-b.chunks:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
}

func (b *scriptedBody) Close() error { return nil }

// fakeTransport implements engine.Transport with scripted behavior.
type fakeTransport struct {
	mu      sync.Mutex
	asks    []engine.AskRequest
	tokens  []string
	chunks  chan []byte
	askErr  error
	history []session.Message
	histErr error
	clrErr  error
	cleared int
}

func (f *fakeTransport) Ask(ctx context.Context, req engine.AskRequest, token string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.asks = append(f.asks, req)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if f.askErr != nil {
		return nil, f.askErr
	}
	return &scriptedBody{ctx: ctx, chunks: f.chunks}, nil
}

func (f *fakeTransport) History(ctx context.Context, token string) ([]session.Message, error) {
	return f.history, f.histErr
}

func (f *fakeTransport) ClearChat(ctx context.Context, token string) error {
	if f.clrErr != nil {
		return f.clrErr
	}
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastAsk(t *testing.T) engine.AskRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.asks) == 0 {
		t.Fatal("no ask was issued")
	}
	return f.asks[len(f.asks)-1]
}

func newTestEngine(t *testing.T, ft *fakeTransport, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	opts = append([]engine.Option{
		engine.WithTransport(ft),
		engine.WithObserver(observability.NoOpObserver{}),
	}, opts...)

	e, err := engine.New(&cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func queue(ft *fakeTransport, lines ...string) {
	for _, line := range lines {
		ft.chunks <- []byte(line + "\n")
	}
	close(ft.chunks)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Tests ---

func TestEngine_SendHappyPath(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	queue(ft,
		`data: {"event":"stream","content":"Hi"}`,
		`data: {"event":"complete","content":"Hi there!"}`,
	)

	err := e.Send(context.Background(), engine.Ask{Message: "hello", Token: "tok"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != session.RoleAssistant || msgs[1].Content != "Hi there!" {
		t.Errorf("assistant message = %+v, want the complete event's content", msgs[1])
	}
	if len(msgs[1].NoteLinks) != 0 || len(msgs[1].WebLinks) != 0 {
		t.Errorf("references = %v/%v, want empty", msgs[1].NoteLinks, msgs[1].WebLinks)
	}
	if e.Err() != "" {
		t.Errorf("Err() = %q, want unset", e.Err())
	}
	if got := ft.tokens[0]; got != "tok" {
		t.Errorf("token = %q, want %q", got, "tok")
	}
}

func TestEngine_ContextDualRepresentation(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"complete","content":"ok"}`)

	err := e.Send(context.Background(), engine.Ask{
		Message: "what does this mean?",
		Context: "some highlighted paragraph",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// The transcript shows a short marker; the wire carries the template.
	display := e.Messages()[0].Content
	if display != "(context attached)\nwhat does this mean?" {
		t.Errorf("display content = %q", display)
	}

	sent := ft.lastAsk(t)
	if !strings.Contains(sent.UserMessage, "some highlighted paragraph") ||
		!strings.Contains(sent.UserMessage, "what does this mean?") {
		t.Errorf("wire prompt = %q, want templated context and query", sent.UserMessage)
	}
	if sent.UserMessage == display {
		t.Error("wire prompt and display content must not collapse into one representation")
	}
	if sent.Context != "some highlighted paragraph" {
		t.Errorf("wire context = %q", sent.Context)
	}
}

func TestEngine_SendWithoutContextUsesPlainMessage(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"complete","content":"ok"}`)

	if err := e.Send(context.Background(), engine.Ask{Message: "hello"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent := ft.lastAsk(t); sent.UserMessage != "hello" {
		t.Errorf("wire prompt = %q, want %q", sent.UserMessage, "hello")
	}
}

func TestEngine_SecondSendRejectedWhileStreaming(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	ft.chunks <- []byte(`data: {"event":"stream","content":"busy"}` + "\n")

	done := make(chan error, 1)
	go func() { done <- e.Send(context.Background(), engine.Ask{Message: "first"}) }()

	waitFor(t, func() bool {
		pending, _ := e.Pending()
		return pending == "busy"
	}, "first turn never started streaming")

	err := e.Send(context.Background(), engine.Ask{Message: "second"})
	if !errors.Is(err, session.ErrBusy) {
		t.Fatalf("second Send() error = %v, want ErrBusy", err)
	}

	if got := len(e.Messages()); got != 1 {
		t.Errorf("transcript has %d messages, want 1 (second send was a no-op)", got)
	}
	if pending, _ := e.Pending(); pending != "busy" {
		t.Errorf("pending = %q, want unchanged", pending)
	}

	close(ft.chunks)
	<-done
}

func TestEngine_StopSalvagesPartialAnswer(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	ft.chunks <- []byte(`data: {"event":"stream","content":"partial answer"}` + "\n")

	done := make(chan error, 1)
	go func() { done <- e.Send(context.Background(), engine.Ask{Message: "q"}) }()

	waitFor(t, func() bool {
		pending, _ := e.Pending()
		return pending == "partial answer"
	}, "delta never arrived")

	e.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Send() after Stop returned %v, want nil (cancellation is not an error)", err)
	}

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[1].Role != session.RoleAssistant || msgs[1].Content != "partial answer" {
		t.Errorf("salvaged message = %+v", msgs[1])
	}
	if e.Err() != "" {
		t.Errorf("Err() = %q, want unset after user cancellation", e.Err())
	}
	if e.Status() != session.Idle {
		t.Errorf("Status() = %v, want Idle", e.Status())
	}
}

func TestEngine_ErrorEventSetsGenericError(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"error","content":"agent crashed: stack trace..."}`)

	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v (remote error events are session state, not call failures)", err)
	}

	if got := len(e.Messages()); got != 1 {
		t.Errorf("transcript has %d messages, want 1 (nothing to salvage)", got)
	}
	if e.Err() != session.GenericErrorMessage {
		t.Errorf("Err() = %q, want generic message", e.Err())
	}
}

func TestEngine_TransportFailureClassified(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 1), askErr: engine.ErrNotAuthenticated}
	e := newTestEngine(t, ft)

	err := e.Send(context.Background(), engine.Ask{Message: "q"})
	if !errors.Is(err, engine.ErrNotAuthenticated) {
		t.Fatalf("Send() error = %v, want ErrNotAuthenticated", err)
	}
	if e.Err() != engine.AuthErrorMessage {
		t.Errorf("Err() = %q, want auth message", e.Err())
	}
	if e.Status() != session.Idle {
		t.Errorf("Status() = %v, want Idle after failure", e.Status())
	}
}

func TestEngine_StreamEndWithoutTerminalFails(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"stream","content":"half an answ"}`)

	err := e.Send(context.Background(), engine.Ask{Message: "q"})
	if !errors.Is(err, engine.ErrServer) {
		t.Fatalf("Send() error = %v, want ErrServer", err)
	}

	msgs := e.Messages()
	if len(msgs) != 2 || msgs[1].Content != "half an answ" {
		t.Errorf("transcript = %+v, want salvaged partial", msgs)
	}
	if e.Err() != session.GenericErrorMessage {
		t.Errorf("Err() = %q, want generic message", e.Err())
	}
}

func TestEngine_LoadHistoryReplacesTranscript(t *testing.T) {
	remote := []session.Message{
		session.NewMessage(session.RoleUser, "earlier question", time.Now()),
		session.NewMessage(session.RoleAssistant, "earlier answer", time.Now()),
	}
	ft := &fakeTransport{chunks: make(chan []byte, 8), history: remote}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"complete","content":"local answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "local question"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := e.LoadHistory(context.Background(), "tok"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}

	msgs := e.Messages()
	if len(msgs) != 2 || msgs[0].Content != "earlier question" {
		t.Errorf("transcript = %+v, want the remote history wholesale", msgs)
	}
}

func TestEngine_LoadHistoryFailureLeavesTranscript(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8), histErr: engine.ErrServer}
	e := newTestEngine(t, ft)

	queue(ft, `data: {"event":"complete","content":"answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := e.LoadHistory(context.Background(), "tok"); !errors.Is(err, engine.ErrServer) {
		t.Fatalf("LoadHistory() error = %v, want ErrServer", err)
	}
	if got := len(e.Messages()); got != 2 {
		t.Errorf("transcript has %d messages, want 2 (untouched on failure)", got)
	}
}

func TestEngine_ClearRemoteFailureLeavesLocalState(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8), clrErr: engine.ErrServer}
	kv := store.NewMemoryKV()
	e := newTestEngine(t, ft, engine.WithStore(store.New(kv)))

	queue(ft, `data: {"event":"complete","content":"answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := e.SaveLocal(context.Background()); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	if err := e.ClearRemote(context.Background(), "tok"); !errors.Is(err, engine.ErrServer) {
		t.Fatalf("ClearRemote() error = %v, want ErrServer", err)
	}

	// Never cleared optimistically.
	if got := len(e.Messages()); got != 2 {
		t.Errorf("transcript has %d messages, want 2", got)
	}
	if _, ok, _ := kv.Get(context.Background(), store.DefaultKey); !ok {
		t.Error("snapshot was removed despite the remote failure")
	}
}

func TestEngine_ClearRemoteSuccessClearsLocalState(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	kv := store.NewMemoryKV()
	e := newTestEngine(t, ft, engine.WithStore(store.New(kv)))

	queue(ft, `data: {"event":"complete","content":"answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := e.SaveLocal(context.Background()); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	if err := e.ClearRemote(context.Background(), "tok"); err != nil {
		t.Fatalf("ClearRemote() error = %v", err)
	}
	if got := len(e.Messages()); got != 0 {
		t.Errorf("transcript has %d messages after clear, want 0", got)
	}
	if _, ok, _ := kv.Get(context.Background(), store.DefaultKey); ok {
		t.Error("snapshot still present after successful remote clear")
	}
}

func TestEngine_SaveAndLoadLocalRoundTrip(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	kv := store.NewMemoryKV()
	e := newTestEngine(t, ft, engine.WithStore(store.New(kv)))

	queue(ft, `data: {"event":"complete","content":"answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := e.SaveLocal(context.Background()); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	// A second engine over the same KV restores the transcript.
	cfg := engine.DefaultConfig()
	restored, err := engine.New(&cfg,
		engine.WithTransport(ft),
		engine.WithObserver(observability.NoOpObserver{}),
		engine.WithStore(store.New(kv)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := restored.LoadLocal(context.Background()); err != nil {
		t.Fatalf("LoadLocal() error = %v", err)
	}
	if got := len(restored.Messages()); got != 2 {
		t.Errorf("restored transcript has %d messages, want 2", got)
	}
}

func TestEngine_AutoSavePersistsEveryAcceptedMessage(t *testing.T) {
	ft := &fakeTransport{chunks: make(chan []byte, 8)}
	kv := store.NewMemoryKV()

	cfg := engine.DefaultConfig()
	cfg.AutoSave = true
	e, err := engine.New(&cfg,
		engine.WithTransport(ft),
		engine.WithObserver(observability.NoOpObserver{}),
		engine.WithStore(store.New(kv)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	queue(ft, `data: {"event":"complete","content":"answer"}`)
	if err := e.Send(context.Background(), engine.Ask{Message: "q"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// No explicit SaveLocal; the snapshot is already there.
	loaded, err := store.New(kv).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("snapshot has %d messages, want 2 without an explicit save", len(loaded))
	}
}
