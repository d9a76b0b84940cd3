package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/synaptic-ai/chatstream/session"
	"github.com/synaptic-ai/chatstream/sse"
)

// AskRequest is the outbound payload for one turn.
type AskRequest struct {
	UserMessage string `json:"userMessage"`
	URL         string `json:"url"`
	Context     string `json:"context,omitempty"`
}

// Transport is the engine's HTTP collaborator. Implementations classify
// failures into the engine sentinel errors; Ask returns the raw event stream
// for the turn.
type Transport interface {
	// Ask opens a turn and returns the chunked response body. The caller
	// owns the body and must close it.
	Ask(ctx context.Context, req AskRequest, token string) (io.ReadCloser, error)
	// History fetches the remote transcript.
	History(ctx context.Context, token string) ([]session.Message, error)
	// ClearChat deletes the remote transcript.
	ClearChat(ctx context.Context, token string) error
}

// HTTPTransport talks to the agent endpoints over plain HTTP. No client
// timeout is set: the Ask body streams for the duration of a turn and is
// bounded by the request context instead.
type HTTPTransport struct {
	baseURL     string
	askPath     string
	historyPath string
	clearPath   string
	client      *http.Client
}

// NewHTTPTransport creates a transport from configuration.
func NewHTTPTransport(cfg *Config) *HTTPTransport {
	return &HTTPTransport{
		baseURL:     cfg.BaseURL,
		askPath:     cfg.AskPath,
		historyPath: cfg.HistoryPath,
		clearPath:   cfg.ClearPath,
		client:      &http.Client{},
	}
}

func (t *HTTPTransport) Ask(ctx context.Context, req AskRequest, token string) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.askPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, sse.ErrNoBody
	}
	return resp.Body, nil
}

// wireTimestamp accepts both forms the history endpoint has shipped:
// epoch-milliseconds and ISO-8601 strings.
type wireTimestamp time.Time

func (w *wireTimestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		*w = wireTimestamp(ts)
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*w = wireTimestamp(time.UnixMilli(ms))
	return nil
}

// wireMessage is the history endpoint's message shape: note links are
// {url, content} objects, web links are bare URL strings.
type wireMessage struct {
	ID        string        `json:"id"`
	Role      session.Role  `json:"role"`
	Content   string        `json:"content"`
	Timestamp wireTimestamp `json:"timestamp"`
	NoteLinks []struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"noteLinks"`
	WebLinks []string `json:"webLinks"`
}

func (wm wireMessage) message() session.Message {
	msg := session.Message{
		ID:        wm.ID,
		Role:      wm.Role,
		Content:   wm.Content,
		Timestamp: time.Time(wm.Timestamp),
	}
	for _, nl := range wm.NoteLinks {
		msg.NoteLinks = append(msg.NoteLinks, session.Reference{
			Kind:    session.RefNote,
			URL:     nl.URL,
			Content: nl.Content,
		})
	}
	for _, wl := range wm.WebLinks {
		msg.WebLinks = append(msg.WebLinks, session.Reference{
			Kind: session.RefWeb,
			URL:  wl,
		})
	}
	return msg
}

func (t *HTTPTransport) History(ctx context.Context, token string) ([]session.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+t.historyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}

	var body struct {
		Success     bool          `json:"success"`
		ChatHistory []wireMessage `json:"chatHistory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode history: %v", ErrServer, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: history unavailable", ErrServer)
	}

	msgs := make([]session.Message, len(body.ChatHistory))
	for i, wm := range body.ChatHistory {
		msgs[i] = wm.message()
	}
	return msgs, nil
}

func (t *HTTPTransport) ClearChat(ctx context.Context, token string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.baseURL+t.clearPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServer, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}
	return nil
}
