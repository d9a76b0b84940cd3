package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates the payload union carried by data records.
type EventType string

const (
	EventStream    EventType = "stream"    // incremental token text, append-only
	EventComplete  EventType = "complete"  // authoritative final text, terminal
	EventMessage   EventType = "message"   // transient status label, replaces prior
	EventError     EventType = "error"     // user-facing error string, terminal
	EventTool      EventType = "tool"      // acknowledged, no transcript effect
	EventNotesLink EventType = "notes-link"
	EventWebLink   EventType = "web-link"
)

// Known reports whether t is part of the closed event vocabulary.
func (t EventType) Known() bool {
	switch t {
	case EventStream, EventComplete, EventMessage, EventError, EventTool,
		EventNotesLink, EventWebLink:
		return true
	}
	return false
}

// Terminal reports whether t ends the turn.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Link is a citation payload. The wire carries either a {url, content}
// object or a bare URL string; UnmarshalJSON accepts both so either form
// decodes into the canonical shape.
type Link struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (l *Link) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		l.URL = s
		return nil
	}

	type plain Link
	return json.Unmarshal(data, (*plain)(l))
}

// Event is one decoded record payload.
type Event struct {
	Event   EventType `json:"event"`
	Content string    `json:"content"`
	Links   *Link     `json:"links,omitempty"`
}

const (
	typePrefix = "event:"
	dataPrefix = "data:"
)

// ParseRecord classifies one decoded line. "event:" lines are informational
// type hints (the payload repeats the discriminator) and yield no event, as
// do lines without a recognized prefix and data lines whose payload is empty
// after trimming. A data line with a malformed JSON payload returns an error
// wrapping ErrMalformedRecord.
func ParseRecord(line string) (Event, bool, error) {
	if strings.HasPrefix(line, typePrefix) {
		return Event{}, false, nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false, nil
	}

	raw := strings.TrimSpace(line[len(dataPrefix):])
	if raw == "" {
		return Event{}, false, nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return ev, true, nil
}
