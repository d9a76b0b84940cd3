package engine

import "github.com/synaptic-ai/chatstream/observability"

// Engine event types emitted around turn and transcript operations.
const (
	EventParseError    observability.EventType = "engine.parse_error"
	EventSaveFailed    observability.EventType = "engine.save_failed"
	EventHistoryLoaded observability.EventType = "engine.history_loaded"
	EventCleared       observability.EventType = "engine.cleared"
)
