package session

import "github.com/synaptic-ai/chatstream/observability"

// Machine event types emitted during a conversation turn, in parse order.
const (
	EventTurnStart     observability.EventType = "turn.start"
	EventTurnRejected  observability.EventType = "turn.rejected"
	EventTurnDelta     observability.EventType = "turn.delta"
	EventTurnStatus    observability.EventType = "turn.status"
	EventTurnReference observability.EventType = "turn.reference"
	EventTurnTool      observability.EventType = "turn.tool"
	EventTurnUnknown   observability.EventType = "turn.unknown"
	EventTurnComplete  observability.EventType = "turn.complete"
	EventTurnError     observability.EventType = "turn.error"
	EventTurnCancelled observability.EventType = "turn.cancelled"
)
