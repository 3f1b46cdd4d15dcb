package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	TurnStarted   = "turn.started"
	TurnCompleted = "turn.completed"
	TurnFailed    = "turn.failed"
	TurnCancelled = "turn.cancelled"

	ApprovalPending  = "approval.pending"
	ApprovalResolved = "approval.resolved"

	ToolCallStarted  = "toolcall.started"
	ToolCallFinished = "toolcall.finished"

	ConversationCompacted = "conversation.compacted"

	ServerCreated    = "server.created"
	ServerUpdated    = "server.updated"
	ServerDeleted    = "server.deleted"
	ServerDiscovered = "server.discovered"
)

// ============================================================================
// Turn Events
// ============================================================================

// TurnStartedEvent is emitted when a turn begins processing.
type TurnStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
}

func (e TurnStartedEvent) EventName() string { return TurnStarted }

// TurnCompletedEvent is emitted when a turn finishes normally.
type TurnCompletedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Rounds         int    `json:"rounds"`
}

func (e TurnCompletedEvent) EventName() string { return TurnCompleted }

// TurnFailedEvent is emitted when a turn ends with a terminal error.
type TurnFailedEvent struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

func (e TurnFailedEvent) EventName() string { return TurnFailed }

// TurnCancelledEvent is emitted when the client cancels a turn.
type TurnCancelledEvent struct {
	ConversationID string `json:"conversation_id"`
}

func (e TurnCancelledEvent) EventName() string { return TurnCancelled }

// ============================================================================
// Approval Events
// ============================================================================

// ApprovalPendingEvent is emitted when a tool call blocks on human approval.
type ApprovalPendingEvent struct {
	ConversationID string `json:"conversation_id"`
	ToolCallID     string `json:"tool_call_id"`
	ToolName       string `json:"tool_name"`
	Command        string `json:"command,omitempty"`
}

func (e ApprovalPendingEvent) EventName() string { return ApprovalPending }

// ApprovalResolvedEvent is emitted when a pending approval is decided,
// times out, or is released by cancellation.
type ApprovalResolvedEvent struct {
	ConversationID string `json:"conversation_id"`
	ToolCallID     string `json:"tool_call_id"`
	Approved       bool   `json:"approved"`
	TimedOut       bool   `json:"timed_out,omitempty"`
}

func (e ApprovalResolvedEvent) EventName() string { return ApprovalResolved }

// ============================================================================
// Tool Call Events
// ============================================================================

// ToolCallStartedEvent is emitted when a tool begins executing.
type ToolCallStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	ToolCallID     string `json:"tool_call_id"`
	ToolName       string `json:"tool_name"`
}

func (e ToolCallStartedEvent) EventName() string { return ToolCallStarted }

// ToolCallFinishedEvent is emitted when a tool execution ends.
type ToolCallFinishedEvent struct {
	ConversationID string `json:"conversation_id"`
	ToolCallID     string `json:"tool_call_id"`
	ToolName       string `json:"tool_name"`
	Status         string `json:"status"` // completed, failed
}

func (e ToolCallFinishedEvent) EventName() string { return ToolCallFinished }

// ============================================================================
// Memory Events
// ============================================================================

// ConversationCompactedEvent is emitted after a summary is created.
type ConversationCompactedEvent struct {
	ConversationID string `json:"conversation_id"`
	SummaryID      string `json:"summary_id"`
	FromSeq        int    `json:"from_seq"`
	ToSeq          int    `json:"to_seq"`
}

func (e ConversationCompactedEvent) EventName() string { return ConversationCompacted }

// ============================================================================
// Server Events
// ============================================================================

// ServerCreatedEvent is emitted when a server is registered.
type ServerCreatedEvent struct {
	ServerID string `json:"server_id"`
}

func (e ServerCreatedEvent) EventName() string { return ServerCreated }

// ServerUpdatedEvent is emitted when a server is updated.
type ServerUpdatedEvent struct {
	ServerID string `json:"server_id"`
}

func (e ServerUpdatedEvent) EventName() string { return ServerUpdated }

// ServerDeletedEvent is emitted when a server is removed.
type ServerDeletedEvent struct {
	ServerID string `json:"server_id"`
}

func (e ServerDeletedEvent) EventName() string { return ServerDeleted }

// ServerDiscoveredEvent is emitted after a discovery probe finishes.
type ServerDiscoveredEvent struct {
	ServerID string `json:"server_id"`
	Online   bool   `json:"online"`
}

func (e ServerDiscoveredEvent) EventName() string { return ServerDiscovered }
