// Database models for tool invocations
package db

import "time"

// ToolCall records one tool invocation requested by the model.
// Transitions are driven only by the approval gate and the executor;
// completed and failed are terminal.
type ToolCall struct {
	ID             string `json:"id" gorm:"primaryKey;size:100"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"`
	MessageID      string `json:"message_id" gorm:"index;size:36"`

	ToolName string `json:"tool_name" gorm:"size:100;not null"`
	Input    string `json:"input" gorm:"type:text"` // JSON string, validated against the tool schema

	Status string `json:"status" gorm:"size:20;default:'running'"`
	Output string `json:"output,omitempty" gorm:"type:text"`
	Error  string `json:"error,omitempty" gorm:"type:text"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (ToolCall) TableName() string {
	return "tool_calls"
}

// ToolCall status
const (
	ToolCallStatusPendingApproval = "pending_approval"
	ToolCallStatusRunning         = "running"
	ToolCallStatusCompleted       = "completed"
	ToolCallStatusFailed          = "failed"
)
