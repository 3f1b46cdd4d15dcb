// Database models for conversation messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message represents one message in a conversation. Seq is the insertion
// index within the conversation and is the only ordering guarantee.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index:idx_message_conv_seq;size:36;not null"`
	Seq            int    `json:"seq" gorm:"index:idx_message_conv_seq"`

	Role string `json:"role" gorm:"size:20;not null"` // user, assistant, system

	// Content is the finalized visible text. For assistant messages it is
	// the concatenation of all content increments of the turn.
	Content string `json:"content" gorm:"type:text"`

	Status       string `json:"status" gorm:"size:20;default:'completed'"` // pending, streaming, completed, error
	FinishReason string `json:"finish_reason,omitempty" gorm:"size:20"`    // stop, tool_calls, error, cancelled

	// Chunks holds the fine-grained parts of an assistant message
	// (reasoning, tool calls, tool results) in emission order.
	Chunks MessageChunks `json:"chunks,omitempty" gorm:"type:json"`

	Mode       string `json:"mode,omitempty" gorm:"size:20"`
	TokenCount int    `json:"token_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*Message) TableName() string {
	return "messages"
}

// Message roles (OpenAI standard)
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message status
const (
	MessageStatusPending   = "pending"
	MessageStatusStreaming = "streaming"
	MessageStatusCompleted = "completed"
	MessageStatusError     = "error"
)

// Finish reasons
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonError     = "error"
	FinishReasonCancelled = "cancelled"
)

// MessageChunk type constants
const (
	ChunkTypeText       = "text"
	ChunkTypeReasoning  = "reasoning"
	ChunkTypeToolCall   = "tool_call"
	ChunkTypeToolResult = "tool_result"
)

// MessageChunk is a single part of a message.
type MessageChunk struct {
	Type       string `json:"type"`
	RoundIndex int    `json:"round_index,omitempty"`

	// Text content (text, reasoning)
	Text string `json:"text,omitempty"`

	// Tool call fields (tool_call, tool_result)
	ToolCallID        string `json:"tool_call_id,omitempty"`
	ToolName          string `json:"tool_name,omitempty"`
	ToolArgs          string `json:"tool_args,omitempty"` // JSON string
	ToolResultContent string `json:"tool_result_content,omitempty"`
	ToolResultIsError bool   `json:"tool_result_is_error,omitempty"`
}

// MessageChunks is stored as a JSON column.
type MessageChunks []MessageChunk

// Value implements driver.Valuer for database storage
func (p MessageChunks) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database retrieval
func (p *MessageChunks) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, p)
}

// ========== Message helper methods ==========

// AddTextChunk appends visible text for the given round (in-memory only).
func (m *Message) AddTextChunk(text string, roundIndex int) {
	m.Chunks = append(m.Chunks, MessageChunk{
		Type:       ChunkTypeText,
		RoundIndex: roundIndex,
		Text:       text,
	})
}

// AddReasoningChunk appends thinking text for the given round (in-memory only).
func (m *Message) AddReasoningChunk(text string, roundIndex int) {
	m.Chunks = append(m.Chunks, MessageChunk{
		Type:       ChunkTypeReasoning,
		RoundIndex: roundIndex,
		Text:       text,
	})
}

// AddToolCallChunk records a tool call request (in-memory only).
func (m *Message) AddToolCallChunk(id, name, arguments string, roundIndex int) {
	m.Chunks = append(m.Chunks, MessageChunk{
		Type:       ChunkTypeToolCall,
		RoundIndex: roundIndex,
		ToolCallID: id,
		ToolName:   name,
		ToolArgs:   arguments,
	})
}

// AddToolResultChunk records a tool result (in-memory only).
func (m *Message) AddToolResultChunk(toolCallID, name, content string, isError bool, roundIndex int) {
	m.Chunks = append(m.Chunks, MessageChunk{
		Type:              ChunkTypeToolResult,
		RoundIndex:        roundIndex,
		ToolCallID:        toolCallID,
		ToolName:          name,
		ToolResultContent: content,
		ToolResultIsError: isError,
	})
}

// GetTextContent returns all visible text concatenated in emission order.
func (m *Message) GetTextContent() string {
	var result string
	for _, chunk := range m.Chunks {
		if chunk.Type == ChunkTypeText && chunk.Text != "" {
			result += chunk.Text
		}
	}
	return result
}

// GetReasoningContent returns all thinking text concatenated.
func (m *Message) GetReasoningContent() string {
	var result string
	for _, chunk := range m.Chunks {
		if chunk.Type == ChunkTypeReasoning && chunk.Text != "" {
			result += chunk.Text
		}
	}
	return result
}

// HasToolCalls reports whether the message contains tool call chunks.
func (m *Message) HasToolCalls() bool {
	for _, chunk := range m.Chunks {
		if chunk.Type == ChunkTypeToolCall {
			return true
		}
	}
	return false
}
