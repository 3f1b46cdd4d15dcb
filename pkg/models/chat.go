// API types for the agent turn pipeline
package models

import (
	"github.com/opsloom/opsloom/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Message = db.Message
type MessageChunk = db.MessageChunk
type MessageChunks = db.MessageChunks
type ToolCall = db.ToolCall
type Summary = db.Summary
type Server = db.Server

// ========== Turn submission ==========

// TurnRequest is one user turn submitted to the agent.
type TurnRequest struct {
	Content        string       `json:"content"`
	ConversationID string       `json:"conversationId"`
	ForceMode      string       `json:"forceMode,omitempty"`
	EnableResearch bool         `json:"enableResearch,omitempty"`
	EnableThinking bool         `json:"enableThinking,omitempty"`
	CustomAgentID  string       `json:"customAgentId,omitempty"`
	Model          string       `json:"model,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file sent along with a turn.
type Attachment struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	Content   string `json:"content,omitempty"`
	Base64    string `json:"base64,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// ========== Stream frames ==========

// Command status values for the commandStatus frame field.
const (
	CommandStatusRunning = "running"
	CommandStatusSuccess = "success"
	CommandStatusError   = "error"
)

// Stream status markers.
const (
	StatusResearching = "researching"
	StatusThinking    = "thinking"
)

// StreamFrame is one SSE data frame. Exactly one field group is set per
// frame; omitempty keeps the wire format minimal.
type StreamFrame struct {
	Mode          string          `json:"mode,omitempty"`
	Status        string          `json:"status,omitempty"`
	Thinking      string          `json:"thinking,omitempty"`
	Content       string          `json:"content,omitempty"`
	CommandOutput string          `json:"commandOutput,omitempty"`
	CommandStatus string          `json:"commandStatus,omitempty"`
	Approval      *ApprovalNotice `json:"approval,omitempty"`
	Error         string          `json:"error,omitempty"`
	Done          bool            `json:"done,omitempty"`
}

// ApprovalNotice tells the client a tool call is blocked on human approval.
type ApprovalNotice struct {
	ToolCallID  string `json:"toolCallId"`
	ToolName    string `json:"toolName"`
	Command     string `json:"command,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// ResolveApprovalRequest resolves a pending approval.
type ResolveApprovalRequest struct {
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}
