// Database models for agent conversations
package db

import "time"

// Conversation represents one chat thread with the agent.
type Conversation struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	Title  string `json:"title" gorm:"size:200;default:'New Conversation'"`
	Mode   string `json:"mode" gorm:"size:20;default:'chat'"`
	Status string `json:"status" gorm:"size:20;default:'active'"` // active, archived, deleted

	// ServerID binds the conversation to a managed server; tools default to it.
	ServerID *string `json:"server_id,omitempty" gorm:"index;size:36"`

	// ParentID records fork lineage. A forked conversation starts with a
	// copy of the parent's context.
	ParentID *string `json:"parent_id,omitempty" gorm:"index;size:36"`

	// ArchiveURL points at an external archive of this conversation.
	// Archival itself happens outside this service.
	ArchiveURL string `json:"archive_url,omitempty" gorm:"size:500"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Conversation status
const (
	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
	ConversationStatusDeleted  = "deleted"
)
