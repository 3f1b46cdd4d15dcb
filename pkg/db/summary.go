// Database models for conversation compaction
package db

import "time"

// Summary holds compacted text covering the message range [FromSeq, ToSeq)
// of a conversation. Summaries are immutable once created; a later summary
// that extends coverage supersedes earlier ones instead of deleting them.
type Summary struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"`

	FromSeq int `json:"from_seq"`
	ToSeq   int `json:"to_seq"`

	Content    string `json:"content" gorm:"type:text;not null"`
	TokenCount int    `json:"token_count"`

	// Token statistics for the compacted range
	OriginalTokens   int     `json:"original_tokens"`
	CompressionRatio float64 `json:"compression_ratio"`

	Superseded bool `json:"superseded" gorm:"default:false;index"`

	CreatedAt time.Time `json:"created_at"`
}

func (Summary) TableName() string {
	return "summaries"
}
