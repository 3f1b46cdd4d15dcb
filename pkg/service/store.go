package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsloom/opsloom/pkg/db"
)

// ErrNotFound is returned for lookups of missing records.
var ErrNotFound = errors.New("not found")

// ChatStore persists conversations, messages, tool calls, summaries and
// servers. All orchestrator state goes through it.
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(gdb *gorm.DB) *ChatStore {
	return &ChatStore{db: gdb}
}

// ========== Conversations ==========

func (s *ChatStore) CreateConversation(conv *db.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Mode == "" {
		conv.Mode = "chat"
	}
	if conv.Status == "" {
		conv.Status = db.ConversationStatusActive
	}
	return s.db.Create(conv).Error
}

func (s *ChatStore) GetConversation(id string) (*db.Conversation, error) {
	var conv db.Conversation
	err := s.db.Where("id = ? AND status <> ?", id, db.ConversationStatusDeleted).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns non-deleted conversations, most recently
// touched first.
func (s *ChatStore) ListConversations() ([]db.Conversation, error) {
	var convs []db.Conversation
	err := s.db.
		Where("status <> ?", db.ConversationStatusDeleted).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// ActiveConversation returns the most recently touched active conversation.
func (s *ChatStore) ActiveConversation() (*db.Conversation, error) {
	var conv db.Conversation
	err := s.db.
		Where("status = ?", db.ConversationStatusActive).
		Order("updated_at DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active conversation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ChatStore) UpdateConversation(conv *db.Conversation) error {
	return s.db.Save(conv).Error
}

// TouchConversation bumps updated_at without changing other fields.
func (s *ChatStore) TouchConversation(id string) error {
	return s.db.Model(&db.Conversation{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// DeleteConversation soft-deletes; messages and summaries stay for audit.
func (s *ChatStore) DeleteConversation(id string) error {
	res := s.db.Model(&db.Conversation{}).Where("id = ?", id).
		Update("status", db.ConversationStatusDeleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ForkConversation creates a new conversation seeded with a copy of the
// parent's messages up to and including atSeq. atSeq < 0 copies everything.
func (s *ChatStore) ForkConversation(parentID string, atSeq int) (*db.Conversation, error) {
	parent, err := s.GetConversation(parentID)
	if err != nil {
		return nil, err
	}

	fork := &db.Conversation{
		ID:       uuid.New().String(),
		Title:    parent.Title + " (fork)",
		Mode:     parent.Mode,
		Status:   db.ConversationStatusActive,
		ServerID: parent.ServerID,
		ParentID: &parent.ID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fork).Error; err != nil {
			return err
		}

		var msgs []db.Message
		q := tx.Where("conversation_id = ?", parentID).Order("seq ASC")
		if atSeq >= 0 {
			q = q.Where("seq <= ?", atSeq)
		}
		if err := q.Find(&msgs).Error; err != nil {
			return err
		}

		for i := range msgs {
			msgs[i].ID = uuid.New().String()
			msgs[i].ConversationID = fork.ID
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}

		var sums []db.Summary
		if err := tx.Where("conversation_id = ?", parentID).Find(&sums).Error; err != nil {
			return err
		}
		for i := range sums {
			if atSeq >= 0 && sums[i].ToSeq > atSeq+1 {
				continue
			}
			sums[i].ID = uuid.New().String()
			sums[i].ConversationID = fork.ID
			if err := tx.Create(&sums[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fork, nil
}

// ========== Messages ==========

// AppendMessage assigns the next Seq within the conversation and inserts the
// message in one transaction.
func (s *ChatStore) AppendMessage(msg *db.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq *int
		if err := tx.Model(&db.Message{}).
			Where("conversation_id = ?", msg.ConversationID).
			Select("MAX(seq)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		if maxSeq == nil {
			msg.Seq = 0
		} else {
			msg.Seq = *maxSeq + 1
		}
		return tx.Create(msg).Error
	})
}

func (s *ChatStore) UpdateMessage(msg *db.Message) error {
	return s.db.Save(msg).Error
}

func (s *ChatStore) GetMessage(id string) (*db.Message, error) {
	var msg db.Message
	err := s.db.Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns all messages of a conversation in Seq order.
func (s *ChatStore) ListMessages(conversationID string) ([]db.Message, error) {
	var msgs []db.Message
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&msgs).Error
	return msgs, err
}

// MessagesFrom returns messages with Seq >= fromSeq in Seq order.
func (s *ChatStore) MessagesFrom(conversationID string, fromSeq int) ([]db.Message, error) {
	var msgs []db.Message
	err := s.db.
		Where("conversation_id = ? AND seq >= ?", conversationID, fromSeq).
		Order("seq ASC").
		Find(&msgs).Error
	return msgs, err
}

func (s *ChatStore) CountMessages(conversationID string) (int64, error) {
	var n int64
	err := s.db.Model(&db.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

// ========== Tool calls ==========

func (s *ChatStore) CreateToolCall(tc *db.ToolCall) error {
	return s.db.Create(tc).Error
}

func (s *ChatStore) UpdateToolCall(tc *db.ToolCall) error {
	return s.db.Save(tc).Error
}

func (s *ChatStore) ListToolCalls(conversationID string) ([]db.ToolCall, error) {
	var calls []db.ToolCall
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&calls).Error
	return calls, err
}

// ========== Summaries ==========

// CreateSummary inserts a new summary and marks earlier non-superseded
// summaries of the conversation as superseded. Nothing is deleted.
func (s *ChatStore) CreateSummary(sum *db.Summary) error {
	if sum.ID == "" {
		sum.ID = uuid.New().String()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Summary{}).
			Where("conversation_id = ? AND superseded = ?", sum.ConversationID, false).
			Update("superseded", true).Error; err != nil {
			return err
		}
		return tx.Create(sum).Error
	})
}

// LatestSummary returns the current non-superseded summary, or ErrNotFound.
func (s *ChatStore) LatestSummary(conversationID string) (*db.Summary, error) {
	var sum db.Summary
	err := s.db.
		Where("conversation_id = ? AND superseded = ?", conversationID, false).
		Order("to_seq DESC").
		First(&sum).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("summary for %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *ChatStore) ListSummaries(conversationID string) ([]db.Summary, error) {
	var sums []db.Summary
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&sums).Error
	return sums, err
}

// ========== Servers ==========

func (s *ChatStore) CreateServer(srv *db.Server) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if srv.Port <= 0 {
		srv.Port = 22
	}
	if srv.AuthMethod == "" {
		srv.AuthMethod = db.AuthMethodPassword
	}
	return s.db.Create(srv).Error
}

// GetServer implements tools.ServerGetter.
func (s *ChatStore) GetServer(id string) (*db.Server, error) {
	var srv db.Server
	err := s.db.Where("id = ?", id).First(&srv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *ChatStore) ListServers() ([]db.Server, error) {
	var servers []db.Server
	err := s.db.Order("name ASC").Find(&servers).Error
	return servers, err
}

func (s *ChatStore) UpdateServer(srv *db.Server) error {
	return s.db.Save(srv).Error
}

func (s *ChatStore) DeleteServer(id string) error {
	res := s.db.Delete(&db.Server{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordDiscovery stores probe results on the server row.
func (s *ChatStore) RecordDiscovery(id string, status string, facts db.JSONMap) error {
	now := time.Now()
	return s.db.Model(&db.Server{}).Where("id = ?", id).Updates(map[string]any{
		"status":        status,
		"facts":         facts,
		"discovered_at": &now,
	}).Error
}
