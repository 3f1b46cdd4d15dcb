// Chat HTTP handlers - agent turns over SSE, conversations, approvals
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/service"
)

// ChatHandler handles agent turn and conversation HTTP requests.
type ChatHandler struct {
	orchestrator *service.Orchestrator
	store        *service.ChatStore
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orchestrator *service.Orchestrator, store *service.ChatStore) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat/turn", h.Turn)
	r.POST("/chat/:conversation_id/cancel", h.CancelTurn)

	r.POST("/approvals/resolve", h.ResolveApproval)

	conversations := r.Group("/conversations")
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/active", h.ActiveConversation)
		conversations.GET("/:id", h.GetConversation)
		conversations.DELETE("/:id", h.DeleteConversation)
		conversations.POST("/:id/fork", h.ForkConversation)
		conversations.POST("/:id/archive", h.ArchiveConversation)
		conversations.GET("/:id/messages", h.GetMessages)
	}
}

// Turn submits a user turn and streams frames back over SSE.
// POST /api/chat/turn
func (h *ChatHandler) Turn(c *gin.Context) {
	var req models.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frames, err := h.orchestrator.RunTurn(c.Request.Context(), &req)
	if err != nil {
		c.JSON(turnErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	// SSE headers; X-Accel-Buffering disables nginx buffering.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	w := c.Writer
	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
	}
}

// turnErrorStatus maps turn validation errors onto HTTP status codes.
func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrUnknownAgent),
		errors.Is(err, service.ErrInvalidAttachment):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CancelTurn aborts the running turn of a conversation.
// POST /api/chat/:conversation_id/cancel
func (h *ChatHandler) CancelTurn(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	cancelled := h.orchestrator.Cancel(conversationID)
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// ResolveApproval decides a pending tool approval.
// POST /api/approvals/resolve
func (h *ChatHandler) ResolveApproval(c *gin.Context) {
	var req models.ResolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ToolCallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toolCallId is required"})
		return
	}

	if err := h.orchestrator.ResolveApproval(req.ToolCallID, req.Approved); err != nil {
		if errors.Is(err, service.ErrApprovalExpired) {
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"resolved": true, "approved": req.Approved})
}

// CreateConversationRequest creates a conversation, optionally bound to a
// server.
type CreateConversationRequest struct {
	Title    string  `json:"title"`
	Mode     string  `json:"mode"`
	ServerID *string `json:"serverId"`
}

// CreateConversation creates a new conversation.
// POST /api/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode != "" {
		if _, err := models.ParseMode(req.Mode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	conv := &models.Conversation{
		Title:    req.Title,
		Mode:     req.Mode,
		ServerID: req.ServerID,
	}
	if err := h.store.CreateConversation(conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations lists conversations, most recently updated first.
// GET /api/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	conversations, err := h.store.ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// ActiveConversation returns the most recently updated active conversation,
// creating one if none exists.
// GET /api/conversations/active
func (h *ChatHandler) ActiveConversation(c *gin.Context) {
	conv, err := h.store.ActiveConversation()
	if errors.Is(err, service.ErrNotFound) {
		conv = &models.Conversation{}
		err = h.store.CreateConversation(conv)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetConversation gets a conversation with its messages.
// GET /api/conversations/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	id := c.Param("id")

	conv, err := h.store.GetConversation(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	messages, err := h.store.ListMessages(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

// DeleteConversation soft-deletes a conversation.
// DELETE /api/conversations/:id
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	id := c.Param("id")

	if err := h.store.DeleteConversation(id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ForkConversation copies a conversation's context into a new one.
// POST /api/conversations/:id/fork?at_seq=5
func (h *ChatHandler) ForkConversation(c *gin.Context) {
	id := c.Param("id")

	atSeq := -1
	if v := c.Query("at_seq"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at_seq must be an integer"})
			return
		}
		atSeq = parsed
	}

	fork, err := h.store.ForkConversation(id, atSeq)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, fork)
}

// ArchiveConversation records an external archive URL on the conversation.
// The archival itself happens outside this service.
// POST /api/conversations/:id/archive
func (h *ChatHandler) ArchiveConversation(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		ArchiveURL string `json:"archiveUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ArchiveURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archiveUrl is required"})
		return
	}

	conv, err := h.store.GetConversation(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conv.ArchiveURL = req.ArchiveURL
	conv.Status = db.ConversationStatusArchived
	if err := h.store.UpdateConversation(conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetMessages gets messages for a conversation.
// GET /api/conversations/:id/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("id")

	messages, err := h.store.ListMessages(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
