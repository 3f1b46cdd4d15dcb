package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/utils"
)

// messageTokenOverhead is the fixed per-message cost added to the character
// estimate, covering role markers and framing.
const messageTokenOverhead = 10

const summarySystemPrompt = `You are a conversation summarizer for a server operations assistant.
Summarize the transcript below, preserving:
- server names, hostnames and IDs that were operated on
- commands that were executed and their outcomes
- problems found and how they were resolved or left
- decisions, constraints and user preferences stated

Be factual and dense. Output only the summary text.`

// MemoryManager bounds conversation context. Old messages are folded into a
// summary while the most recent ones stay verbatim; summaries supersede
// rather than replace their predecessors.
type MemoryManager struct {
	store  *ChatStore
	cfg    *config.AppConfig
	logger *slog.Logger

	// summaryModel builds the model used for compaction summaries; swapped
	// in tests.
	summaryModel func(ctx context.Context) (einoModel.ToolCallingChatModel, error)
}

func NewMemoryManager(store *ChatStore, cfg *config.AppConfig, models *ModelService) *MemoryManager {
	return &MemoryManager{
		store:        store,
		cfg:          cfg,
		summaryModel: models.SummaryModel,
		logger:       utils.GetLogger(),
	}
}

// EstimateTokens approximates the token cost of one message body.
func (m *MemoryManager) EstimateTokens(content string) int {
	return len(content)/m.cfg.CharsPerToken() + messageTokenOverhead
}

func (m *MemoryManager) estimateMessages(msgs []db.Message) int {
	total := 0
	for i := range msgs {
		total += m.EstimateTokens(msgs[i].Content)
	}
	return total
}

// highWater is the token level that triggers compaction.
func (m *MemoryManager) highWater() int {
	return int(float64(m.cfg.ContextBudgetTokens()) * m.cfg.CompactThreshold())
}

// NeedsCompaction reports whether the conversation's working context exceeds
// the high-water mark and has cold messages to fold.
func (m *MemoryManager) NeedsCompaction(conversationID string) (bool, error) {
	msgs, sum, err := m.workingSet(conversationID)
	if err != nil {
		return false, err
	}

	total := m.estimateMessages(msgs)
	if sum != nil {
		total += sum.TokenCount
	}
	if total <= m.highWater() {
		return false, nil
	}
	// Compaction needs at least one message outside the hot tail.
	return len(msgs) > m.cfg.RecentKeep(), nil
}

// workingSet returns the live summary (if any) and the messages it does not
// cover, in Seq order.
func (m *MemoryManager) workingSet(conversationID string) ([]db.Message, *db.Summary, error) {
	sum, err := m.store.LatestSummary(conversationID)
	if err != nil && !isNotFound(err) {
		return nil, nil, err
	}

	fromSeq := 0
	if sum != nil {
		fromSeq = sum.ToSeq
	}
	msgs, err := m.store.MessagesFrom(conversationID, fromSeq)
	if err != nil {
		return nil, nil, err
	}
	return msgs, sum, nil
}

// Compact folds everything but the hot tail into a new summary. The new
// summary extends coverage from the previous one; superseded summaries are
// kept in storage.
func (m *MemoryManager) Compact(ctx context.Context, conversationID string) (*db.Summary, error) {
	msgs, prev, err := m.workingSet(conversationID)
	if err != nil {
		return nil, err
	}

	keep := m.cfg.RecentKeep()
	if len(msgs) <= keep {
		return nil, fmt.Errorf("nothing to compact: %d messages in working set", len(msgs))
	}
	cold := msgs[:len(msgs)-keep]

	var transcript strings.Builder
	fromSeq := cold[0].Seq
	if prev != nil {
		fromSeq = prev.FromSeq
		transcript.WriteString("Previous summary:\n")
		transcript.WriteString(prev.Content)
		transcript.WriteString("\n\nNewer messages:\n")
	}
	for i := range cold {
		transcript.WriteString(renderMessage(&cold[i]))
		transcript.WriteString("\n")
	}

	summaryModel, err := m.summaryModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create summary model: %w", err)
	}

	resp, err := summaryModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage(transcript.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	originalTokens := m.estimateMessages(cold)
	if prev != nil {
		originalTokens += prev.OriginalTokens
	}

	sum := &db.Summary{
		ConversationID: conversationID,
		FromSeq:        fromSeq,
		ToSeq:          cold[len(cold)-1].Seq + 1,
		Content:        resp.Content,
		TokenCount:     m.EstimateTokens(resp.Content),
		OriginalTokens: originalTokens,
	}
	if originalTokens > 0 {
		sum.CompressionRatio = float64(sum.TokenCount) / float64(originalTokens)
	}

	if err := m.store.CreateSummary(sum); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}

	m.logger.Info("conversation compacted",
		"conversation_id", conversationID,
		"from_seq", sum.FromSeq,
		"to_seq", sum.ToSeq,
		"tokens", sum.TokenCount,
		"original_tokens", sum.OriginalTokens)

	event.Emit(event.ConversationCompactedEvent{
		ConversationID: conversationID,
		SummaryID:      sum.ID,
		FromSeq:        sum.FromSeq,
		ToSeq:          sum.ToSeq,
	})
	return sum, nil
}

// BuildContext assembles the model input: system prompt, then the live
// summary as context, then uncovered messages verbatim in Seq order.
func (m *MemoryManager) BuildContext(conversationID, systemPrompt string) ([]*schema.Message, error) {
	msgs, sum, err := m.workingSet(conversationID)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Message, 0, len(msgs)+2)
	out = append(out, schema.SystemMessage(systemPrompt))
	if sum != nil {
		out = append(out, schema.SystemMessage("Summary of the conversation so far:\n"+sum.Content))
	}
	for i := range msgs {
		out = append(out, toSchemaMessage(&msgs[i]))
	}
	return out, nil
}

// toSchemaMessage converts a stored message for the model. Assistant turns
// that ran tools carry a rendered transcript so the model sees what happened
// even though raw tool frames are not replayed.
func toSchemaMessage(msg *db.Message) *schema.Message {
	content := msg.Content
	if msg.Role == db.RoleAssistant && msg.HasToolCalls() {
		content = renderAssistantTurn(msg)
	}
	switch msg.Role {
	case db.RoleAssistant:
		return schema.AssistantMessage(content, nil)
	case db.RoleSystem:
		return schema.SystemMessage(content)
	default:
		return schema.UserMessage(content)
	}
}

// renderAssistantTurn flattens text, tool calls and tool results into one
// readable block.
func renderAssistantTurn(msg *db.Message) string {
	var sb strings.Builder
	for _, chunk := range msg.Chunks {
		switch chunk.Type {
		case db.ChunkTypeText:
			sb.WriteString(chunk.Text)
		case db.ChunkTypeToolCall:
			sb.WriteString(fmt.Sprintf("\n[called %s with %s]\n", chunk.ToolName, chunk.ToolArgs))
		case db.ChunkTypeToolResult:
			if chunk.ToolResultIsError {
				sb.WriteString(fmt.Sprintf("[%s failed: %s]\n", chunk.ToolName, chunk.ToolResultContent))
			} else {
				sb.WriteString(fmt.Sprintf("[%s result: %s]\n", chunk.ToolName, chunk.ToolResultContent))
			}
		}
	}
	if sb.Len() == 0 {
		return msg.Content
	}
	return sb.String()
}

// renderMessage renders one message for the summarization transcript.
func renderMessage(msg *db.Message) string {
	content := msg.Content
	if msg.Role == db.RoleAssistant && msg.HasToolCalls() {
		content = renderAssistantTurn(msg)
	}
	return fmt.Sprintf("%s: %s", msg.Role, content)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
