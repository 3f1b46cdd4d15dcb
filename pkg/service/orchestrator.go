package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/tools"
	"github.com/opsloom/opsloom/pkg/utils"
)

// ErrConversationBusy is returned when a turn is submitted while another
// turn is still running on the same conversation.
var ErrConversationBusy = errors.New("conversation already has a running turn")

// ErrEmptyContent is returned for turn requests without content.
var ErrEmptyContent = errors.New("content must not be empty")

// ErrInvalidMode is returned when forceMode is not a known mode.
var ErrInvalidMode = errors.New("invalid forceMode")

// ErrRoundCapExceeded means the agent loop hit the round limit while the
// model was still requesting tools.
var ErrRoundCapExceeded = errors.New("agent did not converge")

// ErrUnknownAgent is returned when customAgentId names no configured agent.
var ErrUnknownAgent = errors.New("unknown custom agent")

// ErrInvalidAttachment is returned for malformed turn attachments.
var ErrInvalidAttachment = errors.New("invalid attachment")

// maxAttachmentSize bounds a single attachment fed into the model context.
const maxAttachmentSize = 1 << 20

// Orchestrator drives one agent turn end to end: mode selection, optional
// research, the model/tool loop with approval gating, persistence, and the
// stream of frames back to the client.
type Orchestrator struct {
	store      *ChatStore
	cfg        *config.AppConfig
	classifier *Classifier
	memory     *MemoryManager
	gate       *ApprovalGate
	executor   tools.Executor
	files      tools.FileProvider
	searcher   tools.Searcher
	logger     *slog.Logger

	// createModel is the model factory; swapped in tests.
	createModel func(ctx context.Context, modelID string) (einoModel.ToolCallingChatModel, error)

	// summaryModel builds the model used for titles; swapped in tests.
	summaryModel func(ctx context.Context) (einoModel.ToolCallingChatModel, error)

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewOrchestrator(
	store *ChatStore,
	cfg *config.AppConfig,
	ms *ModelService,
	memory *MemoryManager,
	gate *ApprovalGate,
	executor tools.Executor,
	files tools.FileProvider,
	searcher tools.Searcher,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		cfg:          cfg,
		classifier:   NewClassifier(ms),
		memory:       memory,
		gate:         gate,
		executor:     executor,
		files:        files,
		searcher:     searcher,
		logger:       utils.GetLogger(),
		createModel:  ms.CreateChatModel,
		summaryModel: ms.SummaryModel,
		running:      make(map[string]context.CancelFunc),
	}
}

// RunTurn validates the request, claims the conversation, and starts the
// turn. Frames arrive on the returned channel; the channel closes after the
// terminal done frame. Validation failures are returned before any model
// call and produce no frames.
func (o *Orchestrator) RunTurn(ctx context.Context, req *models.TurnRequest) (<-chan models.StreamFrame, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	var forced models.Mode
	if req.ForceMode != "" {
		m, err := models.ParseMode(req.ForceMode)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.ForceMode)
		}
		forced = m
	}

	if req.CustomAgentID != "" {
		if _, ok := o.cfg.AgentPrompt(req.CustomAgentID); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, req.CustomAgentID)
		}
	}
	for _, att := range req.Attachments {
		if err := validateAttachment(att); err != nil {
			return nil, err
		}
	}

	conv, err := o.resolveConversation(req)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	if err := o.claim(conv.ID, cancel); err != nil {
		cancel()
		return nil, err
	}

	frames := make(chan models.StreamFrame, 64)
	go func() {
		defer close(frames)
		defer o.release(conv.ID)
		defer cancel()
		o.run(turnCtx, req, conv, forced, frames)
	}()
	return frames, nil
}

// Cancel aborts the running turn of a conversation, if any. Pending
// approvals are rejected and the partial message is persisted by the turn
// goroutine.
func (o *Orchestrator) Cancel(conversationID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[conversationID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	o.gate.RejectAll(conversationID)
	cancel()
	return true
}

// ResolveApproval decides a pending tool approval.
func (o *Orchestrator) ResolveApproval(toolCallID string, approved bool) error {
	return o.gate.Resolve(toolCallID, approved)
}

func (o *Orchestrator) claim(conversationID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[conversationID]; busy {
		return ErrConversationBusy
	}
	o.running[conversationID] = cancel
	return nil
}

func (o *Orchestrator) release(conversationID string) {
	o.mu.Lock()
	delete(o.running, conversationID)
	o.mu.Unlock()
}

// validateAttachment rejects malformed attachments before any model call.
func validateAttachment(att models.Attachment) error {
	if strings.TrimSpace(att.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAttachment)
	}
	if att.Content == "" && att.Base64 == "" {
		return fmt.Errorf("%w: %q has no content", ErrInvalidAttachment, att.Name)
	}
	if len(att.Content) > maxAttachmentSize || len(att.Base64) > maxAttachmentSize {
		return fmt.Errorf("%w: %q exceeds size limit", ErrInvalidAttachment, att.Name)
	}
	return nil
}

// renderAttachments folds turn attachments into a context message. Binary
// attachments are referenced by name only; their bytes stay out of the
// prompt.
func renderAttachments(atts []models.Attachment) string {
	var sb strings.Builder
	sb.WriteString("The user attached the following files:\n")
	for _, att := range atts {
		if att.Content != "" {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", att.Name, att.Content)
		} else {
			fmt.Fprintf(&sb, "\n--- %s (binary, %s, %d bytes) ---\n", att.Name, att.MediaType, att.Size)
		}
	}
	return sb.String()
}

func (o *Orchestrator) resolveConversation(req *models.TurnRequest) (*db.Conversation, error) {
	if req.ConversationID != "" {
		return o.store.GetConversation(req.ConversationID)
	}
	conv := &db.Conversation{}
	if err := o.store.CreateConversation(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// run executes the turn pipeline. It always emits a terminal done frame.
func (o *Orchestrator) run(ctx context.Context, req *models.TurnRequest, conv *db.Conversation, forced models.Mode, frames chan<- models.StreamFrame) {
	emit := func(f models.StreamFrame) {
		select {
		case frames <- f:
		case <-ctx.Done():
		}
	}
	// The done frame must go out even after cancellation; the buffered
	// channel makes the non-blocking send safe.
	defer func() {
		select {
		case frames <- models.StreamFrame{Done: true}:
		default:
		}
	}()

	// Mode comes first on the wire, before any other frame.
	mode := forced
	if mode == "" {
		mode = o.classifier.Classify(ctx, req.Content)
	}
	emit(models.StreamFrame{Mode: string(mode)})

	event.Emit(event.TurnStartedEvent{ConversationID: conv.ID, Mode: string(mode)})

	userMsg := &db.Message{
		ConversationID: conv.ID,
		Role:           db.RoleUser,
		Content:        req.Content,
		Status:         db.MessageStatusCompleted,
		Mode:           string(mode),
		TokenCount:     o.memory.EstimateTokens(req.Content),
	}
	if err := o.store.AppendMessage(userMsg); err != nil {
		o.fail(conv.ID, emit, fmt.Errorf("persist user message: %w", err))
		return
	}

	var server *db.Server
	if conv.ServerID != nil {
		if srv, err := o.store.GetServer(*conv.ServerID); err == nil {
			server = srv
		}
	}

	var prompt string
	if base, ok := o.cfg.AgentPrompt(req.CustomAgentID); req.CustomAgentID != "" && ok {
		prompt = agentSystemPrompt(base, mode, server)
	} else {
		prompt = systemPrompt(mode, server)
	}
	if req.EnableResearch {
		prompt += "\n\n" + researchPrompt
	}

	history, err := o.memory.BuildContext(conv.ID, prompt)
	if err != nil {
		o.fail(conv.ID, emit, fmt.Errorf("build context: %w", err))
		return
	}

	if len(req.Attachments) > 0 {
		history = append(history, schema.SystemMessage(renderAttachments(req.Attachments)))
	}

	if req.EnableResearch && o.searcher != nil {
		emit(models.StreamFrame{Status: models.StatusResearching})
		if findings := o.researchPhase(ctx, req.Content); findings != "" {
			history = append(history, schema.SystemMessage("Web research findings for this request:\n"+findings))
		}
	}

	assistantMsg := &db.Message{
		ConversationID: conv.ID,
		Role:           db.RoleAssistant,
		Status:         db.MessageStatusStreaming,
		Mode:           string(mode),
	}
	if err := o.store.AppendMessage(assistantMsg); err != nil {
		o.fail(conv.ID, emit, fmt.Errorf("persist assistant message: %w", err))
		return
	}

	rounds, err := o.agentLoop(ctx, req, conv, mode, history, assistantMsg, emit)

	assistantMsg.Content = assistantMsg.GetTextContent()
	assistantMsg.TokenCount = o.memory.EstimateTokens(assistantMsg.Content)

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		assistantMsg.Status = db.MessageStatusCompleted
		assistantMsg.FinishReason = db.FinishReasonCancelled
		o.saveMessage(assistantMsg)
		event.Emit(event.TurnCancelledEvent{ConversationID: conv.ID})
		o.logger.Info("turn cancelled", "conversation_id", conv.ID)
		return
	case err != nil:
		assistantMsg.Status = db.MessageStatusError
		assistantMsg.FinishReason = db.FinishReasonError
		o.saveMessage(assistantMsg)
		o.fail(conv.ID, emit, err)
		return
	}

	assistantMsg.Status = db.MessageStatusCompleted
	if assistantMsg.FinishReason == "" {
		assistantMsg.FinishReason = db.FinishReasonStop
	}
	o.saveMessage(assistantMsg)

	if err := o.store.TouchConversation(conv.ID); err != nil {
		o.logger.Warn("touch conversation failed", "error", err)
	}

	event.Emit(event.TurnCompletedEvent{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		Rounds:         rounds,
	})

	o.afterTurn(conv, req.Content)
}

// agentLoop runs bounded model/tool rounds. It returns the number of rounds
// consumed and a terminal error, if any.
func (o *Orchestrator) agentLoop(ctx context.Context, req *models.TurnRequest, conv *db.Conversation, mode models.Mode, history []*schema.Message, assistantMsg *db.Message, emit func(models.StreamFrame)) (int, error) {
	chatModel, err := o.createModel(ctx, req.Model)
	if err != nil {
		return 0, fmt.Errorf("create chat model: %w", err)
	}

	toolCtx := o.toolContext(conv)
	var toolInfos []*schema.ToolInfo
	for _, def := range tools.ListToolDefinitionsForMode(mode) {
		// Research tools are opt-in per turn.
		if def.Category == tools.CategoryResearch && !req.EnableResearch {
			continue
		}
		invokable, err := tools.GetTool(def.ID, toolCtx)
		if err != nil {
			continue
		}
		info, err := invokable.Info(ctx)
		if err != nil {
			o.logger.Warn("failed to get tool info", "error", err)
			continue
		}
		toolInfos = append(toolInfos, info)
	}
	if len(toolInfos) > 0 {
		chatModel, err = chatModel.WithTools(toolInfos)
		if err != nil {
			return 0, fmt.Errorf("bind tools: %w", err)
		}
	}

	maxRounds := o.cfg.MaxRounds()
	thinkingAnnounced := false

	for round := 0; round < maxRounds; round++ {
		streamed, err := o.streamRound(ctx, chatModel, history, req.EnableThinking, &thinkingAnnounced, emit)
		if err != nil {
			return round, err
		}

		if streamed.ReasoningContent != "" {
			assistantMsg.AddReasoningChunk(streamed.ReasoningContent, round)
		}
		if streamed.Content != "" {
			assistantMsg.AddTextChunk(streamed.Content, round)
		}
		history = append(history, streamed)

		if len(streamed.ToolCalls) == 0 {
			assistantMsg.FinishReason = db.FinishReasonStop
			return round + 1, nil
		}

		assistantMsg.FinishReason = db.FinishReasonToolCalls
		for _, tc := range streamed.ToolCalls {
			assistantMsg.AddToolCallChunk(tc.ID, tc.Function.Name, tc.Function.Arguments, round)
		}
		o.saveMessage(assistantMsg)

		// Tools run sequentially in call order; each result goes back into
		// the context before the next round.
		for _, tc := range streamed.ToolCalls {
			if ctx.Err() != nil {
				return round + 1, ctx.Err()
			}
			result, isErr := o.executeToolCall(ctx, conv, assistantMsg, tc, round, emit)
			assistantMsg.AddToolResultChunk(tc.ID, tc.Function.Name, result, isErr, round)
			o.saveMessage(assistantMsg)
			history = append(history, schema.ToolMessage(result, tc.ID))
		}
	}

	return maxRounds, fmt.Errorf("%w after %d rounds", ErrRoundCapExceeded, maxRounds)
}

// streamRound streams one model response, forwarding content and thinking
// deltas, and returns the concatenated message.
func (o *Orchestrator) streamRound(ctx context.Context, chatModel einoModel.ToolCallingChatModel, history []*schema.Message, enableThinking bool, thinkingAnnounced *bool, emit func(models.StreamFrame)) (*schema.Message, error) {
	sr, err := chatModel.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("model stream recv: %w", err)
		}
		chunks = append(chunks, chunk)

		if chunk.ReasoningContent != "" && enableThinking {
			if !*thinkingAnnounced {
				emit(models.StreamFrame{Status: models.StatusThinking})
				*thinkingAnnounced = true
			}
			emit(models.StreamFrame{Thinking: chunk.ReasoningContent})
		}
		if chunk.Content != "" {
			emit(models.StreamFrame{Content: chunk.Content})
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("model produced no output")
	}
	streamed, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat stream chunks: %w", err)
	}
	return streamed, nil
}

// executeToolCall runs one tool call through validation, the approval gate
// and execution. Failures never abort the turn: the error text is returned
// as the tool result so the model can react to it.
func (o *Orchestrator) executeToolCall(ctx context.Context, conv *db.Conversation, assistantMsg *db.Message, tc schema.ToolCall, round int, emit func(models.StreamFrame)) (result string, isError bool) {
	toolID := tools.ToolID(tc.Function.Name)

	record := &db.ToolCall{
		ID:             tc.ID,
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		ToolName:       tc.Function.Name,
		Input:          tc.Function.Arguments,
		Status:         db.ToolCallStatusRunning,
	}

	if !tools.IsRegistered(toolID) {
		record.Status = db.ToolCallStatusFailed
		record.Error = "unknown tool"
		if err := o.store.CreateToolCall(record); err != nil {
			o.logger.Warn("persist tool call failed", "error", err)
		}
		msg := fmt.Sprintf("Error: unknown tool %q. Use only the tools provided.", tc.Function.Name)
		emit(models.StreamFrame{CommandOutput: msg, CommandStatus: models.CommandStatusError})
		return msg, true
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
		input = map[string]any{}
	}

	if tools.RequiresApproval(toolID, input) {
		record.Status = db.ToolCallStatusPendingApproval
		if err := o.store.CreateToolCall(record); err != nil {
			o.logger.Warn("persist tool call failed", "error", err)
		}

		command, _ := input["command"].(string)
		// The pending entry must exist before the client learns about it, or
		// an immediate resolve races into ErrApprovalExpired.
		decision := o.gate.Submit(conv.ID, tc.ID, tc.Function.Name, command)
		emit(models.StreamFrame{Approval: &models.ApprovalNotice{
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Command:    command,
		}})
		d := o.gate.Await(ctx, tc.ID, decision)
		if !d.Approved {
			record.Status = db.ToolCallStatusFailed
			reason := "Tool call was rejected by the user."
			if d.TimedOut {
				reason = "Tool call approval timed out and was rejected."
			}
			record.Error = reason
			now := time.Now()
			record.FinishedAt = &now
			o.updateToolCall(record)
			emit(models.StreamFrame{CommandOutput: reason, CommandStatus: models.CommandStatusError})
			return reason, true
		}
		record.Status = db.ToolCallStatusRunning
	} else {
		if err := o.store.CreateToolCall(record); err != nil {
			o.logger.Warn("persist tool call failed", "error", err)
		}
	}

	now := time.Now()
	record.StartedAt = &now
	o.updateToolCall(record)

	event.Emit(event.ToolCallStartedEvent{
		ConversationID: conv.ID,
		ToolCallID:     tc.ID,
		ToolName:       tc.Function.Name,
	})
	emit(models.StreamFrame{
		CommandOutput: fmt.Sprintf("$ %s %s", tc.Function.Name, tc.Function.Arguments),
		CommandStatus: models.CommandStatusRunning,
	})

	invokable, err := tools.GetTool(toolID, o.toolContext(conv))
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
		isError = true
	} else {
		execCtx, cancel := context.WithTimeout(ctx, tools.Timeout(toolID, o.cfg.ToolTimeout()))
		result, err = invokable.InvokableRun(execCtx, tc.Function.Arguments)
		cancel()
		if err != nil {
			result = fmt.Sprintf("Error: tool execution failed: %v", err)
			isError = true
		} else {
			isError = strings.HasPrefix(result, "Error:")
		}
	}

	finished := time.Now()
	record.FinishedAt = &finished
	if isError {
		record.Status = db.ToolCallStatusFailed
		record.Error = result
	} else {
		record.Status = db.ToolCallStatusCompleted
		record.Output = result
	}
	o.updateToolCall(record)

	event.Emit(event.ToolCallFinishedEvent{
		ConversationID: conv.ID,
		ToolCallID:     tc.ID,
		ToolName:       tc.Function.Name,
		Status:         record.Status,
	})

	status := models.CommandStatusSuccess
	if isError {
		status = models.CommandStatusError
	}
	emit(models.StreamFrame{CommandOutput: result, CommandStatus: status})
	return result, isError
}

// researchPhase runs a quick web search before the agent loop. Failures are
// logged and skipped; research never blocks the turn.
func (o *Orchestrator) researchPhase(ctx context.Context, query string) string {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.ResearchTimeout())
	defer cancel()

	findings, err := o.searcher.Search(rctx, query)
	if err != nil {
		o.logger.Warn("research phase failed", "error", err)
		return ""
	}
	return findings
}

// afterTurn handles post-turn housekeeping: title generation for fresh
// conversations and memory compaction. Both run in the background with
// their own deadline.
func (o *Orchestrator) afterTurn(conv *db.Conversation, firstUserContent string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if conv.Title == "" || conv.Title == "New Conversation" {
			o.generateTitle(ctx, conv, firstUserContent)
		}

		need, err := o.memory.NeedsCompaction(conv.ID)
		if err != nil {
			o.logger.Warn("compaction check failed", "conversation_id", conv.ID, "error", err)
			return
		}
		if need {
			if _, err := o.memory.Compact(ctx, conv.ID); err != nil {
				o.logger.Warn("compaction failed", "conversation_id", conv.ID, "error", err)
			}
		}
	}()
}

func (o *Orchestrator) generateTitle(ctx context.Context, conv *db.Conversation, content string) {
	titleModel, err := o.summaryModel(ctx)
	if err != nil {
		o.logger.Warn("title model unavailable", "error", err)
		return
	}
	resp, err := titleModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titlePrompt),
		schema.UserMessage(content),
	})
	if err != nil {
		o.logger.Warn("title generation failed", "error", err)
		return
	}

	title := strings.TrimSpace(strings.Trim(resp.Content, "\"'"))
	if title == "" {
		return
	}
	if len(title) > 200 {
		title = title[:200]
	}
	conv.Title = title
	if err := o.store.UpdateConversation(conv); err != nil {
		o.logger.Warn("title update failed", "error", err)
	}
}

func (o *Orchestrator) toolContext(conv *db.Conversation) *tools.ToolContext {
	tc := tools.NewToolContext(o.executor, o.store).
		WithFiles(o.files).
		WithSearcher(o.searcher).
		WithConversation(conv.ID)
	if conv.ServerID != nil {
		tc = tc.WithServer(*conv.ServerID)
	}
	return tc
}

func (o *Orchestrator) saveMessage(msg *db.Message) {
	if err := o.store.UpdateMessage(msg); err != nil {
		o.logger.Error("save message failed", "message_id", msg.ID, "error", err)
	}
}

func (o *Orchestrator) updateToolCall(tc *db.ToolCall) {
	if err := o.store.UpdateToolCall(tc); err != nil {
		o.logger.Warn("update tool call failed", "tool_call_id", tc.ID, "error", err)
	}
}

func (o *Orchestrator) fail(conversationID string, emit func(models.StreamFrame), err error) {
	o.logger.Error("turn failed", "conversation_id", conversationID, "error", err)
	emit(models.StreamFrame{Error: err.Error()})
	event.Emit(event.TurnFailedEvent{ConversationID: conversationID, Reason: err.Error()})
}
