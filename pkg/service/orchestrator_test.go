package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/tools"
)

// fakeModel replays scripted stream chunks, one script entry per round.
type fakeModel struct {
	rounds     [][]*schema.Message
	call       int
	inputs     [][]*schema.Message
	boundTools []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	sr, err := f.Stream(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if err != nil {
			break
		}
		chunks = append(chunks, chunk)
	}
	return schema.ConcatMessages(chunks)
}

func (f *fakeModel) Stream(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	idx := f.call
	if idx >= len(f.rounds) {
		idx = len(f.rounds) - 1
	}
	f.call++
	f.inputs = append(f.inputs, in)
	return schema.StreamReaderFromArray(f.rounds[idx]), nil
}

func (f *fakeModel) WithTools(infos []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	f.boundTools = infos
	return f, nil
}

// blockingModel parks until released, to hold a turn open.
type blockingModel struct {
	release chan struct{}
}

func (b *blockingModel) Generate(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (b *blockingModel) Stream(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	select {
	case <-b.release:
		return schema.StreamReaderFromArray([]*schema.Message{assistantChunk("ok")}), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingModel) WithTools(infos []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	return b, nil
}

func assistantChunk(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

func assistantToolCall(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

type echoInput struct {
	Text string `json:"text"`
}

type gatedInput struct {
	Command string `json:"command"`
}

type searchInput struct {
	Query string `json:"query"`
}

func init() {
	tools.Register(tools.ToolDefinition{
		ID:       "orch_echo",
		Name:     "Orch Echo",
		Category: tools.CategoryExec,
	}, func(tc *tools.ToolContext) tool.InvokableTool {
		return utils.NewTool(&schema.ToolInfo{
			Name: "orch_echo",
			Desc: "echoes",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"text": {Type: schema.String, Required: true},
			}),
		}, func(ctx context.Context, input *echoInput) (string, error) {
			return "echo: " + input.Text, nil
		})
	})

	tools.Register(tools.ToolDefinition{
		ID:               "orch_gated",
		Name:             "Orch Gated",
		Category:         tools.CategoryExec,
		RequiresApproval: tools.AlwaysApprove,
	}, func(tc *tools.ToolContext) tool.InvokableTool {
		return utils.NewTool(&schema.ToolInfo{
			Name: "orch_gated",
			Desc: "needs approval",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"command": {Type: schema.String, Required: true},
			}),
		}, func(ctx context.Context, input *gatedInput) (string, error) {
			return "executed", nil
		})
	})

	tools.Register(tools.ToolDefinition{
		ID:       "orch_search",
		Name:     "Orch Search",
		Category: tools.CategoryResearch,
	}, func(tc *tools.ToolContext) tool.InvokableTool {
		return utils.NewTool(&schema.ToolInfo{
			Name: "orch_search",
			Desc: "searches",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Required: true},
			}),
		}, func(ctx context.Context, input *searchInput) (string, error) {
			return "results", nil
		})
	})
}

func newTestOrchestrator(t *testing.T, cfg *config.AppConfig, m einoModel.ToolCallingChatModel) (*Orchestrator, *ChatStore) {
	t.Helper()
	store := newTestStore(t)
	ms := NewModelService(cfg)
	memory := NewMemoryManager(store, cfg, ms)
	gate := NewApprovalGate(cfg.ApprovalTimeout())

	o := NewOrchestrator(store, cfg, ms, memory, gate, nil, nil, nil)
	o.createModel = func(ctx context.Context, modelID string) (einoModel.ToolCallingChatModel, error) {
		return m, nil
	}
	o.summaryModel = func(ctx context.Context) (einoModel.ToolCallingChatModel, error) {
		return &fakeModel{rounds: [][]*schema.Message{{assistantChunk("Test Title")}}}, nil
	}
	return o, store
}

func collectFrames(t *testing.T, frames <-chan models.StreamFrame) []models.StreamFrame {
	t.Helper()
	var out []models.StreamFrame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatalf("timed out collecting frames, got %d so far", len(out))
		}
	}
}

func TestRunTurn_SimpleText(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{
		{assistantChunk("Hello "), assistantChunk("world")},
	}}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content:   "hi",
		ForceMode: "chat",
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	got := collectFrames(t, frames)

	if len(got) < 3 {
		t.Fatalf("got %d frames, want at least mode, content, done", len(got))
	}
	if got[0].Mode != "chat" {
		t.Fatalf("first frame = %+v, want mode frame", got[0])
	}
	last := got[len(got)-1]
	if !last.Done {
		t.Fatalf("last frame = %+v, want done", last)
	}

	// Concatenated content frames equal the persisted message content.
	var streamed strings.Builder
	for _, f := range got {
		streamed.WriteString(f.Content)
	}
	convs, err := store.ListConversations()
	if err != nil || len(convs) != 1 {
		t.Fatalf("ListConversations() = %d convs, err %v", len(convs), err)
	}
	msgs, err := store.ListMessages(convs[0].ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Content != "Hello world" || assistant.Content != streamed.String() {
		t.Fatalf("assistant content %q, streamed %q, want both 'Hello world'", assistant.Content, streamed.String())
	}
	if assistant.Status != db.MessageStatusCompleted || assistant.FinishReason != db.FinishReasonStop {
		t.Fatalf("assistant status %s/%s, want completed/stop", assistant.Status, assistant.FinishReason)
	}
}

func TestRunTurn_Validation(t *testing.T) {
	o, _ := newTestOrchestrator(t, &config.AppConfig{}, &fakeModel{rounds: [][]*schema.Message{{assistantChunk("x")}}})

	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "   "}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("empty content error = %v, want ErrEmptyContent", err)
	}
	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "hi", ForceMode: "turbo"}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("bad forceMode error = %v, want ErrInvalidMode", err)
	}
	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "hi", ConversationID: "missing", ForceMode: "chat"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown conversation error = %v, want ErrNotFound", err)
	}
	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "hi", ForceMode: "chat", CustomAgentID: "nope"}); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("unknown agent error = %v, want ErrUnknownAgent", err)
	}
	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "hi", ForceMode: "chat",
		Attachments: []models.Attachment{{Name: "notes.txt"}},
	}); !errors.Is(err, ErrInvalidAttachment) {
		t.Fatalf("empty attachment error = %v, want ErrInvalidAttachment", err)
	}
	if _, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "hi", ForceMode: "chat",
		Attachments: []models.Attachment{{Content: "data"}},
	}); !errors.Is(err, ErrInvalidAttachment) {
		t.Fatalf("nameless attachment error = %v, want ErrInvalidAttachment", err)
	}
}

func TestRunTurn_CustomAgentPrompt(t *testing.T) {
	cfg := &config.AppConfig{Agents: map[string]string{
		"dba": "You are a careful database administrator.",
	}}
	m := &fakeModel{rounds: [][]*schema.Message{{assistantChunk("ok")}}}
	o, _ := newTestOrchestrator(t, cfg, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "check replication lag", ForceMode: "chat", CustomAgentID: "dba",
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	collectFrames(t, frames)

	if len(m.inputs) == 0 || len(m.inputs[0]) == 0 {
		t.Fatalf("model never received input")
	}
	system := m.inputs[0][0]
	if system.Role != schema.System || !strings.Contains(system.Content, "careful database administrator") {
		t.Fatalf("system prompt does not carry the custom agent persona: %q", system.Content)
	}
}

func TestRunTurn_AttachmentInContext(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{{assistantChunk("read it")}}}
	o, _ := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "summarize this config", ForceMode: "chat",
		Attachments: []models.Attachment{{Name: "nginx.conf", Content: "worker_processes auto;"}},
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	collectFrames(t, frames)

	var found bool
	for _, msg := range m.inputs[0] {
		if strings.Contains(msg.Content, "worker_processes auto;") {
			found = true
		}
	}
	if !found {
		t.Fatalf("attachment content missing from model context")
	}
}

func TestRunTurn_ResearchToolGating(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{{assistantChunk("ok")}}}
	o, _ := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "x", ForceMode: "chat"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	collectFrames(t, frames)
	if len(m.boundTools) == 0 {
		t.Fatalf("no tools bound with research disabled")
	}
	for _, info := range m.boundTools {
		if info.Name == "orch_search" {
			t.Fatalf("research tool bound with research disabled")
		}
	}

	m2 := &fakeModel{rounds: m.rounds}
	o2, _ := newTestOrchestrator(t, &config.AppConfig{}, m2)
	frames2, err := o2.RunTurn(context.Background(), &models.TurnRequest{
		Content: "x", ForceMode: "chat", EnableResearch: true,
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	collectFrames(t, frames2)
	var found bool
	for _, info := range m2.boundTools {
		if info.Name == "orch_search" {
			found = true
		}
	}
	if !found {
		t.Fatalf("research tool not bound with research enabled")
	}
}

func TestRunTurn_ToolRound(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{
		{assistantToolCall("tc-1", "orch_echo", `{"text":"disk is full"}`)},
		{assistantChunk("The disk is full.")},
	}}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "check disk", ForceMode: "debug"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	got := collectFrames(t, frames)

	var sawRunning, sawSuccess bool
	for _, f := range got {
		if f.CommandStatus == models.CommandStatusRunning {
			sawRunning = true
		}
		if f.CommandStatus == models.CommandStatusSuccess && strings.Contains(f.CommandOutput, "echo: disk is full") {
			sawSuccess = true
		}
	}
	if !sawRunning || !sawSuccess {
		t.Fatalf("missing command frames: running=%v success=%v in %+v", sawRunning, sawSuccess, got)
	}

	convs, _ := store.ListConversations()
	calls, err := store.ListToolCalls(convs[0].ID)
	if err != nil || len(calls) != 1 {
		t.Fatalf("ListToolCalls() = %d, err %v; want 1", len(calls), err)
	}
	if calls[0].Status != db.ToolCallStatusCompleted {
		t.Fatalf("tool call status = %s, want completed", calls[0].Status)
	}

	msgs, _ := store.ListMessages(convs[0].ID)
	assistant := msgs[1]
	if !assistant.HasToolCalls() {
		t.Fatalf("assistant message has no tool call chunks")
	}
	if assistant.Content != "The disk is full." {
		t.Fatalf("assistant content = %q, want final text only", assistant.Content)
	}
}

func TestRunTurn_UnknownTool(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{
		{assistantToolCall("tc-1", "no_such_tool", `{}`)},
		{assistantChunk("recovered")},
	}}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "go", ForceMode: "chat"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	got := collectFrames(t, frames)

	var sawError bool
	for _, f := range got {
		if f.CommandStatus == models.CommandStatusError && strings.Contains(f.CommandOutput, "unknown tool") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("no unknown-tool error frame in %+v", got)
	}

	// The failure is folded into context; the turn still completes.
	if !got[len(got)-1].Done {
		t.Fatalf("turn did not complete after unknown tool")
	}
	convs, _ := store.ListConversations()
	calls, _ := store.ListToolCalls(convs[0].ID)
	if len(calls) != 1 || calls[0].Status != db.ToolCallStatusFailed {
		t.Fatalf("unknown tool call not recorded as failed: %+v", calls)
	}
}

func TestRunTurn_NonConvergence(t *testing.T) {
	cfg := &config.AppConfig{Agent: config.AgentConfig{MaxRounds: intp(2)}}
	m := &fakeModel{rounds: [][]*schema.Message{
		{assistantToolCall("tc-1", "orch_echo", `{"text":"a"}`)},
		{assistantToolCall("tc-2", "orch_echo", `{"text":"b"}`)},
		{assistantToolCall("tc-3", "orch_echo", `{"text":"c"}`)},
	}}
	o, _ := newTestOrchestrator(t, cfg, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "loop", ForceMode: "chat"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	got := collectFrames(t, frames)

	var sawConvergenceError bool
	for _, f := range got {
		if strings.Contains(f.Error, "did not converge") {
			sawConvergenceError = true
		}
	}
	if !sawConvergenceError {
		t.Fatalf("no convergence error frame in %+v", got)
	}
	if !got[len(got)-1].Done {
		t.Fatalf("missing terminal done frame")
	}
}

func TestRunTurn_ApprovalReject(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{
		{assistantToolCall("tc-1", "orch_gated", `{"command":"rm -rf /"}`)},
		{assistantChunk("understood, not doing that")},
	}}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{Content: "wipe it", ForceMode: "chat"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}

	var got []models.StreamFrame
	timeout := time.After(5 * time.Second)
	for {
		var f models.StreamFrame
		var ok bool
		select {
		case f, ok = <-frames:
		case <-timeout:
			t.Fatalf("timed out waiting for frames")
		}
		if !ok {
			break
		}
		got = append(got, f)
		if f.Approval != nil {
			if f.Approval.ToolCallID != "tc-1" || f.Approval.Command != "rm -rf /" {
				t.Fatalf("approval frame = %+v", f.Approval)
			}
			// The pending entry is registered before the frame goes out, so
			// resolving right away must succeed.
			if o.gate.PendingCount() == 0 {
				t.Fatalf("approval frame arrived with no pending request registered")
			}
			if err := o.ResolveApproval("tc-1", false); err != nil {
				t.Fatalf("ResolveApproval() error: %v", err)
			}
		}
	}

	var sawRejection bool
	for _, f := range got {
		if f.CommandStatus == models.CommandStatusError && strings.Contains(f.CommandOutput, "rejected") {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Fatalf("no rejection frame in %+v", got)
	}

	convs, _ := store.ListConversations()
	calls, _ := store.ListToolCalls(convs[0].ID)
	if len(calls) != 1 || calls[0].Status != db.ToolCallStatusFailed {
		t.Fatalf("rejected tool call not failed: %+v", calls)
	}

	// A second resolve hits an expired request.
	if err := o.ResolveApproval("tc-1", true); !errors.Is(err, ErrApprovalExpired) {
		t.Fatalf("second resolve error = %v, want ErrApprovalExpired", err)
	}
}

func TestRunTurn_ConversationBusy(t *testing.T) {
	bm := &blockingModel{release: make(chan struct{})}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, bm)

	conv := &db.Conversation{}
	if err := store.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "first", ConversationID: conv.ID, ForceMode: "chat",
	})
	if err != nil {
		t.Fatalf("first RunTurn() error: %v", err)
	}

	_, err = o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "second", ConversationID: conv.ID, ForceMode: "chat",
	})
	if !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("second RunTurn() error = %v, want ErrConversationBusy", err)
	}

	close(bm.release)
	collectFrames(t, frames)

	// Conversation is free again.
	frames2, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "third", ConversationID: conv.ID, ForceMode: "chat",
	})
	if err != nil {
		t.Fatalf("third RunTurn() error: %v", err)
	}
	collectFrames(t, frames2)
}

func TestRunTurn_Cancel(t *testing.T) {
	bm := &blockingModel{release: make(chan struct{})}
	o, store := newTestOrchestrator(t, &config.AppConfig{}, bm)

	conv := &db.Conversation{}
	if err := store.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "slow", ConversationID: conv.ID, ForceMode: "chat",
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}

	if !o.Cancel(conv.ID) {
		t.Fatalf("Cancel() = false, want true")
	}
	collectFrames(t, frames)

	msgs, err := store.ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	// Partial assistant message persisted with cancelled finish reason.
	var found bool
	for _, msg := range msgs {
		if msg.Role == db.RoleAssistant {
			found = true
			if msg.FinishReason != db.FinishReasonCancelled {
				t.Fatalf("assistant FinishReason = %q, want cancelled", msg.FinishReason)
			}
		}
	}
	if !found {
		t.Fatalf("no assistant message persisted after cancel")
	}

	if o.Cancel(conv.ID) {
		t.Fatalf("Cancel() on idle conversation = true, want false")
	}
}

func TestRunTurn_ThinkingFrames(t *testing.T) {
	m := &fakeModel{rounds: [][]*schema.Message{
		{
			{Role: schema.Assistant, ReasoningContent: "the user wants a greeting"},
			assistantChunk("Hello!"),
		},
	}}
	o, _ := newTestOrchestrator(t, &config.AppConfig{}, m)

	frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
		Content: "hi", ForceMode: "chat", EnableThinking: true,
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	got := collectFrames(t, frames)

	var sawStatus, sawThinking bool
	for _, f := range got {
		if f.Status == models.StatusThinking {
			sawStatus = true
		}
		if f.Thinking != "" {
			sawThinking = true
		}
	}
	if !sawStatus || !sawThinking {
		t.Fatalf("thinking frames missing: status=%v thinking=%v", sawStatus, sawThinking)
	}

	// With thinking disabled no thinking frames appear.
	m2 := &fakeModel{rounds: m.rounds}
	o2, _ := newTestOrchestrator(t, &config.AppConfig{}, m2)
	frames2, err := o2.RunTurn(context.Background(), &models.TurnRequest{Content: "hi", ForceMode: "chat"})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	for _, f := range collectFrames(t, frames2) {
		if f.Thinking != "" || f.Status == models.StatusThinking {
			t.Fatalf("thinking frame leaked with thinking disabled: %+v", f)
		}
	}
}

func TestRunTurn_ForceModeIdentity(t *testing.T) {
	for _, mode := range models.AllModes {
		m := &fakeModel{rounds: [][]*schema.Message{{assistantChunk("ok")}}}
		o, _ := newTestOrchestrator(t, &config.AppConfig{}, m)

		frames, err := o.RunTurn(context.Background(), &models.TurnRequest{
			Content: "x", ForceMode: string(mode),
		})
		if err != nil {
			t.Fatalf("RunTurn(forceMode=%s) error: %v", mode, err)
		}
		got := collectFrames(t, frames)
		if got[0].Mode != string(mode) {
			t.Fatalf("mode frame = %q, want %q", got[0].Mode, mode)
		}
	}
}
