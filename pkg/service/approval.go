package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/utils"
)

// ErrApprovalExpired is returned when resolving an approval that no longer
// exists: unknown ID, already decided, timed out, or released by a cancelled
// turn.
var ErrApprovalExpired = errors.New("approval request already expired")

// ApprovalDecision is the outcome of one gated tool call.
type ApprovalDecision struct {
	Approved bool
	TimedOut bool
}

type pendingApproval struct {
	conversationID string
	toolName       string
	decision       chan ApprovalDecision
}

// ApprovalGate coordinates human approval of dangerous tool calls. The
// orchestrator submits a request and blocks on Await; an API caller resolves
// it by tool call ID. Exactly one resolution wins.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	timeout time.Duration
	logger  *slog.Logger
}

func NewApprovalGate(timeout time.Duration) *ApprovalGate {
	return &ApprovalGate{
		pending: make(map[string]*pendingApproval),
		timeout: timeout,
		logger:  utils.GetLogger(),
	}
}

// Submit registers a pending approval and emits approval.pending. The
// returned channel receives exactly one decision.
func (g *ApprovalGate) Submit(conversationID, toolCallID, toolName, command string) <-chan ApprovalDecision {
	p := &pendingApproval{
		conversationID: conversationID,
		toolName:       toolName,
		decision:       make(chan ApprovalDecision, 1),
	}

	g.mu.Lock()
	g.pending[toolCallID] = p
	g.mu.Unlock()

	g.logger.Info("approval requested",
		"conversation_id", conversationID,
		"tool_call_id", toolCallID,
		"tool", toolName)

	event.Emit(event.ApprovalPendingEvent{
		ConversationID: conversationID,
		ToolCallID:     toolCallID,
		ToolName:       toolName,
		Command:        command,
	})

	return p.decision
}

// Resolve decides a pending approval. The first resolution wins; any later
// call for the same ID gets ErrApprovalExpired.
func (g *ApprovalGate) Resolve(toolCallID string, approved bool) error {
	g.mu.Lock()
	p, ok := g.pending[toolCallID]
	if ok {
		delete(g.pending, toolCallID)
	}
	g.mu.Unlock()

	if !ok {
		return ErrApprovalExpired
	}

	p.decision <- ApprovalDecision{Approved: approved}

	event.Emit(event.ApprovalResolvedEvent{
		ConversationID: p.conversationID,
		ToolCallID:     toolCallID,
		Approved:       approved,
	})
	return nil
}

// Await blocks until the approval is decided, the timeout elapses, or the
// turn context is cancelled. Timeout and cancellation count as rejection and
// expire the request.
func (g *ApprovalGate) Await(ctx context.Context, toolCallID string, decision <-chan ApprovalDecision) ApprovalDecision {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case d := <-decision:
		return d
	case <-timer.C:
		g.expire(toolCallID, true)
		return ApprovalDecision{Approved: false, TimedOut: true}
	case <-ctx.Done():
		g.expire(toolCallID, false)
		return ApprovalDecision{Approved: false}
	}
}

// expire removes a pending entry that was not resolved in time. A concurrent
// Resolve may have already claimed it; that resolution stands but the
// decision channel is buffered and the waiter has moved on.
func (g *ApprovalGate) expire(toolCallID string, timedOut bool) {
	g.mu.Lock()
	p, ok := g.pending[toolCallID]
	if ok {
		delete(g.pending, toolCallID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}

	g.logger.Info("approval expired",
		"conversation_id", p.conversationID,
		"tool_call_id", toolCallID,
		"timed_out", timedOut)

	event.Emit(event.ApprovalResolvedEvent{
		ConversationID: p.conversationID,
		ToolCallID:     toolCallID,
		Approved:       false,
		TimedOut:       timedOut,
	})
}

// RejectAll expires every pending approval for a conversation. Called on
// turn cancellation.
func (g *ApprovalGate) RejectAll(conversationID string) {
	g.mu.Lock()
	var ids []string
	for id, p := range g.pending {
		if p.conversationID == conversationID {
			ids = append(ids, id)
		}
	}
	var entries []*pendingApproval
	for _, id := range ids {
		entries = append(entries, g.pending[id])
		delete(g.pending, id)
	}
	g.mu.Unlock()

	for i, p := range entries {
		p.decision <- ApprovalDecision{Approved: false}
		event.Emit(event.ApprovalResolvedEvent{
			ConversationID: conversationID,
			ToolCallID:     ids[i],
			Approved:       false,
		})
	}
}

// PendingCount reports how many approvals are waiting, for diagnostics.
func (g *ApprovalGate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
