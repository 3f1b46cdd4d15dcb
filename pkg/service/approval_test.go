package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApprovalGate_ApproveFlow(t *testing.T) {
	g := NewApprovalGate(time.Minute)

	decision := g.Submit("conv-1", "tc-1", "run_command", "rm -rf /tmp/x")
	if g.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", g.PendingCount())
	}

	if err := g.Resolve("tc-1", true); err != nil {
		t.Fatalf("Resolve(tc-1, true) error: %v", err)
	}

	d := g.Await(context.Background(), "tc-1", decision)
	if !d.Approved || d.TimedOut {
		t.Fatalf("Await = %+v, want approved without timeout", d)
	}
	if g.PendingCount() != 0 {
		t.Fatalf("PendingCount() after resolve = %d, want 0", g.PendingCount())
	}
}

func TestApprovalGate_Reject(t *testing.T) {
	g := NewApprovalGate(time.Minute)

	decision := g.Submit("conv-1", "tc-1", "run_command", "")
	if err := g.Resolve("tc-1", false); err != nil {
		t.Fatalf("Resolve(tc-1, false) error: %v", err)
	}

	d := g.Await(context.Background(), "tc-1", decision)
	if d.Approved {
		t.Fatalf("Await = %+v, want rejected", d)
	}
}

func TestApprovalGate_SecondResolveExpired(t *testing.T) {
	g := NewApprovalGate(time.Minute)

	g.Submit("conv-1", "tc-1", "run_command", "")
	if err := g.Resolve("tc-1", true); err != nil {
		t.Fatalf("first Resolve error: %v", err)
	}

	err := g.Resolve("tc-1", false)
	if !errors.Is(err, ErrApprovalExpired) {
		t.Fatalf("second Resolve error = %v, want ErrApprovalExpired", err)
	}
}

func TestApprovalGate_UnknownIDExpired(t *testing.T) {
	g := NewApprovalGate(time.Minute)
	if err := g.Resolve("never-submitted", true); !errors.Is(err, ErrApprovalExpired) {
		t.Fatalf("Resolve(unknown) error = %v, want ErrApprovalExpired", err)
	}
}

func TestApprovalGate_Timeout(t *testing.T) {
	g := NewApprovalGate(20 * time.Millisecond)

	decision := g.Submit("conv-1", "tc-1", "run_command", "")
	d := g.Await(context.Background(), "tc-1", decision)
	if d.Approved || !d.TimedOut {
		t.Fatalf("Await = %+v, want rejected with timeout", d)
	}

	// The request is gone; a late resolve must fail.
	if err := g.Resolve("tc-1", true); !errors.Is(err, ErrApprovalExpired) {
		t.Fatalf("late Resolve error = %v, want ErrApprovalExpired", err)
	}
}

func TestApprovalGate_ContextCancel(t *testing.T) {
	g := NewApprovalGate(time.Minute)

	decision := g.Submit("conv-1", "tc-1", "run_command", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := g.Await(ctx, "tc-1", decision)
	if d.Approved || d.TimedOut {
		t.Fatalf("Await after cancel = %+v, want plain rejection", d)
	}
}

func TestApprovalGate_RejectAll(t *testing.T) {
	g := NewApprovalGate(time.Minute)

	d1 := g.Submit("conv-1", "tc-1", "run_command", "")
	d2 := g.Submit("conv-1", "tc-2", "write_file", "")
	g.Submit("conv-2", "tc-3", "run_command", "")

	g.RejectAll("conv-1")

	for _, ch := range []<-chan ApprovalDecision{d1, d2} {
		select {
		case d := <-ch:
			if d.Approved {
				t.Fatalf("RejectAll delivered approval, want rejection")
			}
		default:
			t.Fatalf("RejectAll did not deliver a decision")
		}
	}

	// The other conversation is untouched.
	if g.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", g.PendingCount())
	}
	if err := g.Resolve("tc-3", true); err != nil {
		t.Fatalf("Resolve(tc-3) error: %v", err)
	}
}
