package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/models"
)

type noopInput struct{}

func noopFactory(tc *ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name:        "noop",
		Desc:        "does nothing",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, func(ctx context.Context, input *noopInput) (string, error) {
		return "ok", nil
	})
}

func TestRegisterAndGetTool(t *testing.T) {
	Register(ToolDefinition{
		ID:       "test_noop",
		Name:     "Test Noop",
		Category: CategoryExec,
	}, noopFactory)

	if !IsRegistered("test_noop") {
		t.Fatalf("IsRegistered(test_noop) = false, want true")
	}

	tl, err := GetTool("test_noop", &ToolContext{})
	if err != nil {
		t.Fatalf("GetTool(test_noop) error: %v", err)
	}
	if tl == nil {
		t.Fatalf("GetTool(test_noop) returned nil tool")
	}
}

func TestGetTool_Unknown(t *testing.T) {
	_, err := GetTool("does_not_exist", &ToolContext{})
	if err == nil {
		t.Fatalf("GetTool(does_not_exist) error = nil, want error")
	}
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("GetTool(does_not_exist) error = %v, want ErrUnknownTool", err)
	}
}

func TestExposedIn(t *testing.T) {
	tests := []struct {
		name  string
		modes []models.Mode
		mode  models.Mode
		want  bool
	}{
		{"empty exposes all", nil, models.ModeChat, true},
		{"listed mode", []models.Mode{models.ModeDebug, models.ModeTest}, models.ModeDebug, true},
		{"unlisted mode", []models.Mode{models.ModeDebug}, models.ModeChat, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := ToolDefinition{ID: "x", Modes: tt.modes}
			if got := def.ExposedIn(tt.mode); got != tt.want {
				t.Fatalf("ExposedIn(%s) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestRequiresApproval(t *testing.T) {
	Register(ToolDefinition{
		ID:               "test_gated",
		Name:             "Test Gated",
		Category:         CategoryExec,
		RequiresApproval: AlwaysApprove,
	}, noopFactory)
	Register(ToolDefinition{
		ID:       "test_open",
		Name:     "Test Open",
		Category: CategoryExec,
	}, noopFactory)

	if !RequiresApproval("test_gated", map[string]any{}) {
		t.Fatalf("RequiresApproval(test_gated) = false, want true")
	}
	if RequiresApproval("test_open", map[string]any{}) {
		t.Fatalf("RequiresApproval(test_open) = true, want false")
	}
	if RequiresApproval("does_not_exist", map[string]any{}) {
		t.Fatalf("RequiresApproval(does_not_exist) = true, want false")
	}
}

func TestTimeout(t *testing.T) {
	Register(ToolDefinition{
		ID:      "test_slow",
		Name:    "Test Slow",
		Timeout: 5 * time.Minute,
	}, noopFactory)

	if got := Timeout("test_slow", time.Minute); got != 5*time.Minute {
		t.Fatalf("Timeout(test_slow) = %v, want 5m", got)
	}
	if got := Timeout("does_not_exist", time.Minute); got != time.Minute {
		t.Fatalf("Timeout(does_not_exist) = %v, want fallback 1m", got)
	}
}

func TestListToolDefinitions_Sorted(t *testing.T) {
	defs := ListToolDefinitions()
	for i := 1; i < len(defs); i++ {
		prev, cur := defs[i-1], defs[i]
		if prev.Category > cur.Category {
			t.Fatalf("definitions not sorted by category: %s before %s", prev.Category, cur.Category)
		}
		if prev.Category == cur.Category && prev.Name > cur.Name {
			t.Fatalf("definitions not sorted by name within %s: %s before %s", cur.Category, prev.Name, cur.Name)
		}
	}
}

func TestResolveServer(t *testing.T) {
	bound := &ToolContext{ServerID: "srv-1"}
	unbound := &ToolContext{}

	if got, err := bound.ResolveServer("srv-2"); err != nil || got != "srv-2" {
		t.Fatalf("ResolveServer(srv-2) = %q, %v; want srv-2, nil", got, err)
	}
	if got, err := bound.ResolveServer(""); err != nil || got != "srv-1" {
		t.Fatalf("ResolveServer(\"\") = %q, %v; want srv-1, nil", got, err)
	}
	if _, err := unbound.ResolveServer(""); err == nil {
		t.Fatalf("ResolveServer on unbound context = nil error, want error")
	}
}
