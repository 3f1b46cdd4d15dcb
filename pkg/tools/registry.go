// Package tools provides the infrastructure tool registry for the agent.
// Tools are registered at init time and treated as an immutable capability
// table afterwards; the orchestrator looks them up by name at call time.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"

	"github.com/opsloom/opsloom/pkg/models"
)

// ErrUnknownTool is returned for lookups of unregistered tool names.
var ErrUnknownTool = errors.New("unknown tool")

// ToolID identifies a built-in tool
type ToolID string

// ToolCategory represents the category of a tool
type ToolCategory string

// Tool categories
const (
	CategoryExec      ToolCategory = "exec"
	CategoryFiles     ToolCategory = "files"
	CategoryDocker    ToolCategory = "docker"
	CategoryWebserver ToolCategory = "webserver"
	CategoryBackup    ToolCategory = "backup"
	CategoryDatabase  ToolCategory = "database"
	CategoryResearch  ToolCategory = "research"
)

// ModesAllowingChanges lists the modes in which state-changing tools are
// exposed. Architect and plan turns are advisory and see read-only tools
// only.
var ModesAllowingChanges = []models.Mode{
	models.ModeChat,
	models.ModeDebug,
	models.ModeTest,
	models.ModeSupport,
}

// ApprovalPredicate decides, from the tool input alone, whether a call must
// pass the human approval gate before executing.
type ApprovalPredicate func(input map[string]any) bool

// AlwaysApprove flags every invocation for approval.
func AlwaysApprove(map[string]any) bool { return true }

// ToolDefinition describes a built-in tool
type ToolDefinition struct {
	ID          ToolID       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// Modes lists the operating modes the tool is exposed in.
	// Empty means all modes.
	Modes []models.Mode `json:"modes,omitempty"`

	// Timeout bounds one execution. Zero means the engine default applies.
	Timeout time.Duration `json:"-"`

	// RequiresApproval is evaluated per call over the parsed input.
	// Nil means the tool never needs approval.
	RequiresApproval ApprovalPredicate `json:"-"`
}

// ExposedIn reports whether the tool is available in the given mode.
func (d ToolDefinition) ExposedIn(mode models.Mode) bool {
	if len(d.Modes) == 0 {
		return true
	}
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// ToolFactory is a function that creates a tool instance
type ToolFactory func(ctx *ToolContext) tool.InvokableTool

// Registry manages built-in tools
type Registry struct {
	definitions map[ToolID]ToolDefinition
	factories   map[ToolID]ToolFactory
	mu          sync.RWMutex
}

// Global registry instance
var globalRegistry = &Registry{
	definitions: make(map[ToolID]ToolDefinition),
	factories:   make(map[ToolID]ToolFactory),
}

// Register registers a tool with its definition and factory
func Register(def ToolDefinition, factory ToolFactory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	globalRegistry.definitions[def.ID] = def
	globalRegistry.factories[def.ID] = factory
}

// GetTool returns an invokable tool by ID
func GetTool(id ToolID, ctx *ToolContext) (tool.InvokableTool, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	factory, exists := globalRegistry.factories[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	return factory(ctx), nil
}

// GetToolDefinition returns a tool definition by ID
func GetToolDefinition(id ToolID) (ToolDefinition, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	def, ok := globalRegistry.definitions[id]
	return def, ok
}

// ListToolDefinitions returns all available tool definitions sorted by
// category and name.
func ListToolDefinitions() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(globalRegistry.definitions))
	for _, def := range globalRegistry.definitions {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// ListToolDefinitionsForMode returns the definitions exposed in a mode,
// sorted by category and name.
func ListToolDefinitionsForMode(mode models.Mode) []ToolDefinition {
	all := ListToolDefinitions()
	result := make([]ToolDefinition, 0, len(all))
	for _, def := range all {
		if def.ExposedIn(mode) {
			result = append(result, def)
		}
	}
	return result
}

// RequiresApproval evaluates the tool's approval predicate over a parsed
// input. Unknown tools never reach execution, so the result for them is
// irrelevant; false is returned.
func RequiresApproval(id ToolID, input map[string]any) bool {
	def, ok := GetToolDefinition(id)
	if !ok || def.RequiresApproval == nil {
		return false
	}
	return def.RequiresApproval(input)
}

// Timeout returns the tool's execution timeout, falling back to def when
// the tool does not declare one.
func Timeout(id ToolID, fallback time.Duration) time.Duration {
	d, ok := GetToolDefinition(id)
	if !ok || d.Timeout <= 0 {
		return fallback
	}
	return d.Timeout
}

// IsRegistered checks if a tool ID is registered
func IsRegistered(id ToolID) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	_, exists := globalRegistry.definitions[id]
	return exists
}
