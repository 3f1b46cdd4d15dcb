// Package exec provides shell command execution tools on managed servers.
package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/tools"
)

func init() {
	tools.Register(tools.ToolDefinition{
		ID:               "run_command",
		Name:             "Run Command",
		Description:      "Execute a shell command on a managed server",
		Category:         tools.CategoryExec,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: commandNeedsApproval,
	}, NewRunCommandTool)

	tools.Register(tools.ToolDefinition{
		ID:               "run_script",
		Name:             "Run Script",
		Description:      "Execute a multi-line script on a managed server",
		Category:         tools.CategoryExec,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: commandNeedsApproval,
	}, NewRunScriptTool)

	tools.Register(tools.ToolDefinition{
		ID:          "service_status",
		Name:        "Service Status",
		Description: "Check systemd service status on a managed server",
		Category:    tools.CategoryExec,
	}, NewServiceStatusTool)
}

// formatExecResult renders a command result for the model context.
func formatExecResult(tc *tools.ToolContext, serverID, command string, result *tools.ExecResult, err error) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Server: %s\n", tc.ServerName(serverID)))
	sb.WriteString(fmt.Sprintf("Command: %s\n", command))

	if err != nil {
		sb.WriteString(fmt.Sprintf("Error: %v\n", err))
		if result != nil && result.Stdout != "" {
			sb.WriteString(fmt.Sprintf("\nOutput:\n%s", result.Stdout))
		}
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Exit Code: %d\n", result.ExitCode))
	if result.Stdout != "" {
		sb.WriteString(fmt.Sprintf("\n--- Output ---\n%s", result.Stdout))
	}
	if result.Stderr != "" {
		sb.WriteString(fmt.Sprintf("\n--- Stderr ---\n%s", result.Stderr))
	}
	return sb.String()
}

// ---- Run Command Tool ----

type RunCommandInput struct {
	ServerID       string `json:"server_id,omitempty"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func NewRunCommandTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "run_command",
		Desc: "Execute a shell command on a managed server over SSH. Returns stdout, stderr and exit code. Use for diagnostics, file operations and running programs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id":       {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"command":         {Type: schema.String, Required: true, Desc: "Command to execute"},
			"timeout_seconds": {Type: schema.Integer, Required: false, Desc: "Command timeout in seconds (default: 30)"},
		}),
	}, func(ctx context.Context, input *RunCommandInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		result, err := tc.Exec(ctx, serverID, input.Command, input.TimeoutSeconds)
		return formatExecResult(tc, serverID, input.Command, result, err), nil
	})
}

// ---- Run Script Tool ----

type RunScriptInput struct {
	ServerID       string `json:"server_id,omitempty"`
	Script         string `json:"script"`
	Shell          string `json:"shell,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func NewRunScriptTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "run_script",
		Desc: "Execute a multi-line shell script on a managed server. Useful for operations that require several commands in sequence.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id":       {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"script":          {Type: schema.String, Required: true, Desc: "Shell script content to execute"},
			"shell":           {Type: schema.String, Required: false, Desc: "Shell to use (default: /bin/sh)"},
			"timeout_seconds": {Type: schema.Integer, Required: false, Desc: "Script timeout in seconds (default: 60)"},
		}),
	}, func(ctx context.Context, input *RunScriptInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		shell := input.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		timeout := input.TimeoutSeconds
		if timeout <= 0 {
			timeout = 60
		}

		command := fmt.Sprintf("%s << 'SCRIPT_EOF'\n%s\nSCRIPT_EOF", shell, input.Script)
		result, err := tc.Exec(ctx, serverID, command, timeout)
		return formatExecResult(tc, serverID, "script via "+shell, result, err), nil
	})
}

// ---- Service Status Tool ----

type ServiceStatusInput struct {
	ServerID string `json:"server_id,omitempty"`
	Service  string `json:"service,omitempty"`
}

func NewServiceStatusTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "service_status",
		Desc: "Check the status of a systemd service, or list failed units when no service is given. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"service":   {Type: schema.String, Required: false, Desc: "Service name, e.g. nginx"},
		}),
	}, func(ctx context.Context, input *ServiceStatusInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		command := "systemctl --failed --no-pager"
		if input.Service != "" {
			command = fmt.Sprintf("systemctl status %s --no-pager -l", shellQuote(input.Service))
		}

		result, err := tc.Exec(ctx, serverID, command, 30)
		return formatExecResult(tc, serverID, command, result, err), nil
	})
}

// shellQuote wraps an argument in single quotes for safe interpolation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
