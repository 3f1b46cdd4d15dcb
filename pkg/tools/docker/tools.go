// Package docker provides container management tools executed on managed
// servers through the docker CLI.
package docker

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
		ID:          "docker_list",
		Name:        "Docker List",
		Description: "List containers on a managed server",
		Category:    tools.CategoryDocker,
	}, NewDockerListTool)

	tools.Register(tools.ToolDefinition{
		ID:          "docker_logs",
		Name:        "Docker Logs",
		Description: "Fetch container logs from a managed server",
		Category:    tools.CategoryDocker,
	}, NewDockerLogsTool)

	tools.Register(tools.ToolDefinition{
		ID:               "docker_manage",
		Name:             "Docker Manage",
		Description:      "Start, stop, restart or remove a container",
		Category:         tools.CategoryDocker,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: manageNeedsApproval,
	}, NewDockerManageTool)
}

// manageNeedsApproval flags actions that interrupt or destroy a container.
// Starting a stopped container is safe.
func manageNeedsApproval(input map[string]any) bool {
	action, _ := input["action"].(string)
	switch strings.ToLower(action) {
	case "stop", "remove", "kill":
		return true
	}
	return false
}

func runDocker(ctx context.Context, tc *tools.ToolContext, inputServerID, args string) (string, error) {
	serverID, err := tc.ResolveServer(inputServerID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	command := "docker " + args
	result, err := tc.Exec(ctx, serverID, command, 60)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Server: %s\n", tc.ServerName(serverID)))
	sb.WriteString(fmt.Sprintf("Command: %s\n", command))
	sb.WriteString(fmt.Sprintf("Exit Code: %d\n", result.ExitCode))
	if result.Stdout != "" {
		sb.WriteString(fmt.Sprintf("\n--- Output ---\n%s", result.Stdout))
	}
	if result.Stderr != "" {
		sb.WriteString(fmt.Sprintf("\n--- Stderr ---\n%s", result.Stderr))
	}
	return sb.String(), nil
}

// shellQuote wraps an argument in single quotes for safe interpolation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ---- Docker List Tool ----

type DockerListInput struct {
	ServerID string `json:"server_id,omitempty"`
	All      bool   `json:"all,omitempty"`
}

func NewDockerListTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "docker_list",
		Desc: "List docker containers on a managed server. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"all":       {Type: schema.Boolean, Required: false, Desc: "Include stopped containers (default: false)"},
		}),
	}, func(ctx context.Context, input *DockerListInput) (string, error) {
		args := "ps --format 'table {{.ID}}\\t{{.Names}}\\t{{.Image}}\\t{{.Status}}\\t{{.Ports}}'"
		if input.All {
			args = "ps -a --format 'table {{.ID}}\\t{{.Names}}\\t{{.Image}}\\t{{.Status}}\\t{{.Ports}}'"
		}
		return runDocker(ctx, tc, input.ServerID, args)
	})
}

// ---- Docker Logs Tool ----

type DockerLogsInput struct {
	ServerID  string `json:"server_id,omitempty"`
	Container string `json:"container"`
	Tail      int    `json:"tail,omitempty"`
}

func NewDockerLogsTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "docker_logs",
		Desc: "Fetch recent logs of a docker container. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"container": {Type: schema.String, Required: true, Desc: "Container name or ID"},
			"tail":      {Type: schema.Integer, Required: false, Desc: "Number of trailing lines (default: 100)"},
		}),
	}, func(ctx context.Context, input *DockerLogsInput) (string, error) {
		tail := input.Tail
		if tail <= 0 {
			tail = 100
		}
		args := fmt.Sprintf("logs --tail %d %s 2>&1", tail, shellQuote(input.Container))
		return runDocker(ctx, tc, input.ServerID, args)
	})
}

// ---- Docker Manage Tool ----

type DockerManageInput struct {
	ServerID  string `json:"server_id,omitempty"`
	Container string `json:"container"`
	Action    string `json:"action"`
}

func NewDockerManageTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "docker_manage",
		Desc: "Manage a docker container: start, stop, restart, kill or remove.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"container": {Type: schema.String, Required: true, Desc: "Container name or ID"},
			"action":    {Type: schema.String, Required: true, Desc: "One of: start, stop, restart, kill, remove"},
		}),
	}, func(ctx context.Context, input *DockerManageInput) (string, error) {
		action := strings.ToLower(input.Action)
		switch action {
		case "start", "stop", "restart", "kill":
			// action maps directly to a docker subcommand
		case "remove":
			action = "rm"
		default:
			return fmt.Sprintf("Error: unsupported action %q (use start, stop, restart, kill or remove)", input.Action), nil
		}
		args := fmt.Sprintf("%s %s", action, shellQuote(input.Container))
		return runDocker(ctx, tc, input.ServerID, args)
	})
}
