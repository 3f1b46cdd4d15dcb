// Package backup provides archive creation and inspection tools on managed
// servers.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/tools"
)

// defaultBackupDir is where archives land when the caller does not pick a
// destination.
const defaultBackupDir = "/var/backups/opsloom"

func init() {
	tools.Register(tools.ToolDefinition{
		ID:               "backup_create",
		Name:             "Backup Create",
		Description:      "Create a tar.gz archive of a path on a managed server",
		Category:         tools.CategoryBackup,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: tools.AlwaysApprove,
	}, NewBackupCreateTool)

	tools.Register(tools.ToolDefinition{
		ID:          "backup_list",
		Name:        "Backup List",
		Description: "List existing backup archives on a managed server",
		Category:    tools.CategoryBackup,
	}, NewBackupListTool)
}

func runOn(ctx context.Context, tc *tools.ToolContext, inputServerID, command string, timeout int) (string, error) {
	serverID, err := tc.ResolveServer(inputServerID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	result, err := tc.Exec(ctx, serverID, command, timeout)
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

// ---- Backup Create Tool ----

type BackupCreateInput struct {
	ServerID  string `json:"server_id,omitempty"`
	Path      string `json:"path"`
	Dest      string `json:"dest,omitempty"`
	Label     string `json:"label,omitempty"`
}

func NewBackupCreateTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "backup_create",
		Desc: "Create a gzip-compressed tar archive of a directory or file on a managed server. The archive name includes a timestamp.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"path":      {Type: schema.String, Required: true, Desc: "Absolute path to archive"},
			"dest":      {Type: schema.String, Required: false, Desc: "Destination directory for the archive (default: " + defaultBackupDir + ")"},
			"label":     {Type: schema.String, Required: false, Desc: "Short label used in the archive file name"},
		}),
	}, func(ctx context.Context, input *BackupCreateInput) (string, error) {
		dest := input.Dest
		if dest == "" {
			dest = defaultBackupDir
		}
		label := input.Label
		if label == "" {
			label = "backup"
		}
		label = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
				return r
			}
			return '-'
		}, label)

		archive := fmt.Sprintf("%s/%s-%s.tar.gz", dest, label, time.Now().UTC().Format("20060102-150405"))
		command := fmt.Sprintf("mkdir -p %s && tar -czf %s -C / %s && ls -lh %s",
			shellQuote(dest), shellQuote(archive), shellQuote(strings.TrimPrefix(input.Path, "/")), shellQuote(archive))
		return runOn(ctx, tc, input.ServerID, command, 600)
	})
}

// ---- Backup List Tool ----

type BackupListInput struct {
	ServerID string `json:"server_id,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

func NewBackupListTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "backup_list",
		Desc: "List backup archives in a directory on a managed server, newest first. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"dir":       {Type: schema.String, Required: false, Desc: "Directory to inspect (default: " + defaultBackupDir + ")"},
		}),
	}, func(ctx context.Context, input *BackupListInput) (string, error) {
		dir := input.Dir
		if dir == "" {
			dir = defaultBackupDir
		}
		command := fmt.Sprintf("ls -lht %s 2>/dev/null || echo 'no backups found'", shellQuote(dir))
		return runOn(ctx, tc, input.ServerID, command, 30)
	})
}
