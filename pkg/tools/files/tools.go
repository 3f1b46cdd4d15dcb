// Package files provides remote file tools over SFTP.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/tools"
)

// maxReadBytes caps file reads so one tool result cannot blow up the
// model context.
const maxReadBytes = 256 * 1024

const openAppendFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND

func init() {
	tools.Register(tools.ToolDefinition{
		ID:          "read_file",
		Name:        "Read File",
		Description: "Read a file from a managed server",
		Category:    tools.CategoryFiles,
	}, NewReadFileTool)

	tools.Register(tools.ToolDefinition{
		ID:               "write_file",
		Name:             "Write File",
		Description:      "Write a file on a managed server",
		Category:         tools.CategoryFiles,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: tools.AlwaysApprove,
	}, NewWriteFileTool)

	tools.Register(tools.ToolDefinition{
		ID:          "list_dir",
		Name:        "List Directory",
		Description: "List a directory on a managed server",
		Category:    tools.CategoryFiles,
	}, NewListDirTool)
}

// ---- Read File Tool ----

type ReadFileInput struct {
	ServerID string `json:"server_id,omitempty"`
	Path     string `json:"path"`
}

func NewReadFileTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "read_file",
		Desc: "Read a text file from a managed server over SFTP. Large files are truncated.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"path":      {Type: schema.String, Required: true, Desc: "Absolute path of the file to read"},
		}),
	}, func(ctx context.Context, input *ReadFileInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if tc.Files == nil {
			return "Error: file access not configured", nil
		}

		client, release, err := tc.Files.OpenSFTP(ctx, serverID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		defer release()

		f, err := client.Open(input.Path)
		if err != nil {
			return fmt.Sprintf("Error: failed to open %s: %v", input.Path, err), nil
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
		if err != nil {
			return fmt.Sprintf("Error: failed to read %s: %v", input.Path, err), nil
		}

		truncated := false
		if len(data) > maxReadBytes {
			data = data[:maxReadBytes]
			truncated = true
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("File: %s (%s)\n\n", input.Path, tc.ServerName(serverID)))
		sb.Write(data)
		if truncated {
			sb.WriteString("\n\n[truncated]")
		}
		return sb.String(), nil
	})
}

// ---- Write File Tool ----

type WriteFileInput struct {
	ServerID string `json:"server_id,omitempty"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Append   bool   `json:"append,omitempty"`
}

func NewWriteFileTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "write_file",
		Desc: "Write content to a file on a managed server over SFTP. Creates the file if missing, overwrites by default.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"path":      {Type: schema.String, Required: true, Desc: "Absolute path of the file to write"},
			"content":   {Type: schema.String, Required: true, Desc: "File content"},
			"append":    {Type: schema.Boolean, Required: false, Desc: "Append instead of overwrite (default: false)"},
		}),
	}, func(ctx context.Context, input *WriteFileInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if tc.Files == nil {
			return "Error: file access not configured", nil
		}

		client, release, err := tc.Files.OpenSFTP(ctx, serverID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		defer release()

		flags := "w"
		if input.Append {
			flags = "a"
		}
		var f io.WriteCloser
		if input.Append {
			f, err = client.OpenFile(input.Path, openAppendFlags)
		} else {
			f, err = client.Create(input.Path)
		}
		if err != nil {
			return fmt.Sprintf("Error: failed to open %s for %q: %v", input.Path, flags, err), nil
		}

		n, err := f.Write([]byte(input.Content))
		closeErr := f.Close()
		if err != nil {
			return fmt.Sprintf("Error: failed to write %s: %v", input.Path, err), nil
		}
		if closeErr != nil {
			return fmt.Sprintf("Error: failed to close %s: %v", input.Path, closeErr), nil
		}

		return fmt.Sprintf("Wrote %d bytes to %s on %s", n, input.Path, tc.ServerName(serverID)), nil
	})
}

// ---- List Directory Tool ----

type ListDirInput struct {
	ServerID      string `json:"server_id,omitempty"`
	Path          string `json:"path"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
}

func NewListDirTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "list_dir",
		Desc: "List the entries of a directory on a managed server. Directories sort first.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id":      {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"path":           {Type: schema.String, Required: true, Desc: "Absolute directory path"},
			"include_hidden": {Type: schema.Boolean, Required: false, Desc: "Include dotfiles (default: false)"},
		}),
	}, func(ctx context.Context, input *ListDirInput) (string, error) {
		serverID, err := tc.ResolveServer(input.ServerID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if tc.Files == nil {
			return "Error: file access not configured", nil
		}

		client, release, err := tc.Files.OpenSFTP(ctx, serverID)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		defer release()

		infos, err := client.ReadDir(input.Path)
		if err != nil {
			return fmt.Sprintf("Error: failed to list %s: %v", input.Path, err), nil
		}

		type entry struct {
			name  string
			isDir bool
			size  int64
			mode  string
		}
		entries := make([]entry, 0, len(infos))
		for _, fi := range infos {
			name := fi.Name()
			if !input.IncludeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			entries = append(entries, entry{name: name, isDir: fi.IsDir(), size: fi.Size(), mode: fi.Mode().String()})
		}

		sort.Slice(entries, func(i, j int) bool {
			if entries[i].isDir != entries[j].isDir {
				return entries[i].isDir
			}
			return strings.ToLower(entries[i].name) < strings.ToLower(entries[j].name)
		})

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Directory: %s (%s)\n", input.Path, tc.ServerName(serverID)))
		for _, e := range entries {
			kind := "file"
			if e.isDir {
				kind = "dir"
			}
			sb.WriteString(fmt.Sprintf("%s  %-4s  %10d  %s\n", e.mode, kind, e.size, e.name))
		}
		if len(entries) == 0 {
			sb.WriteString("(empty)\n")
		}
		return sb.String(), nil
	})
}
